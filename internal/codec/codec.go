// Package codec decodes the persisted state of object rows.
//
// A state blob is a JSON object {"name": ..., "attributes": {...}}. It may be
// prefixed with a single compression marker byte; a blob that starts with '{'
// is read as plain JSON.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the framing of a state blob.
type Compression byte

// Compression markers.
const (
	CompressionNone   Compression = 0x00
	CompressionGzip   Compression = 0x01
	CompressionSnappy Compression = 0x02
	CompressionLz4    Compression = 0x03
	CompressionZstd   Compression = 0x04
)

// ErrMalformed is returned when a state blob cannot be decoded.
var ErrMalformed = errors.New("codec: malformed state")

// maxStateSize bounds decompressed state.
const maxStateSize = 64 << 20

// State is the decoded payload of an object row.
type State struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decode decodes a state blob. An empty blob decodes to the zero State.
func Decode(data []byte) (State, error) {
	if len(data) == 0 {
		return State{}, nil
	}

	payload := data
	if data[0] != '{' {
		var err error
		payload, err = decompress(data[1:], Compression(data[0]))
		if err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	var st State
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return st, nil
}

// Encode serializes st and frames it with c.
func Encode(st State, c Compression) ([]byte, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal state: %w", err)
	}

	var body []byte
	switch c {
	case CompressionNone:
		body = payload

	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		body = buf.Bytes()

	case CompressionSnappy:
		body = snappy.Encode(nil, payload)

	case CompressionLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		body = buf.Bytes()

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		body = enc.EncodeAll(payload, nil)
		enc.Close()

	default:
		return nil, fmt.Errorf("codec: unsupported compression type: %d", c)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(c))
	return append(out, body...), nil
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		return readBounded(reader)

	case CompressionSnappy:
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, err
		}
		if n > maxStateSize {
			return nil, fmt.Errorf("state exceeds %d bytes", maxStateSize)
		}
		return snappy.Decode(nil, data)

	case CompressionLz4:
		return readBounded(lz4.NewReader(bytes.NewReader(data)))

	case CompressionZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer decoder.Close()
		return readBounded(decoder)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", c)
	}
}

func readBounded(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxStateSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxStateSize {
		return nil, fmt.Errorf("state exceeds %d bytes", maxStateSize)
	}
	return out, nil
}
