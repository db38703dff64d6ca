package oxia

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dray-io/vacuum/internal/metadata"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "vacuum/test"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648"},
			wantErr: "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{"a", "b"},
		{"abc", "abd"},
		{"/vacuum/v1/checkpoints/", "/vacuum/v1/checkpoints0"},
		{string([]byte{0xFF}), ""},
		{string([]byte{0x00, 0xFF}), string([]byte{0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := prefixEnd(tt.prefix); got != tt.want {
				t.Errorf("prefixEnd(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestVersionConversion(t *testing.T) {
	if v := toMetadataVersion(0); v != 1 {
		t.Errorf("toMetadataVersion(0) = %d, want 1", v)
	}
	if v := toOxiaVersion(metadata.Version(5)); v != 4 {
		t.Errorf("toOxiaVersion(5) = %d, want 4", v)
	}
}

func TestClosedStore(t *testing.T) {
	s := &Store{closed: true}
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Get: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.Put(ctx, "k", nil); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Put: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.PutEphemeral(ctx, "k", nil); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("PutEphemeral: expected ErrStoreClosed, got %v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Delete: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.List(ctx, "/", "", 0); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("List: expected ErrStoreClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close of closed store: %v", err)
	}
}
