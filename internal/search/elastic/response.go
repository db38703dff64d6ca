package elastic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dray-io/vacuum/internal/search"
)

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

type hit struct {
	ID     string                     `json:"_id"`
	Index  string                     `json:"_index"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

type mappingResponse struct {
	Mappings struct {
		Meta struct {
			OwnerID     string `json:"owner_id"`
			OwnedPrefix string `json:"owned_prefix"`
		} `json:"_meta"`
	} `json:"mappings"`
}

type fieldMappingResponse struct {
	Mappings map[string]json.RawMessage `json:"mappings"`
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

func (r searchResponse) scrollPage() search.ScrollPage {
	ids := make([]string, len(r.Hits.Hits))
	for i, h := range r.Hits.Hits {
		ids[i] = h.ID
	}
	return search.ScrollPage{ScrollID: r.ScrollID, IDs: ids}
}

// document reads tid and parent_uuid from stored fields. A missing tid maps
// to search.UnknownVersion and a missing parent to search.MissingParent.
func (h hit) document() search.Document {
	doc := search.Document{
		ID:        h.ID,
		Version:   search.UnknownVersion,
		ParentID:  search.MissingParent,
		Partition: h.Index,
	}
	var versions []int64
	if raw, ok := h.Fields[FieldVersion]; ok && json.Unmarshal(raw, &versions) == nil && len(versions) > 0 {
		doc.Version = versions[0]
	}
	var parents []string
	if raw, ok := h.Fields[FieldParentID]; ok && json.Unmarshal(raw, &parents) == nil && len(parents) > 0 {
		doc.ParentID = parents[0]
	}
	return doc
}

func (r bulkResponse) result() search.BulkResult {
	var out search.BulkResult
	for _, item := range r.Items {
		for _, it := range item {
			if it.Error == nil && it.Status < 300 {
				out.Indexed++
				continue
			}
			f := search.BulkFailure{ID: it.ID, Status: it.Status}
			if it.Error != nil {
				f.Reason = it.Error.Type + ": " + it.Error.Reason
			}
			out.Failed = append(out.Failed, f)
		}
	}
	return out
}

// decode closes the response body, maps error responses to search errors and
// decodes a successful body into out when out is not nil.
func decode(op string, res *esapi.Response, err error, out any) error {
	if err != nil {
		return &search.ResponseError{Op: op, Reason: err.Error(), Err: search.ErrTransport}
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(op, res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("elastic: %s: %w: %v", op, search.ErrBadResponse, err)
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	var body errorResponse
	_ = json.NewDecoder(res.Body).Decode(&body)

	re := &search.ResponseError{Op: op, Status: res.StatusCode, Reason: body.Error.Reason}
	if body.Error.Type != "" {
		re.Reason = body.Error.Type + ": " + body.Error.Reason
	}
	switch {
	case body.Error.Type == "index_not_found_exception":
		re.Err = search.ErrIndexNotFound
	case body.Error.Type == "resource_already_exists_exception":
		re.Err = search.ErrAlreadyExists
	case body.Error.Type == "search_context_missing_exception":
		re.Err = search.ErrTransport
	case res.StatusCode >= http.StatusInternalServerError, res.StatusCode == http.StatusTooManyRequests:
		re.Err = search.ErrTransport
	}
	return re
}
