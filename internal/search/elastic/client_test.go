package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/vacuum/internal/search"
)

// fakeES answers the handful of endpoints used by Client.
type fakeES struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request, body []byte)
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Body   string
}

func newFakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) (*Client, *fakeES) {
	t.Helper()
	f := &fakeES{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		f.mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		f.handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Addresses: []string{srv.URL}, IndexPrefix: "vac-", DisableRetry: true})
	require.NoError(t, err)
	return c, f
}

func (f *fakeES) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_OpenAndContinueScroll(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch {
		case r.URL.Path == "/vac-site/_search":
			writeJSON(w, 200, map[string]any{
				"_scroll_id": "s1",
				"hits":       map[string]any{"hits": []map[string]any{{"_id": "a"}, {"_id": "b"}}},
			})
		case r.URL.Path == "/_search/scroll":
			writeJSON(w, 200, map[string]any{
				"_scroll_id": "s2",
				"hits":       map[string]any{"hits": []map[string]any{}},
			})
		default:
			writeJSON(w, 400, map[string]any{})
		}
	})
	ctx := context.Background()

	page, err := c.OpenScroll(ctx, c.PrimaryIndex("SITE"), 1000, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "s1", page.ScrollID)
	assert.Equal(t, []string{"a", "b"}, page.IDs)
	q := f.last().Query
	assert.Contains(t, q, "scroll=")
	assert.Contains(t, q, "sort=_doc")
	assert.Contains(t, q, "_source=false")

	page, err = c.ContinueScroll(ctx, "s1", 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, page.IDs)
	assert.Contains(t, f.last().Body, `"scroll_id":"s1"`)
	assert.Contains(t, f.last().Body, `"scroll":"5m"`)
}

func TestClient_ScrollErrors(t *testing.T) {
	c, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch r.URL.Path {
		case "/missing/_search":
			writeJSON(w, 404, map[string]any{"error": map[string]any{"type": "index_not_found_exception", "reason": "no such index"}, "status": 404})
		default:
			writeJSON(w, 503, map[string]any{"error": map[string]any{"type": "unavailable", "reason": "busy"}, "status": 503})
		}
	})
	ctx := context.Background()

	_, err := c.OpenScroll(ctx, "missing", 10, time.Minute)
	assert.ErrorIs(t, err, search.ErrIndexNotFound)

	_, err = c.ContinueScroll(ctx, "s1", time.Minute)
	assert.ErrorIs(t, err, search.ErrTransport)
	var re *search.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 503, re.Status)
}

func TestClient_ContinueScrollTransience(t *testing.T) {
	status := 404
	c, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if status == 404 {
			writeJSON(w, 404, map[string]any{"error": map[string]any{"type": "search_context_missing_exception", "reason": "No search context found"}, "status": 404})
			return
		}
		writeJSON(w, 400, map[string]any{"error": map[string]any{"type": "illegal_argument_exception", "reason": "bad scroll id"}, "status": 400})
	})
	ctx := context.Background()

	_, err := c.ContinueScroll(ctx, "expired", time.Minute)
	assert.True(t, search.IsTransient(err), "expired scroll should be transient: %v", err)

	status = 400
	_, err = c.ContinueScroll(ctx, "garbage", time.Minute)
	require.Error(t, err)
	assert.False(t, search.IsTransient(err), "bad request should not be transient: %v", err)
}

func TestClient_SearchByIDs(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 200, map[string]any{
			"hits": map[string]any{"hits": []map[string]any{
				{"_id": "a", "_index": "vac-site", "fields": map[string]any{"tid": []int64{7}, "parent_uuid": []string{"R"}}},
				{"_id": "b", "_index": "vac-site__x"},
			}},
		})
	})

	docs, err := c.SearchByIDs(context.Background(), []string{"vac-site", "vac-site__x"}, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, search.Document{ID: "a", Version: 7, ParentID: "R", Partition: "vac-site"}, docs[0])
	assert.Equal(t, search.UnknownVersion, docs[1].Version)
	assert.Equal(t, search.MissingParent, docs[1].ParentID)

	req := f.last()
	assert.Equal(t, "/vac-site,vac-site__x/_search", req.Path)
	assert.Contains(t, req.Query, "stored_fields=tid%2Cparent_uuid")
	assert.Contains(t, req.Query, "size=4")
	assert.Contains(t, req.Body, `"terms":{"uuid":["a","b"]}`)
}

func TestClient_DeleteByIDs(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 200, map[string]any{"deleted": 1})
	})

	n, err := c.DeleteByIDs(context.Background(), "vac-site", []string{"d", "e"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	req := f.last()
	assert.Equal(t, "/vac-site/_delete_by_query", req.Path)
	assert.Contains(t, req.Body, `"_id":["d","e"]`)
}

func TestClient_DeleteByIDsBadResponse(t *testing.T) {
	c, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 200, map[string]any{"took": 3})
	})
	_, err := c.DeleteByIDs(context.Background(), "vac-site", []string{"d"})
	assert.ErrorIs(t, err, search.ErrBadResponse)
}

func TestClient_BulkIndex(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 200, map[string]any{
			"errors": true,
			"items": []map[string]any{
				{"index": map[string]any{"_id": "a", "status": 201}},
				{"index": map[string]any{"_id": "b", "status": 400, "error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad"}}},
			},
		})
	})

	res, err := c.BulkIndex(context.Background(), []search.IndexRequest{
		{Partition: "vac-site", ID: "a", Version: 3, ParentID: "R", Body: map[string]any{"title": "A"}},
		{Partition: "vac-site", ID: "b", Version: 4, ParentID: "R"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b", res.Failed[0].ID)
	assert.Contains(t, res.Failed[0].Reason, "mapper_parsing_exception")

	lines := strings.Split(strings.TrimSpace(f.last().Body), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_index":"vac-site","_id":"a"}}`, lines[0])
	assert.JSONEq(t, `{"title":"A","uuid":"a","tid":3,"parent_uuid":"R"}`, lines[1])
}

func TestClient_InstalledSubIndexes(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 200, map[string]any{
			"vac-site__b": map[string]any{"mappings": map[string]any{"_meta": map[string]any{"owner_id": "B1|x"}}},
			"vac-site__a": map[string]any{"mappings": map[string]any{"_meta": map[string]any{"owner_id": "A0", "owned_prefix": "A"}}},
		})
	})

	p, err := c.Partitions(context.Background(), "site")
	require.NoError(t, err)
	assert.Equal(t, "vac-site", p.Primary)
	assert.Equal(t, []search.SubIndex{
		{Index: "vac-site__a", OwnerID: "A0", Prefix: "A"},
		{Index: "vac-site__b", OwnerID: "B1|x", Prefix: "B1"},
	}, p.Sub)
	assert.Equal(t, "/vac-site__*/_mapping", f.last().Path)
}

func TestClient_EnsurePartitionAid(t *testing.T) {
	installed := false
	c, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch r.Method {
		case http.MethodGet:
			mappings := map[string]any{}
			if installed {
				mappings = map[string]any{"uuid": map[string]any{}, "tid": map[string]any{}, "parent_uuid": map[string]any{}}
			}
			writeJSON(w, 200, map[string]any{"vac-site": map[string]any{"mappings": mappings}})
		case http.MethodPut:
			installed = true
			writeJSON(w, 200, map[string]any{"acknowledged": true})
		}
	})
	ctx := context.Background()

	require.NoError(t, c.EnsurePartitionAid(ctx, "vac-site"))
	assert.ErrorIs(t, c.EnsurePartitionAid(ctx, "vac-site"), search.ErrAlreadyExists)
}

func TestClient_DropIndexIgnoresMissing(t *testing.T) {
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, 404, map[string]any{"error": map[string]any{"type": "index_not_found_exception"}, "status": 404})
	})
	require.NoError(t, c.DropIndex(context.Background(), "vac-site__gone"))
	assert.Equal(t, http.MethodDelete, f.last().Method)
}

func TestClient_Ping(t *testing.T) {
	var down atomic.Bool
	c, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if !down.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, http.MethodHead, f.last().Method)
	assert.Equal(t, "/", f.last().Path)

	down.Store(true)
	err := c.Ping(ctx)
	var re *search.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusServiceUnavailable, re.Status)
}

func TestFormatKeepAlive(t *testing.T) {
	assert.Equal(t, "15m", formatKeepAlive(15*time.Minute))
	assert.Equal(t, "1500ms", formatKeepAlive(1500*time.Millisecond))
}

func TestOwnerPrefix(t *testing.T) {
	assert.Equal(t, "a|b", ownerPrefix("a|b|c"))
	assert.Equal(t, "", ownerPrefix("abc"))
}
