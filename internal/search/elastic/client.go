// Package elastic implements search.Index on Elasticsearch.
//
// Each scope has a primary index named <prefix><scope id>. Sub-indexes are
// named <primary>__<suffix> and carry their owner in the mapping _meta:
//
//	{"_meta": {"owner_id": "...", "owned_prefix": "..."}}
//
// Documents store the object id in "uuid", the commit sequence in "tid" and
// the parent id in "parent_uuid".
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/dray-io/vacuum/internal/search"
)

// Document field names.
const (
	FieldID       = "uuid"
	FieldVersion  = "tid"
	FieldParentID = "parent_uuid"
)

// Config configures the Elasticsearch client.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string

	// IndexPrefix is prepended to the scope id to name the primary index.
	IndexPrefix string

	// MaxRetries bounds transport retries. Zero uses the client default.
	MaxRetries   int
	DisableRetry bool

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client implements search.Index.
type Client struct {
	es     *elasticsearch.Client
	prefix string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
		Transport:    cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}
	return &Client{es: es, prefix: cfg.IndexPrefix}, nil
}

// PrimaryIndex returns the primary index name of a scope.
func (c *Client) PrimaryIndex(scopeID string) string {
	return c.prefix + strings.ToLower(scopeID)
}

// Partitions returns the primary index and every installed sub-index.
func (c *Client) Partitions(ctx context.Context, scopeID string) (search.Partitions, error) {
	subs, err := c.InstalledSubIndexes(ctx, scopeID)
	if err != nil {
		return search.Partitions{}, err
	}
	return search.Partitions{Primary: c.PrimaryIndex(scopeID), Sub: subs}, nil
}

// InstalledSubIndexes lists the sub-indexes of a scope from their mapping _meta.
func (c *Client) InstalledSubIndexes(ctx context.Context, scopeID string) ([]search.SubIndex, error) {
	pattern := c.PrimaryIndex(scopeID) + "__*"
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(pattern),
		c.es.Indices.GetMapping.WithAllowNoIndices(true),
		c.es.Indices.GetMapping.WithIgnoreUnavailable(true),
	)
	var mappings map[string]mappingResponse
	if err := decode("get mapping", res, err, &mappings); err != nil {
		if errors.Is(err, search.ErrIndexNotFound) {
			return nil, nil
		}
		return nil, err
	}

	subs := make([]search.SubIndex, 0, len(mappings))
	for index, m := range mappings {
		meta := m.Mappings.Meta
		prefix := meta.OwnedPrefix
		if prefix == "" {
			prefix = ownerPrefix(meta.OwnerID)
		}
		subs = append(subs, search.SubIndex{Index: index, OwnerID: meta.OwnerID, Prefix: prefix})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Index < subs[j].Index })
	return subs, nil
}

// OpenScroll starts a scroll sorted by _doc without _source.
func (c *Client) OpenScroll(ctx context.Context, partition string, size int, keepAlive time.Duration) (search.ScrollPage, error) {
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(partition),
		c.es.Search.WithScroll(keepAlive),
		c.es.Search.WithSize(size),
		c.es.Search.WithSort("_doc"),
		c.es.Search.WithSource("false"),
	)
	var out searchResponse
	if err := decode("open scroll", res, err, &out); err != nil {
		return search.ScrollPage{}, err
	}
	return out.scrollPage(), nil
}

// ContinueScroll fetches the next scroll page.
func (c *Client) ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (search.ScrollPage, error) {
	body, err := jsonBody(map[string]any{"scroll_id": scrollID, "scroll": formatKeepAlive(keepAlive)})
	if err != nil {
		return search.ScrollPage{}, err
	}
	res, err := c.es.Scroll(
		c.es.Scroll.WithContext(ctx),
		c.es.Scroll.WithBody(body),
	)
	var out searchResponse
	if err := decode("scroll", res, err, &out); err != nil {
		return search.ScrollPage{}, err
	}
	return out.scrollPage(), nil
}

// ClearScroll releases a scroll context. Expired contexts are not an error.
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	body, err := jsonBody(map[string]any{"scroll_id": []string{scrollID}})
	if err != nil {
		return err
	}
	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithBody(body),
	)
	if err := decode("clear scroll", res, err, nil); err != nil && !errors.Is(err, search.ErrIndexNotFound) {
		var re *search.ResponseError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// SearchByIDs runs a terms query on uuid and reads tid and parent_uuid from
// stored fields.
func (c *Client) SearchByIDs(ctx context.Context, partitions []string, ids []string) ([]search.Document, error) {
	if len(ids) == 0 || len(partitions) == 0 {
		return nil, nil
	}
	body, err := jsonBody(map[string]any{
		"query": map[string]any{"terms": map[string]any{FieldID: ids}},
	})
	if err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(partitions...),
		c.es.Search.WithBody(body),
		// An id may exist once in every partition.
		c.es.Search.WithSize(len(ids)*len(partitions)),
		c.es.Search.WithSource("false"),
		c.es.Search.WithStoredFields(FieldVersion, FieldParentID),
		c.es.Search.WithIgnoreUnavailable(true),
	)
	var out searchResponse
	if err := decode("search by ids", res, err, &out); err != nil {
		return nil, err
	}

	docs := make([]search.Document, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		docs = append(docs, h.document())
	}
	return docs, nil
}

// DeleteByIDs deletes ids with _delete_by_query and returns the deleted count.
func (c *Client) DeleteByIDs(ctx context.Context, partition string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	body, err := jsonBody(map[string]any{
		"query": map[string]any{"terms": map[string]any{"_id": ids}},
	})
	if err != nil {
		return 0, err
	}
	res, err := c.es.DeleteByQuery(
		[]string{partition},
		body,
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	var out struct {
		Deleted *int `json:"deleted"`
	}
	if err := decode("delete by query", res, err, &out); err != nil {
		return 0, err
	}
	if out.Deleted == nil {
		return 0, fmt.Errorf("elastic: delete by query: %w: no deleted count", search.ErrBadResponse)
	}
	return *out.Deleted, nil
}

// BulkIndex writes documents with one _bulk request.
func (c *Client) BulkIndex(ctx context.Context, docs []search.IndexRequest) (search.BulkResult, error) {
	if len(docs) == 0 {
		return search.BulkResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		action := map[string]any{"index": map[string]any{"_index": d.Partition, "_id": d.ID}}
		if err := enc.Encode(action); err != nil {
			return search.BulkResult{}, fmt.Errorf("elastic: encode bulk action: %w", err)
		}
		if err := enc.Encode(documentBody(d)); err != nil {
			return search.BulkResult{}, fmt.Errorf("elastic: encode bulk document %s: %w", d.ID, err)
		}
	}

	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx))
	var out bulkResponse
	if err := decode("bulk", res, err, &out); err != nil {
		return search.BulkResult{}, err
	}
	return out.result(), nil
}

// EnsurePartitionAid makes uuid a keyword and stores tid and parent_uuid.
// Returns search.ErrAlreadyExists when the mapping already has the fields.
func (c *Client) EnsurePartitionAid(ctx context.Context, partition string) error {
	res, err := c.es.Indices.GetFieldMapping(
		[]string{FieldID, FieldVersion, FieldParentID},
		c.es.Indices.GetFieldMapping.WithContext(ctx),
		c.es.Indices.GetFieldMapping.WithIndex(partition),
	)
	var fields map[string]fieldMappingResponse
	if err := decode("get field mapping", res, err, &fields); err != nil {
		return err
	}
	if m, ok := fields[partition]; ok && len(m.Mappings) == 3 {
		return search.ErrAlreadyExists
	}

	body, err := jsonBody(map[string]any{
		"properties": map[string]any{
			FieldID:       map[string]any{"type": "keyword"},
			FieldVersion:  map[string]any{"type": "long", "store": true},
			FieldParentID: map[string]any{"type": "keyword", "store": true},
		},
	})
	if err != nil {
		return err
	}
	res, err = c.es.Indices.PutMapping(
		[]string{partition},
		body,
		c.es.Indices.PutMapping.WithContext(ctx),
	)
	return decode("put mapping", res, err, nil)
}

// Ping verifies the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	return decode("ping", res, err, nil)
}

// DropIndex deletes an index. A missing index is not an error.
func (c *Client) DropIndex(ctx context.Context, index string) error {
	res, err := c.es.Indices.Delete(
		[]string{index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err := decode("delete index", res, err, nil); err != nil && !errors.Is(err, search.ErrIndexNotFound) {
		return err
	}
	return nil
}

func documentBody(d search.IndexRequest) map[string]any {
	body := make(map[string]any, len(d.Body)+3)
	for k, v := range d.Body {
		body[k] = v
	}
	body[FieldID] = d.ID
	body[FieldVersion] = d.Version
	body[FieldParentID] = d.ParentID
	return body
}

// ownerPrefix derives the owned id prefix from an owner id of the form
// "<prefix>|<suffix>".
func ownerPrefix(ownerID string) string {
	i := strings.LastIndex(ownerID, "|")
	if i < 0 {
		return ""
	}
	return ownerID[:i]
}

// formatKeepAlive renders d in Elasticsearch time units.
func formatKeepAlive(d time.Duration) string {
	if d%time.Minute == 0 {
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

func jsonBody(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("elastic: encode body: %w", err)
	}
	return bytes.NewReader(data), nil
}

var _ search.Index = (*Client)(nil)
