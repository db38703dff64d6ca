// Package materialize turns raw object rows into fully resolved objects
// ready to be written to the search index.
//
// An object's path and depth derive from its ancestors, so materializing an
// object resolves its whole ancestry. Resolved objects live in an id-keyed
// arena (a bounded LRU); an object refers to its parent by id only.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dray-io/vacuum/internal/codec"
	"github.com/dray-io/vacuum/internal/store"
)

// LRUSize is the capacity of the materialized object arena.
const LRUSize = 200

// DefaultScopeCacheSize is the default capacity of the per-pass row cache.
const DefaultScopeCacheSize = 10000

// MaxDepth bounds ancestry resolution.
const MaxDepth = 256

var (
	// ErrNotFound is returned when the object or one of its ancestors has no row.
	ErrNotFound = errors.New("materialize: not found")

	// ErrMalformedRecord is returned for undecodable state or broken ancestry.
	ErrMalformedRecord = errors.New("materialize: malformed record")
)

// Object is a materialized object.
type Object struct {
	ID         string
	ParentID   string
	TypeName   string
	Name       string
	Path       string
	CommitSeq  int64
	Depth      int
	Attributes map[string]any
}

// Body returns the indexable fields of the object.
func (o *Object) Body() map[string]any {
	body := make(map[string]any, len(o.Attributes)+4)
	for k, v := range o.Attributes {
		body[k] = v
	}
	body["type_name"] = o.TypeName
	body["title"] = o.Name
	body["path"] = o.Path
	body["depth"] = o.Depth
	return body
}

// Config configures a Materializer.
type Config struct {
	// ScopeCacheSize bounds the per-pass row cache. Default: 10000.
	ScopeCacheSize int
}

// Stats counts where lookups were answered.
type Stats struct {
	ObjectHits int64
	HotHits    int64
	ScopeHits  int64
	Loads      int64
}

// Materializer resolves objects for one scope pass.
//
// Lookups go through the object arena, then the process-wide HotCache, then
// the per-pass row cache, then the store. Safe for concurrent use.
type Materializer struct {
	store   store.Store
	hot     *HotCache
	objects *lru.Cache[string, *Object]
	rows    *lru.Cache[string, store.RawRow]

	objectHits atomic.Int64
	hotHits    atomic.Int64
	scopeHits  atomic.Int64
	loads      atomic.Int64
}

// New creates a Materializer. A nil hot cache gets a private one.
func New(st store.Store, hot *HotCache, cfg Config) *Materializer {
	if cfg.ScopeCacheSize <= 0 {
		cfg.ScopeCacheSize = DefaultScopeCacheSize
	}
	if hot == nil {
		hot = NewHotCache(0)
	}
	objects, _ := lru.New[string, *Object](LRUSize)
	rows, _ := lru.New[string, store.RawRow](cfg.ScopeCacheSize)
	return &Materializer{
		store:   st,
		hot:     hot,
		objects: objects,
		rows:    rows,
	}
}

// Materialize resolves id with whatever cached copy is available.
func (m *Materializer) Materialize(ctx context.Context, id string) (*Object, error) {
	return m.resolve(ctx, id, 0)
}

// MaterializeRecord resolves rec, ignoring cached copies older than
// rec.CommitSeq.
func (m *Materializer) MaterializeRecord(ctx context.Context, rec store.Record) (*Object, error) {
	return m.resolve(ctx, rec.ID, rec.CommitSeq)
}

// Stats returns lookup counters.
func (m *Materializer) Stats() Stats {
	return Stats{
		ObjectHits: m.objectHits.Load(),
		HotHits:    m.hotHits.Load(),
		ScopeHits:  m.scopeHits.Load(),
		Loads:      m.loads.Load(),
	}
}

func (m *Materializer) resolve(ctx context.Context, id string, minSeq int64) (*Object, error) {
	if obj, ok := m.objects.Get(id); ok && obj.CommitSeq >= minSeq {
		m.objectHits.Add(1)
		return obj, nil
	}

	// Walk up until the root or an ancestor already in the arena.
	var (
		chain []store.RawRow
		base  *Object
		seen  = make(map[string]struct{})
		cur   = id
		need  = minSeq
	)
	for {
		if _, ok := seen[cur]; ok {
			return nil, fmt.Errorf("%w: %s: ancestry cycle at %s", ErrMalformedRecord, id, cur)
		}
		if len(chain) >= MaxDepth {
			return nil, fmt.Errorf("%w: %s: ancestry deeper than %d", ErrMalformedRecord, id, MaxDepth)
		}
		seen[cur] = struct{}{}

		row, err := m.row(ctx, cur, need, len(chain) > 0)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s (resolving %s)", ErrNotFound, cur, id)
			}
			return nil, err
		}
		if row.ID != cur {
			return nil, fmt.Errorf("%w: %s: row id %q", ErrMalformedRecord, cur, row.ID)
		}
		chain = append(chain, row)

		parent := row.ParentID
		if parent == "" || parent == store.RootID {
			break
		}
		if obj, ok := m.objects.Get(parent); ok {
			m.objectHits.Add(1)
			base = obj
			break
		}
		cur, need = parent, 0
	}

	obj := base
	for i := len(chain) - 1; i >= 0; i-- {
		next, err := build(chain[i], obj)
		if err != nil {
			return nil, err
		}
		m.objects.Add(next.ID, next)
		obj = next
	}
	return obj, nil
}

// row returns the raw row of id. Rows loaded as ancestors are promoted into
// the HotCache.
func (m *Materializer) row(ctx context.Context, id string, minSeq int64, ancestor bool) (store.RawRow, error) {
	if row, ok := m.hot.Get(id); ok && row.CommitSeq >= minSeq {
		m.hotHits.Add(1)
		return row, nil
	}
	if row, ok := m.rows.Get(id); ok && row.CommitSeq >= minSeq {
		m.scopeHits.Add(1)
		if ancestor {
			m.hot.Put(row)
		}
		return row, nil
	}

	m.loads.Add(1)
	row, err := m.store.Load(ctx, id)
	if err != nil {
		return store.RawRow{}, err
	}
	if _, cached := m.hot.Get(id); ancestor || cached {
		m.hot.Put(row)
	} else {
		m.rows.Add(id, row)
	}
	return row, nil
}

func build(row store.RawRow, parent *Object) (*Object, error) {
	st, err := codec.Decode(row.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, row.ID, err)
	}
	name := st.Name
	if name == "" {
		name = row.ID
	}

	obj := &Object{
		ID:         row.ID,
		ParentID:   row.ParentID,
		TypeName:   row.TypeName,
		Name:       name,
		CommitSeq:  row.CommitSeq,
		Attributes: st.Attributes,
	}
	if parent == nil {
		obj.Path = "/" + name
		obj.Depth = 1
	} else {
		obj.Path = parent.Path + "/" + name
		obj.Depth = parent.Depth + 1
	}
	return obj, nil
}
