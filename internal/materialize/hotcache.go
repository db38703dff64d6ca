package materialize

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dray-io/vacuum/internal/store"
)

// DefaultHotCacheSize is the default capacity of a HotCache.
const DefaultHotCacheSize = 10000

// HotCache is a process-wide cache of raw rows shared by every scope pass.
// It holds the rows of objects resolved as ancestors, which are read by many
// descendants and across passes.
//
// When full, an arbitrary entry is evicted to make room.
type HotCache struct {
	rows     *xsync.MapOf[string, store.RawRow]
	capacity int
}

// NewHotCache creates a HotCache holding at most capacity rows.
func NewHotCache(capacity int) *HotCache {
	if capacity <= 0 {
		capacity = DefaultHotCacheSize
	}
	return &HotCache{
		rows:     xsync.NewMapOf[string, store.RawRow](),
		capacity: capacity,
	}
}

// Get returns the cached row for id.
func (c *HotCache) Get(id string) (store.RawRow, bool) {
	return c.rows.Load(id)
}

// Put caches row, replacing an older copy. A cached row with a higher commit
// sequence is kept.
func (c *HotCache) Put(row store.RawRow) {
	if _, ok := c.rows.Load(row.ID); !ok && c.rows.Size() >= c.capacity {
		c.evictOne()
	}
	c.rows.Compute(row.ID, func(old store.RawRow, loaded bool) (store.RawRow, bool) {
		if loaded && old.CommitSeq > row.CommitSeq {
			return old, false
		}
		return row, false
	})
}

// Invalidate drops id from the cache.
func (c *HotCache) Invalidate(id string) {
	c.rows.Delete(id)
}

// Len returns the number of cached rows.
func (c *HotCache) Len() int {
	return c.rows.Size()
}

func (c *HotCache) evictOne() {
	c.rows.Range(func(id string, _ store.RawRow) bool {
		c.rows.Delete(id)
		return false
	})
}
