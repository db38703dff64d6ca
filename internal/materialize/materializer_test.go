package materialize

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/vacuum/internal/codec"
	"github.com/dray-io/vacuum/internal/store"
)

func state(t *testing.T, name string) []byte {
	t.Helper()
	data, err := codec.Encode(codec.State{Name: name, Attributes: map[string]any{"k": name}}, codec.CompressionSnappy)
	require.NoError(t, err)
	return data
}

func newTree(t *testing.T) *store.MockStore {
	t.Helper()
	st := store.NewMockStore()
	st.Put("S", store.RootID, "Container", state(t, "site"))
	st.Put("F", "S", "Folder", state(t, "docs"))
	st.Put("I", "F", "Item", state(t, "readme"))
	return st
}

func TestMaterializer_ResolvesAncestry(t *testing.T) {
	st := newTree(t)
	m := New(st, nil, Config{})

	obj, err := m.Materialize(context.Background(), "I")
	require.NoError(t, err)
	assert.Equal(t, "/site/docs/readme", obj.Path)
	assert.Equal(t, 3, obj.Depth)
	assert.Equal(t, "F", obj.ParentID)
	assert.Equal(t, "Item", obj.TypeName)
	assert.Equal(t, "readme", obj.Attributes["k"])

	loads := m.Stats().Loads
	parent, err := m.Materialize(context.Background(), obj.ParentID)
	require.NoError(t, err)
	assert.Equal(t, "/site/docs", parent.Path)
	assert.Equal(t, loads, m.Stats().Loads, "ancestors should be resolved from the arena")

	body := obj.Body()
	assert.Equal(t, "readme", body["title"])
	assert.Equal(t, 3, body["depth"])
}

func TestMaterializer_LookupOrder(t *testing.T) {
	st := newTree(t)
	hot := NewHotCache(100)
	m := New(st, hot, Config{})
	ctx := context.Background()

	_, err := m.Materialize(ctx, "I")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Calls("Load"))
	// Ancestors are promoted, the leaf is not.
	_, ok := hot.Get("F")
	assert.True(t, ok)
	_, ok = hot.Get("I")
	assert.False(t, ok)

	_, err = m.Materialize(ctx, "I")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Calls("Load"))
	assert.Equal(t, int64(1), m.Stats().ObjectHits)

	// A second pass shares the hot cache but not the arena.
	m2 := New(st, hot, Config{})
	_, err = m2.Materialize(ctx, "I")
	require.NoError(t, err)
	assert.Equal(t, 4, st.Calls("Load"))
	assert.Equal(t, int64(2), m2.Stats().HotHits)
}

func TestMaterializer_RecordNewerThanCache(t *testing.T) {
	st := newTree(t)
	m := New(st, nil, Config{})
	ctx := context.Background()

	obj, err := m.Materialize(ctx, "I")
	require.NoError(t, err)
	assert.Equal(t, "/site/docs/readme", obj.Path)

	seq := st.Put("I", "F", "Item", state(t, "renamed"))
	obj, err = m.MaterializeRecord(ctx, store.Record{ID: "I", ParentID: "F", CommitSeq: seq})
	require.NoError(t, err)
	assert.Equal(t, "/site/docs/renamed", obj.Path)
	assert.Equal(t, seq, obj.CommitSeq)
}

func TestMaterializer_NotFound(t *testing.T) {
	st := newTree(t)
	m := New(st, nil, Config{})
	ctx := context.Background()

	_, err := m.Materialize(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	st.Put("orphan", "deleted-parent", "Item", nil)
	_, err = m.Materialize(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaterializer_Malformed(t *testing.T) {
	st := newTree(t)
	m := New(st, nil, Config{})
	ctx := context.Background()

	st.Put("bad", "S", "Item", []byte{0x09, 0x01})
	_, err := m.Materialize(ctx, "bad")
	assert.ErrorIs(t, err, ErrMalformedRecord)

	st.Put("x", "y", "Item", nil)
	st.Put("y", "x", "Item", nil)
	_, err = m.Materialize(ctx, "x")
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestMaterializer_TooDeep(t *testing.T) {
	st := store.NewMockStore()
	parent := store.RootID
	for i := 0; i <= MaxDepth; i++ {
		id := fmt.Sprintf("n%03d", i)
		st.Put(id, parent, "Folder", nil)
		parent = id
	}
	m := New(st, nil, Config{})
	_, err := m.Materialize(context.Background(), parent)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestMaterializer_EmptyStateUsesID(t *testing.T) {
	st := store.NewMockStore()
	st.Put("S", store.RootID, "Container", nil)
	m := New(st, nil, Config{})

	obj, err := m.Materialize(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, "S", obj.Name)
	assert.Equal(t, "/S", obj.Path)
}

func TestMaterializer_LoadErrorPassesThrough(t *testing.T) {
	st := newTree(t)
	boom := errors.New("connection reset")
	st.SetLoadError("F", boom)
	m := New(st, nil, Config{})

	_, err := m.Materialize(context.Background(), "I")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHotCache_BoundedAndMonotonic(t *testing.T) {
	c := NewHotCache(2)
	c.Put(store.RawRow{ID: "a", CommitSeq: 5})
	c.Put(store.RawRow{ID: "a", CommitSeq: 3})
	row, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(5), row.CommitSeq)

	c.Put(store.RawRow{ID: "b", CommitSeq: 1})
	c.Put(store.RawRow{ID: "c", CommitSeq: 1})
	assert.Equal(t, 2, c.Len())

	c.Invalidate("c")
	_, ok = c.Get("c")
	assert.False(t, ok)
}
