package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_PageByCommitSeqCursor(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	m.Put("scope", RootID, "Container", nil)
	m.Put("a", "scope", "Item", nil)
	m.PutRow(RawRow{ID: "b", ParentID: "scope", CommitSeq: 3})
	m.PutRow(RawRow{ID: "c", ParentID: "scope", CommitSeq: 3})

	page, err := m.PageByCommitSeq(ctx, "scope", Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, []string{"scope", "a", "b", "c"}, ids(page))

	page, err = m.PageByCommitSeq(ctx, "scope", Cursor{Seq: 3, ID: "b"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(page))

	page, err = m.PageByCommitSeq(ctx, "scope", Cursor{Seq: 2}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(page))
}

func TestMockStore_ListScopesAndExists(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	m.Put("s2", RootID, "Container", nil)
	m.Put("s1", RootID, "Container", nil)
	m.Put("x", "s1", "Item", nil)

	scopes, err := m.ListScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, scopes)

	found, err := m.ExistsByIDs(ctx, []string{"x", "gone"})
	require.NoError(t, err)
	assert.Contains(t, found, "x")
	assert.NotContains(t, found, "gone")

	_, err = m.Load(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_EnsureScanIndexReportsRace(t *testing.T) {
	m := NewMockStore()
	require.NoError(t, m.EnsureScanIndex(context.Background()))
	assert.ErrorIs(t, m.EnsureScanIndex(context.Background()), ErrAlreadyExists)
}

func TestMockStore_Failures(t *testing.T) {
	m := NewMockStore()
	boom := errors.New("boom")
	m.SetFailure("ExistsByIDs", boom)

	_, err := m.ExistsByIDs(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.Calls("ExistsByIDs"))

	m.SetFailure("ExistsByIDs", nil)
	_, err = m.ExistsByIDs(context.Background(), []string{"a"})
	assert.NoError(t, err)
}

// slowStore records the maximum number of concurrent ExistsByIDs calls.
type slowStore struct {
	*MockStore
	active, peak atomic.Int32
}

func (s *slowStore) ExistsByIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return s.MockStore.ExistsByIDs(ctx, ids)
}

func TestWithScopeLock_SerializesPointQueries(t *testing.T) {
	inner := &slowStore{MockStore: NewMockStore()}
	locked := WithScopeLock(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = locked.ExistsByIDs(context.Background(), []string{"a"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.peak.Load())
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
