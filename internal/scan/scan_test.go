package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

func collectRecords(t *testing.T, s *PrimaryScanner) ([][]string, error) {
	t.Helper()
	var pages [][]string
	for page, err := range s.Pages(context.Background()) {
		if err != nil {
			return pages, err
		}
		ids := make([]string, len(page))
		for i, r := range page {
			ids[i] = r.ID
		}
		pages = append(pages, ids)
	}
	return pages, nil
}

func newScope(t *testing.T) *store.MockStore {
	t.Helper()
	st := store.NewMockStore()
	st.Put("S", store.RootID, "Container", nil)         // seq 1
	st.Put("a", "S", "Folder", nil)                     // seq 2
	st.Put("b", "S", "Item", nil)                       // seq 3
	st.Put("c", "a", "Item", nil)                       // seq 4
	st.Put(store.TrashedID, store.RootID, "Trash", nil) // seq 5
	st.Put("d", "c", "Item", nil)                       // seq 6
	return st
}

func TestPrimaryScanner_OrderedPagesAfterCheckpoint(t *testing.T) {
	st := newScope(t)
	s := NewPrimaryScanner(st, "S", true, 2, 2)

	pages, err := collectRecords(t, s)
	require.NoError(t, err)
	// The page {c, trashed} keeps c; sentinels are dropped.
	assert.Equal(t, [][]string{{"b", "c"}, {"d"}}, pages)

	seq, id := s.Position()
	assert.Equal(t, int64(6), seq)
	assert.Equal(t, "d", id)
	assert.Equal(t, 3, s.Scanned())
	assert.True(t, s.Ordered())
}

func TestPrimaryScanner_OrderedFromStart(t *testing.T) {
	st := newScope(t)
	s := NewPrimaryScanner(st, "S", true, 0, 1000)

	pages, err := collectRecords(t, s)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}}, pages)
}

func TestPrimaryScanner_OrderedSameSeqBoundary(t *testing.T) {
	st := store.NewMockStore()
	st.PutRow(store.RawRow{ID: "S", ParentID: store.RootID, CommitSeq: 1})
	for i := 0; i < 5; i++ {
		st.PutRow(store.RawRow{ID: fmt.Sprintf("x%d", i), ParentID: "S", CommitSeq: 7})
	}
	s := NewPrimaryScanner(st, "S", true, 0, 2)

	pages, err := collectRecords(t, s)
	require.NoError(t, err)
	var all []string
	for _, p := range pages {
		all = append(all, p...)
	}
	assert.Equal(t, []string{"x0", "x1", "x2", "x3", "x4"}, all)
}

func TestPrimaryScanner_TreeWalk(t *testing.T) {
	st := newScope(t)
	st.Put("other", store.RootID, "Container", nil)
	st.Put("z", "other", "Item", nil)
	s := NewPrimaryScanner(st, "S", false, 99, 1)

	pages, err := collectRecords(t, s)
	require.NoError(t, err)
	// Breadth-first, one level at a time; other scopes are not visited.
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}, {"d"}}, pages)
	assert.False(t, s.Ordered())

	seq, _ := s.Position()
	assert.Equal(t, int64(0), seq)
}

func TestPrimaryScanner_Error(t *testing.T) {
	st := newScope(t)
	boom := errors.New("connection lost")
	st.SetFailure("PageByParentIDs", boom)

	_, err := collectRecords(t, NewPrimaryScanner(st, "S", false, 0, 10))
	assert.ErrorIs(t, err, boom)
}

func TestPrimaryScanner_StopEarly(t *testing.T) {
	st := newScope(t)
	s := NewPrimaryScanner(st, "S", true, 0, 1)
	for range s.Pages(context.Background()) {
		break
	}
	// The first page only holds the scope itself and is not yielded.
	assert.Equal(t, 2, st.Calls("PageByCommitSeq"))
}

func collectIndex(t *testing.T, s *IndexScanner) ([]IndexPage, error) {
	t.Helper()
	var pages []IndexPage
	for page, err := range s.Pages(context.Background()) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func TestIndexScanner_ScrollsPartitionsSequentially(t *testing.T) {
	idx := search.NewMockIndex()
	for _, id := range []string{"a", "b", "c"} {
		idx.PutDoc("p1", search.Document{ID: id})
	}
	idx.PutDoc("p2", search.Document{ID: "z"})

	s := NewIndexScanner(idx, []string{"p1", "missing", "p2"}, IndexConfig{PageSize: 2})
	pages, err := collectIndex(t, s)
	require.NoError(t, err)
	assert.Equal(t, []IndexPage{
		{Partition: "p1", IDs: []string{"a", "b"}},
		{Partition: "p1", IDs: []string{"c"}},
		{Partition: "p2", IDs: []string{"z"}},
	}, pages)
	assert.Equal(t, 0, idx.OpenScrolls())
	assert.Empty(t, s.Degraded())
	assert.Equal(t, 4, s.Scanned())
}

func TestIndexScanner_TransportFailureDegradesPartition(t *testing.T) {
	idx := search.NewMockIndex()
	for _, id := range []string{"a", "b", "c", "d"} {
		idx.PutDoc("p1", search.Document{ID: id})
	}
	idx.PutDoc("p2", search.Document{ID: "z"})
	idx.FailScrollAfter("p1", 1, &search.ResponseError{Op: "scroll", Status: 503, Err: search.ErrTransport})

	reg := prometheus.NewRegistry()
	m := metrics.NewVacuumMetricsWithRegistry(reg)
	s := NewIndexScanner(idx, []string{"p1", "p2"}, IndexConfig{PageSize: 2, Metrics: m})

	pages, err := collectIndex(t, s)
	require.NoError(t, err)
	assert.Equal(t, []IndexPage{
		{Partition: "p1", IDs: []string{"a", "b"}},
		{Partition: "p2", IDs: []string{"z"}},
	}, pages)
	assert.Equal(t, []string{"p1"}, s.Degraded())
	assert.Equal(t, 0, idx.OpenScrolls())

	families, err := reg.Gather()
	require.NoError(t, err)
	var degraded float64
	for _, f := range families {
		if f.GetName() == "vacuum_degraded_partitions_total" {
			degraded = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), degraded)
}

func TestIndexScanner_PermanentScrollFailureEndsScan(t *testing.T) {
	idx := search.NewMockIndex()
	for _, id := range []string{"a", "b", "c"} {
		idx.PutDoc("p1", search.Document{ID: id})
	}
	idx.PutDoc("p2", search.Document{ID: "z"})
	boom := &search.ResponseError{Op: "scroll", Status: 400, Reason: "parse_exception"}
	idx.FailScrollAfter("p1", 1, boom)

	s := NewIndexScanner(idx, []string{"p1", "p2"}, IndexConfig{PageSize: 2})
	pages, err := collectIndex(t, s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []IndexPage{{Partition: "p1", IDs: []string{"a", "b"}}}, pages)
	assert.Empty(t, s.Degraded())
	assert.Equal(t, 0, idx.OpenScrolls())
}

func TestIndexScanner_OpenFailureEndsScan(t *testing.T) {
	idx := search.NewMockIndex()
	idx.PutDoc("p1", search.Document{ID: "a"})
	boom := &search.ResponseError{Op: "open scroll", Status: 500, Err: search.ErrTransport}
	idx.SetFailure("OpenScroll", boom)

	_, err := collectIndex(t, NewIndexScanner(idx, []string{"p1"}, IndexConfig{}))
	assert.ErrorIs(t, err, search.ErrTransport)
}
