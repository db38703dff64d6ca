// Package scan produces pages of ids from the object store and the search
// index. Pages are produced lazily as iter.Seq2 sequences; a consumer that
// stops early stops the underlying paging.
package scan

import (
	"context"
	"iter"
	"sync"

	"github.com/dray-io/vacuum/internal/store"
)

// PrimaryScanner pages the records of one scope.
//
// In ordered mode records are paged by (commitSeq, id) starting strictly after
// a checkpoint; this is only valid when the store holds exactly one scope.
// Otherwise the scope is walked breadth-first by parent id, which covers the
// whole scope on every pass and cannot be resumed.
type PrimaryScanner struct {
	store    store.Store
	scopeID  string
	ordered  bool
	after    int64
	pageSize int

	mu      sync.Mutex
	lastSeq int64
	lastID  string
	scanned int
}

// NewPrimaryScanner creates a scanner over scopeID. after is the checkpointed
// commit sequence; it is ignored unless ordered is set.
func NewPrimaryScanner(st store.Store, scopeID string, ordered bool, after int64, pageSize int) *PrimaryScanner {
	if pageSize <= 0 {
		pageSize = store.DefaultPageSize
	}
	if !ordered {
		after = 0
	}
	return &PrimaryScanner{
		store:    st,
		scopeID:  scopeID,
		ordered:  ordered,
		after:    after,
		pageSize: pageSize,
		lastSeq:  after,
	}
}

// Ordered reports whether the scanner pages by commit sequence.
func (s *PrimaryScanner) Ordered() bool {
	return s.ordered
}

// Position returns the commit sequence and id of the last record paged.
func (s *PrimaryScanner) Position() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, s.lastID
}

// Scanned returns the number of records yielded so far.
func (s *PrimaryScanner) Scanned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanned
}

// Pages yields non-empty pages of records. Sentinel ids and the scope itself
// are filtered out. The first error ends the sequence.
func (s *PrimaryScanner) Pages(ctx context.Context) iter.Seq2[[]store.Record, error] {
	if s.ordered {
		return s.orderedPages(ctx)
	}
	return s.treePages(ctx)
}

func (s *PrimaryScanner) orderedPages(ctx context.Context) iter.Seq2[[]store.Record, error] {
	return func(yield func([]store.Record, error) bool) {
		cursor := store.Cursor{Seq: s.after}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := s.store.PageByCommitSeq(ctx, s.scopeID, cursor, s.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			last := page[len(page)-1]
			cursor = store.Cursor{Seq: last.CommitSeq, ID: last.ID}

			records := s.filter(page)
			s.advance(last, len(records))
			if len(records) > 0 && !yield(records, nil) {
				return
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

func (s *PrimaryScanner) treePages(ctx context.Context) iter.Seq2[[]store.Record, error] {
	return func(yield func([]store.Record, error) bool) {
		frontier := []string{s.scopeID}
		for len(frontier) > 0 {
			var next []string
			for start := 0; start < len(frontier); start += s.pageSize {
				batch := frontier[start:min(start+s.pageSize, len(frontier))]
				afterID := ""
				for {
					if err := ctx.Err(); err != nil {
						yield(nil, err)
						return
					}
					page, err := s.store.PageByParentIDs(ctx, batch, afterID, s.pageSize)
					if err != nil {
						yield(nil, err)
						return
					}
					if len(page) == 0 {
						break
					}
					last := page[len(page)-1]
					afterID = last.ID
					for _, r := range page {
						next = append(next, r.ID)
					}

					records := s.filter(page)
					s.advance(last, len(records))
					if len(records) > 0 && !yield(records, nil) {
						return
					}
					if len(page) < s.pageSize {
						break
					}
				}
			}
			frontier = next
		}
	}
}

func (s *PrimaryScanner) filter(page []store.Record) []store.Record {
	out := make([]store.Record, 0, len(page))
	for _, r := range page {
		if store.IsSentinel(r.ID) || r.ID == s.scopeID {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *PrimaryScanner) advance(last store.Record, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ordered {
		s.lastSeq, s.lastID = last.CommitSeq, last.ID
	}
	s.scanned += n
}
