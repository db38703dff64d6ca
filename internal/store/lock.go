package store

import (
	"context"
	"sync"
)

// scopeLocked serializes point queries issued during one scope pass.
// The scope's connection is not reentrant for concurrent cursor use, so the
// orphan and staleness checks share one lock around their point queries.
// Paging calls are passed through: each page fetch owns its connection.
type scopeLocked struct {
	Store
	mu sync.Mutex
}

// WithScopeLock wraps s so ListScopes, ExistsByIDs, Load and EnsureScanIndex
// never run concurrently with each other on the returned value.
func WithScopeLock(s Store) Store {
	return &scopeLocked{Store: s}
}

func (l *scopeLocked) ListScopes(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Store.ListScopes(ctx)
}

func (l *scopeLocked) ExistsByIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Store.ExistsByIDs(ctx, ids)
}

func (l *scopeLocked) Load(ctx context.Context, id string) (RawRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Store.Load(ctx, id)
}

func (l *scopeLocked) EnsureScanIndex(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Store.EnsureScanIndex(ctx)
}
