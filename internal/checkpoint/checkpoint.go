// Package checkpoint persists the last commit sequence reconciled for each
// scope, so that an ordered pass can resume where the previous one stopped.
//
// Saves are monotonic in every implementation: a checkpoint older than the
// stored one is ignored.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidScope is returned for an empty scope id.
	ErrInvalidScope = errors.New("checkpoint: invalid scope id")

	// ErrConflict is returned when a compare-and-set save keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("checkpoint: too many concurrent updates")
)

// Checkpoint is the resume position of one scope.
type Checkpoint struct {
	ScopeID       string    `json:"scope_id"`
	LastCommitSeq int64     `json:"last_commit_seq"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store loads and saves checkpoints.
type Store interface {
	// Load returns the checkpoint of scopeID. The bool is false when none
	// was saved yet.
	Load(ctx context.Context, scopeID string) (Checkpoint, bool, error)

	// Save stores cp unless a checkpoint with a higher LastCommitSeq is
	// already stored.
	Save(ctx context.Context, cp Checkpoint) error

	// Delete forgets the checkpoint of scopeID. Deleting a missing
	// checkpoint succeeds.
	Delete(ctx context.Context, scopeID string) error
}

func stamp(cp Checkpoint) (Checkpoint, error) {
	if cp.ScopeID == "" {
		return cp, ErrInvalidScope
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	return cp, nil
}

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]Checkpoint)}
}

func (m *MemoryStore) Load(_ context.Context, scopeID string) (Checkpoint, bool, error) {
	if scopeID == "" {
		return Checkpoint{}, false, ErrInvalidScope
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.cps[scopeID]
	return cp, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	cp, err := stamp(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cps[cp.ScopeID]; ok && cur.LastCommitSeq > cp.LastCommitSeq {
		return nil
	}
	m.cps[cp.ScopeID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, scopeID string) error {
	if scopeID == "" {
		return ErrInvalidScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, scopeID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
