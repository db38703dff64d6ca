// Package lease keeps at most one vacuum process working on a scope.
//
// A lease is an ephemeral key at /vacuum/v1/leases/<scopeID>. Ephemeral keys
// are bound to the holder's metadata session, so the lease of a crashed
// process disappears once its session times out.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/vacuum/internal/metadata"
	"github.com/dray-io/vacuum/internal/metadata/keys"
)

var (
	// ErrInvalidScope is returned for an empty scope id.
	ErrInvalidScope = errors.New("lease: invalid scope id")

	// ErrVanished is returned when a conflicting lease disappears before
	// its holder could be read. Callers may retry.
	ErrVanished = errors.New("lease: lease vanished during acquisition")
)

// Lease is the value stored at a lease key.
type Lease struct {
	ScopeID      string `json:"scopeId"`
	HolderID     string `json:"holderId"`
	AcquiredAtMs int64  `json:"acquiredAtMs"`
	PassID       string `json:"passId,omitempty"`
}

// AcquireResult reports the outcome of Acquire.
type AcquireResult struct {
	// Acquired is true when this manager now holds the lease.
	Acquired bool

	// Lease is our lease when Acquired, otherwise the current holder's.
	Lease *Lease
}

// Manager acquires and releases scope leases for one process.
type Manager struct {
	meta     metadata.MetadataStore
	holderID string

	mu   sync.Mutex
	held map[string]*Lease
}

// NewManager returns a Manager. An empty holderID gets a random one.
func NewManager(meta metadata.MetadataStore, holderID string) *Manager {
	if holderID == "" {
		holderID = uuid.NewString()
	}
	return &Manager{
		meta:     meta,
		holderID: holderID,
		held:     make(map[string]*Lease),
	}
}

// HolderID identifies this manager in lease values.
func (m *Manager) HolderID() string {
	return m.holderID
}

// Acquire takes the lease of scopeID for a pass. A lease this manager
// already holds is renewed with a version check.
func (m *Manager) Acquire(ctx context.Context, scopeID, passID string) (*AcquireResult, error) {
	if scopeID == "" {
		return nil, ErrInvalidScope
	}
	key := keys.LeaseKeyPath(scopeID)

	cur, err := m.meta.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lease: get %s: %w", scopeID, err)
	}

	l := &Lease{
		ScopeID:      scopeID,
		HolderID:     m.holderID,
		AcquiredAtMs: time.Now().UnixMilli(),
		PassID:       passID,
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("lease: marshal: %w", err)
	}

	var opt metadata.EphemeralOption
	if cur.Exists {
		existing, err := decode(cur.Value)
		if err != nil {
			return nil, err
		}
		if existing.HolderID != m.holderID {
			return &AcquireResult{Lease: existing}, nil
		}
		opt = metadata.WithEphemeralExpectedVersion(cur.Version)
	} else {
		opt = metadata.WithEphemeralExpectNotExists()
	}

	if _, err := m.meta.PutEphemeral(ctx, key, data, opt); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return m.conflict(ctx, key)
		}
		return nil, fmt.Errorf("lease: put %s: %w", scopeID, err)
	}

	m.mu.Lock()
	m.held[scopeID] = l
	m.mu.Unlock()
	return &AcquireResult{Acquired: true, Lease: l}, nil
}

// conflict reads the holder that won a concurrent acquisition.
func (m *Manager) conflict(ctx context.Context, key string) (*AcquireResult, error) {
	res, err := m.meta.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lease: get after conflict: %w", err)
	}
	if !res.Exists {
		return nil, ErrVanished
	}
	existing, err := decode(res.Value)
	if err != nil {
		return nil, err
	}
	return &AcquireResult{Lease: existing}, nil
}

// Release gives up the lease of scopeID. Releasing a lease held by someone
// else, or no lease at all, is a no-op.
func (m *Manager) Release(ctx context.Context, scopeID string) error {
	if scopeID == "" {
		return ErrInvalidScope
	}
	defer func() {
		m.mu.Lock()
		delete(m.held, scopeID)
		m.mu.Unlock()
	}()

	key := keys.LeaseKeyPath(scopeID)
	res, err := m.meta.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lease: get %s for release: %w", scopeID, err)
	}
	if !res.Exists {
		return nil
	}
	l, err := decode(res.Value)
	if err != nil {
		return err
	}
	if l.HolderID != m.holderID {
		return nil
	}

	err = m.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(res.Version))
	if err != nil && !errors.Is(err, metadata.ErrVersionMismatch) {
		return fmt.Errorf("lease: delete %s: %w", scopeID, err)
	}
	return nil
}

// Holder returns the current lease of scopeID, or nil when nobody holds it.
func (m *Manager) Holder(ctx context.Context, scopeID string) (*Lease, error) {
	if scopeID == "" {
		return nil, ErrInvalidScope
	}
	res, err := m.meta.Get(ctx, keys.LeaseKeyPath(scopeID))
	if err != nil {
		return nil, fmt.Errorf("lease: get %s: %w", scopeID, err)
	}
	if !res.Exists {
		return nil, nil
	}
	return decode(res.Value)
}

// Held reports whether this manager believes it holds the lease of scopeID.
// Use Holder for an authoritative answer.
func (m *Manager) Held(scopeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[scopeID]
	return ok
}

// ReleaseAll releases every lease this manager holds. Used at shutdown.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	scopes := make([]string, 0, len(m.held))
	for scopeID := range m.held {
		scopes = append(scopes, scopeID)
	}
	m.mu.Unlock()

	var errs []error
	for _, scopeID := range scopes {
		if err := m.Release(ctx, scopeID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decode(value []byte) (*Lease, error) {
	var l Lease
	if err := json.Unmarshal(value, &l); err != nil {
		return nil, fmt.Errorf("lease: unmarshal: %w", err)
	}
	return &l, nil
}
