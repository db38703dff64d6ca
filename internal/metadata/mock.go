package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore implements MetadataStore for testing.
// It is exported so that tests in other packages can use it.
//
// Ephemeral keys belong to a single simulated session; ExpireSession deletes
// them all, as a real store does when the client disconnects.
type MockStore struct {
	mu        sync.RWMutex
	data      map[string]KV
	ephemeral map[string]struct{}
	closed    bool
	nextVer   Version
	failures  map[string]error
	calls     map[string]int
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		data:      make(map[string]KV),
		ephemeral: make(map[string]struct{}),
		nextVer:   1,
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetFailure makes every call to the named method return err. A nil err clears it.
func (m *MockStore) SetFailure(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times the named method was called.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// ExpireSession deletes every ephemeral key.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.ephemeral {
		delete(m.data, key)
	}
	clear(m.ephemeral)
}

func (m *MockStore) enter(method string) error {
	m.calls[method]++
	if m.closed {
		return ErrStoreClosed
	}
	return m.failures[method]
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Get"); err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Put"); err != nil {
		return 0, err
	}
	if expected := ExtractExpectedVersion(opts); expected != nil {
		if err := m.checkVersion(key, *expected); err != nil {
			return 0, err
		}
	}
	delete(m.ephemeral, key)
	return m.writeLocked(key, value), nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Delete"); err != nil {
		return err
	}
	if expected := ExtractDeleteExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok {
			return nil
		}
		if existing.Version != *expected {
			return ErrVersionMismatch
		}
	}
	delete(m.data, key)
	delete(m.ephemeral, key)
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("List"); err != nil {
		return nil, err
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("PutEphemeral"); err != nil {
		return 0, err
	}
	expectNotExists, expected := ExtractEphemeralOptions(opts)
	if expectNotExists {
		if _, ok := m.data[key]; ok {
			return 0, ErrVersionMismatch
		}
	} else if expected != nil {
		if err := m.checkVersion(key, *expected); err != nil {
			return 0, err
		}
	}
	m.ephemeral[key] = struct{}{}
	return m.writeLocked(key, value), nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockStore) checkVersion(key string, expected Version) error {
	existing, ok := m.data[key]
	if !ok && expected != 0 {
		return ErrVersionMismatch
	}
	if ok && existing.Version != expected {
		return ErrVersionMismatch
	}
	return nil
}

func (m *MockStore) writeLocked(key string, value []byte) Version {
	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	return ver
}

var _ MetadataStore = (*MockStore)(nil)
