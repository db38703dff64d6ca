package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore implements Store in memory for testing.
// It is exported so that tests in other packages can use it.
//
// Commit sequences are assigned from a single counter, like a database
// transaction id, unless PutRow is given an explicit one.
type MockStore struct {
	mu          sync.RWMutex
	rows        map[string]RawRow
	nextSeq     int64
	scanIndex   bool
	closed      bool
	failures    map[string]error
	loadErrs    map[string]error
	calls       map[string]int
	beforeExist func(ids []string)
}

// NewMockStore creates a new MockStore containing only the root row.
func NewMockStore() *MockStore {
	m := &MockStore{
		rows:     make(map[string]RawRow),
		nextSeq:  1,
		failures: make(map[string]error),
		loadErrs: make(map[string]error),
		calls:    make(map[string]int),
	}
	m.rows[RootID] = RawRow{ID: RootID, TypeName: "Root"}
	return m
}

// Put writes a row with the next commit sequence and returns that sequence.
func (m *MockStore) Put(id, parentID, typeName string, state []byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.nextSeq
	m.nextSeq++
	m.rows[id] = RawRow{ID: id, ParentID: parentID, CommitSeq: seq, TypeName: typeName, State: state}
	return seq
}

// PutRow writes row as is. The sequence counter is advanced past row.CommitSeq.
func (m *MockStore) PutRow(row RawRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
	if row.CommitSeq >= m.nextSeq {
		m.nextSeq = row.CommitSeq + 1
	}
}

// Remove deletes the row for id.
func (m *MockStore) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
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

// SetLoadError makes Load(id) return err.
func (m *MockStore) SetLoadError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErrs[id] = err
}

// OnExistsByIDs registers a hook run at the start of every ExistsByIDs call.
func (m *MockStore) OnExistsByIDs(fn func(ids []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeExist = fn
}

// Calls returns how many times the named method was called.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// Close marks the store closed.
func (m *MockStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockStore) enter(method string) error {
	m.calls[method]++
	if m.closed {
		return ErrStoreClosed
	}
	return m.failures[method]
}

func (m *MockStore) ListScopes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListScopes"); err != nil {
		return nil, err
	}
	var scopes []string
	for id, row := range m.rows {
		if row.ParentID == RootID && id != RootID {
			scopes = append(scopes, id)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

func (m *MockStore) PageByCommitSeq(_ context.Context, _ string, after Cursor, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PageByCommitSeq"); err != nil {
		return nil, err
	}

	var out []Record
	for _, row := range m.rows {
		if after.ID == "" {
			if row.CommitSeq <= after.Seq {
				continue
			}
		} else if row.CommitSeq < after.Seq || (row.CommitSeq == after.Seq && row.ID <= after.ID) {
			continue
		}
		out = append(out, Record{ID: row.ID, ParentID: row.ParentID, CommitSeq: row.CommitSeq})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CommitSeq != out[j].CommitSeq {
			return out[i].CommitSeq < out[j].CommitSeq
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) PageByParentIDs(_ context.Context, parentIDs []string, afterID string, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PageByParentIDs"); err != nil {
		return nil, err
	}

	parents := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var out []Record
	for _, row := range m.rows {
		if _, ok := parents[row.ParentID]; !ok || row.ID <= afterID || row.ID == RootID {
			continue
		}
		out = append(out, Record{ID: row.ID, ParentID: row.ParentID, CommitSeq: row.CommitSeq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) ExistsByIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	hook := m.beforeExist
	m.mu.Unlock()
	if hook != nil {
		hook(ids)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExistsByIDs"); err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := m.rows[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *MockStore) Load(_ context.Context, id string) (RawRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Load"); err != nil {
		return RawRow{}, err
	}
	if err, ok := m.loadErrs[id]; ok {
		return RawRow{}, err
	}
	row, ok := m.rows[id]
	if !ok {
		return RawRow{}, ErrNotFound
	}
	return row, nil
}

func (m *MockStore) EnsureScanIndex(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EnsureScanIndex"); err != nil {
		return err
	}
	if m.scanIndex {
		return ErrAlreadyExists
	}
	m.scanIndex = true
	return nil
}
