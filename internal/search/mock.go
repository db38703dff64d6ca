package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockIndex implements Index in memory for testing.
// It is exported so that tests in other packages can use it.
type MockIndex struct {
	mu         sync.Mutex
	docs       map[string]map[string]Document
	partitions map[string]Partitions
	installed  map[string][]SubIndex
	aids       map[string]bool
	scrolls    map[string]*mockScroll
	nextScroll int

	failures     map[string]error
	scrollFail   map[string]mockScrollFailure
	deleteShort  int
	calls        map[string]int
	deleted      map[string][]string
	bulkRequests [][]IndexRequest
	dropped      []string
	beforeDelete func(partition string, ids []string)
	rejected     map[string]int
}

type mockScroll struct {
	partition string
	ids       []string
	pos       int
	size      int
	pages     int
}

type mockScrollFailure struct {
	afterPages int
	err        error
}

// NewMockIndex creates an empty MockIndex.
func NewMockIndex() *MockIndex {
	return &MockIndex{
		docs:       make(map[string]map[string]Document),
		partitions: make(map[string]Partitions),
		installed:  make(map[string][]SubIndex),
		aids:       make(map[string]bool),
		scrolls:    make(map[string]*mockScroll),
		failures:   make(map[string]error),
		scrollFail: make(map[string]mockScrollFailure),
		calls:      make(map[string]int),
		deleted:    make(map[string][]string),
		rejected:   make(map[string]int),
	}
}

// RejectIDs makes BulkIndex reject the given ids with status until
// AcceptIDs is called.
func (m *MockIndex) RejectIDs(status int, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.rejected[id] = status
	}
}

// AcceptIDs clears every rejection set by RejectIDs.
func (m *MockIndex) AcceptIDs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.rejected)
}

// CreatePartition creates an empty partition.
func (m *MockIndex) CreatePartition(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[name] == nil {
		m.docs[name] = make(map[string]Document)
	}
}

// SetPartitions sets the partitions of a scope and creates them.
func (m *MockIndex) SetPartitions(scopeID string, p Partitions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[scopeID] = p
	m.installed[scopeID] = append([]SubIndex(nil), p.Sub...)
	for _, name := range p.Names() {
		if m.docs[name] == nil {
			m.docs[name] = make(map[string]Document)
		}
	}
}

// InstallSubIndex adds a sub-index to the installed list of a scope without
// making it part of the scope's partitions.
func (m *MockIndex) InstallSubIndex(scopeID string, s SubIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed[scopeID] = append(m.installed[scopeID], s)
	if m.docs[s.Index] == nil {
		m.docs[s.Index] = make(map[string]Document)
	}
}

// PutDoc stores a document in a partition, creating the partition if needed.
func (m *MockIndex) PutDoc(partition string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[partition] == nil {
		m.docs[partition] = make(map[string]Document)
	}
	doc.Partition = partition
	m.docs[partition][doc.ID] = doc
}

// Doc returns a stored document.
func (m *MockIndex) Doc(partition, id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[partition][id]
	return d, ok
}

// SetFailure makes every call to the named method return err. A nil err clears it.
func (m *MockIndex) SetFailure(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// FailScrollAfter makes ContinueScroll on partition fail with err once
// afterPages pages have been served.
func (m *MockIndex) FailScrollAfter(partition string, afterPages int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrollFail[partition] = mockScrollFailure{afterPages: afterPages, err: err}
}

// SetDeleteShortfall makes DeleteByIDs report n fewer deletions than it made.
func (m *MockIndex) SetDeleteShortfall(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteShort = n
}

// OnDeleteByIDs registers a hook run at the start of every DeleteByIDs call.
func (m *MockIndex) OnDeleteByIDs(fn func(partition string, ids []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeDelete = fn
}

// Calls returns how many times the named method was called.
func (m *MockIndex) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Deleted returns the ids deleted from a partition, in call order.
func (m *MockIndex) Deleted(partition string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted[partition]...)
}

// BulkRequests returns every bulk request received.
func (m *MockIndex) BulkRequests() [][]IndexRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]IndexRequest, len(m.bulkRequests))
	copy(out, m.bulkRequests)
	return out
}

// IndexedIDs returns the ids of every document written by BulkIndex.
func (m *MockIndex) IndexedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, req := range m.bulkRequests {
		for _, d := range req {
			out = append(out, d.ID)
		}
	}
	return out
}

// Dropped returns the indexes removed by DropIndex.
func (m *MockIndex) Dropped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dropped...)
}

// OpenScrolls returns the number of scroll contexts not yet cleared.
func (m *MockIndex) OpenScrolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scrolls)
}

func (m *MockIndex) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

func (m *MockIndex) Partitions(_ context.Context, scopeID string) (Partitions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Partitions"); err != nil {
		return Partitions{}, err
	}
	p, ok := m.partitions[scopeID]
	if !ok {
		return Partitions{Primary: scopeID}, nil
	}
	p.Sub = append([]SubIndex(nil), p.Sub...)
	return p, nil
}

func (m *MockIndex) InstalledSubIndexes(_ context.Context, scopeID string) ([]SubIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InstalledSubIndexes"); err != nil {
		return nil, err
	}
	return append([]SubIndex(nil), m.installed[scopeID]...), nil
}

func (m *MockIndex) OpenScroll(_ context.Context, partition string, size int, _ time.Duration) (ScrollPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("OpenScroll"); err != nil {
		return ScrollPage{}, err
	}
	docs, ok := m.docs[partition]
	if !ok {
		return ScrollPage{}, fmt.Errorf("open scroll %s: %w", partition, ErrIndexNotFound)
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	m.nextScroll++
	sc := &mockScroll{partition: partition, ids: ids, size: size}
	scrollID := fmt.Sprintf("scroll-%d", m.nextScroll)
	m.scrolls[scrollID] = sc
	return ScrollPage{ScrollID: scrollID, IDs: sc.next()}, nil
}

func (m *MockIndex) ContinueScroll(_ context.Context, scrollID string, _ time.Duration) (ScrollPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ContinueScroll"); err != nil {
		return ScrollPage{}, err
	}
	sc, ok := m.scrolls[scrollID]
	if !ok {
		return ScrollPage{}, &ResponseError{Op: "scroll", Status: 404, Reason: "search_context_missing_exception", Err: ErrTransport}
	}
	if f, ok := m.scrollFail[sc.partition]; ok && sc.pages >= f.afterPages {
		return ScrollPage{}, f.err
	}
	return ScrollPage{ScrollID: scrollID, IDs: sc.next()}, nil
}

func (m *MockIndex) ClearScroll(_ context.Context, scrollID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearScroll"); err != nil {
		return err
	}
	delete(m.scrolls, scrollID)
	return nil
}

func (m *MockIndex) SearchByIDs(_ context.Context, partitions []string, ids []string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SearchByIDs"); err != nil {
		return nil, err
	}
	var out []Document
	for _, p := range partitions {
		docs := m.docs[p]
		for _, id := range ids {
			if d, ok := docs[id]; ok {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (m *MockIndex) DeleteByIDs(_ context.Context, partition string, ids []string) (int, error) {
	m.mu.Lock()
	hook := m.beforeDelete
	m.mu.Unlock()
	if hook != nil {
		hook(partition, ids)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteByIDs"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := m.docs[partition][id]; ok {
			delete(m.docs[partition], id)
			m.deleted[partition] = append(m.deleted[partition], id)
			n++
		}
	}
	n -= m.deleteShort
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (m *MockIndex) BulkIndex(_ context.Context, docs []IndexRequest) (BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("BulkIndex"); err != nil {
		return BulkResult{}, err
	}
	m.bulkRequests = append(m.bulkRequests, append([]IndexRequest(nil), docs...))
	var res BulkResult
	for _, d := range docs {
		if status, ok := m.rejected[d.ID]; ok {
			res.Failed = append(res.Failed, BulkFailure{ID: d.ID, Status: status, Reason: "rejected"})
			continue
		}
		if m.docs[d.Partition] == nil {
			m.docs[d.Partition] = make(map[string]Document)
		}
		m.docs[d.Partition][d.ID] = Document{ID: d.ID, Version: d.Version, ParentID: d.ParentID, Partition: d.Partition}
		res.Indexed++
	}
	return res, nil
}

func (m *MockIndex) EnsurePartitionAid(_ context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EnsurePartitionAid"); err != nil {
		return err
	}
	if m.aids[partition] {
		return ErrAlreadyExists
	}
	m.aids[partition] = true
	return nil
}

func (m *MockIndex) DropIndex(_ context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DropIndex"); err != nil {
		return err
	}
	delete(m.docs, index)
	m.dropped = append(m.dropped, index)
	for scope, subs := range m.installed {
		kept := subs[:0]
		for _, s := range subs {
			if s.Index != index {
				kept = append(kept, s)
			}
		}
		m.installed[scope] = kept
	}
	return nil
}

func (s *mockScroll) next() []string {
	end := s.pos + s.size
	if s.size <= 0 || end > len(s.ids) {
		end = len(s.ids)
	}
	page := s.ids[s.pos:end]
	s.pos = end
	s.pages++
	return page
}

var _ Index = (*MockIndex)(nil)
