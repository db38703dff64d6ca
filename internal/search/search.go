// Package search defines the contract of the derived search index that the
// vacuum keeps consistent with the object store.
//
// A scope's documents live in one primary index and zero or more sub-indexes.
// A sub-index owns the documents whose id starts with its prefix. The
// Elasticsearch implementation lives in the elastic subpackage.
package search

import (
	"context"
	"time"
)

// UnknownVersion is reported for documents that carry no version field.
const UnknownVersion int64 = -1

// MissingParent is reported for documents that carry no parent field.
const MissingParent = "_missing_"

// Scroll defaults.
const (
	DefaultScrollSize       = 1000
	DefaultInitialKeepAlive = 15 * time.Minute
	DefaultRenewKeepAlive   = 5 * time.Minute
)

// Document is the reconciliation view of an indexed document.
type Document struct {
	ID        string
	Version   int64
	ParentID  string
	Partition string
}

// ScrollPage is one page of a scroll over a partition.
type ScrollPage struct {
	ScrollID string
	IDs      []string
}

// IndexRequest is one document to write with a bulk request.
type IndexRequest struct {
	Partition string
	ID        string
	Version   int64
	ParentID  string
	Body      map[string]any
}

// BulkFailure is a per-item failure of a bulk request.
type BulkFailure struct {
	ID     string
	Status int
	Reason string
}

// BulkResult summarizes a bulk request.
type BulkResult struct {
	Indexed int
	Failed  []BulkFailure
}

// Index is the index backend used by the vacuum.
//
// Implementations must be safe for concurrent scroll, search and bulk calls.
type Index interface {
	// Partitions returns the primary index and installed sub-indexes of a scope.
	Partitions(ctx context.Context, scopeID string) (Partitions, error)

	// InstalledSubIndexes lists every sub-index installed for a scope,
	// including those whose owner no longer exists.
	InstalledSubIndexes(ctx context.Context, scopeID string) ([]SubIndex, error)

	// OpenScroll starts a scroll over every id of a partition.
	// Returns ErrIndexNotFound when the partition does not exist.
	OpenScroll(ctx context.Context, partition string, size int, keepAlive time.Duration) (ScrollPage, error)

	// ContinueScroll fetches the next page. An empty page ends the scroll.
	ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (ScrollPage, error)

	// ClearScroll releases a scroll context.
	ClearScroll(ctx context.Context, scrollID string) error

	// SearchByIDs returns the version and parent of the given ids found in
	// any of the partitions.
	SearchByIDs(ctx context.Context, partitions []string, ids []string) ([]Document, error)

	// DeleteByIDs deletes ids from a partition and returns how many were deleted.
	DeleteByIDs(ctx context.Context, partition string, ids []string) (int, error)

	// BulkIndex writes documents.
	BulkIndex(ctx context.Context, docs []IndexRequest) (BulkResult, error)

	// EnsurePartitionAid installs the supporting structures used by
	// SearchByIDs. Returns ErrAlreadyExists when they are already installed.
	EnsurePartitionAid(ctx context.Context, partition string) error

	// DropIndex deletes a sub-index.
	DropIndex(ctx context.Context, index string) error
}
