// Package store defines the contract of the authoritative object store the
// vacuum reconciles the search index against.
//
// The store holds one row per object: its id, the id of its parent and the
// commit sequence (tid) of the transaction that last wrote it. Containers
// ("scopes") are the direct children of the root object. The default
// implementation lives in the postgres subpackage.
package store

import (
	"context"
	"errors"
)

// Sentinel object ids that are never reconciled.
const (
	// RootID is the id of the database root. Scopes are its children.
	RootID = "0000000000000000"

	// TrashedID is the id objects are re-parented to when deleted in bulk.
	TrashedID = "DDDDDDDDDDDDDDDD"
)

// DefaultPageSize bounds every paged query.
const DefaultPageSize = 1000

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned by Load when no row exists for the id.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned by setup operations whose target already exists.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store: store closed")
)

// Record is the minimal projection of an object row used for reconciliation.
type Record struct {
	ID        string
	ParentID  string
	CommitSeq int64
}

// RawRow is an undecoded object row as returned by Load.
type RawRow struct {
	ID        string
	ParentID  string
	CommitSeq int64
	TypeName  string
	State     []byte
}

// Cursor is an exclusive lower bound for commit-sequence ordered paging.
//
// An empty ID selects every row with a commit sequence strictly greater than
// Seq. A non-empty ID selects rows ordered after (Seq, ID).
type Cursor struct {
	Seq int64
	ID  string
}

// Store is the query interface of the authoritative store.
//
// All paged methods return at most limit rows. Implementations must be safe
// for concurrent use; callers that need per-scope serialization of point
// queries wrap the store with WithScopeLock.
type Store interface {
	// ListScopes returns the ids of every scope (children of RootID).
	ListScopes(ctx context.Context) ([]string, error)

	// PageByCommitSeq returns rows ordered by (commitSeq ASC, id ASC) after
	// the cursor. Only meaningful when a single scope exists: rows are not
	// filtered by scope.
	PageByCommitSeq(ctx context.Context, scopeID string, after Cursor, limit int) ([]Record, error)

	// PageByParentIDs returns the children of the given parents ordered by
	// id, starting after afterID.
	PageByParentIDs(ctx context.Context, parentIDs []string, afterID string, limit int) ([]Record, error)

	// ExistsByIDs returns the subset of ids that have a row.
	ExistsByIDs(ctx context.Context, ids []string) (map[string]struct{}, error)

	// Load returns the raw row for id or ErrNotFound.
	Load(ctx context.Context, id string) (RawRow, error)

	// EnsureScanIndex creates the (commitSeq, id) index used by ordered
	// paging. Returns ErrAlreadyExists when a concurrent creation raced.
	EnsureScanIndex(ctx context.Context) error
}

// IsSentinel reports whether id is never reconciled.
func IsSentinel(id string) bool {
	return id == RootID || id == TrashedID
}
