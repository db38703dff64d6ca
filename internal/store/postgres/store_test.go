package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/vacuum/internal/store"
)

func TestBuildQueries_QuotesTable(t *testing.T) {
	q := buildQueries(`odd"name`)
	assert.Contains(t, q.listScopes, `"odd""name"`)
	assert.Contains(t, q.createIndex, `CREATE INDEX CONCURRENTLY IF NOT EXISTS "odd""name_tid_zoid"`)
	assert.Contains(t, q.pageBySeqID, "(tid, zoid) > ($1, $2)")
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

// newTestStore connects to VACUUM_TEST_POSTGRES_DSN and creates a fresh table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VACUUM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VACUUM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("objects_test_%d", time.Now().UnixNano())

	s, err := New(ctx, Config{DSN: dsn, Table: table})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		s.Close()
	})

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		zoid text PRIMARY KEY,
		parent_id text,
		tid bigint NOT NULL,
		of text,
		type text,
		state bytea
	)`, table))
	require.NoError(t, err)
	return s
}

func insert(t *testing.T, s *Store, id, parent string, tid int64, of string) {
	t.Helper()
	var ofArg any
	if of != "" {
		ofArg = of
	}
	_, err := s.pool.Exec(context.Background(),
		fmt.Sprintf(`INSERT INTO %s (zoid, parent_id, tid, of, type, state) VALUES ($1, $2, $3, $4, 'Item', $5)`, s.config.Table),
		id, parent, tid, ofArg, []byte(`{"name":"`+id+`"}`))
	require.NoError(t, err)
}

func TestStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "scope", store.RootID, 1, "")
	insert(t, s, "a", "scope", 2, "")
	insert(t, s, "b", "scope", 3, "")
	insert(t, s, "c", "scope", 3, "")
	insert(t, s, "ann", "a", 4, "a")

	scopes, err := s.ListScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scope"}, scopes)

	page, err := s.PageByCommitSeq(ctx, "scope", store.Cursor{Seq: 1}, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a", page[0].ID)

	page, err = s.PageByCommitSeq(ctx, "scope", store.Cursor{Seq: 3, ID: "b"}, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)

	page, err = s.PageByParentIDs(ctx, []string{"scope"}, "a", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)

	found, err := s.ExistsByIDs(ctx, []string{"a", "zz"})
	require.NoError(t, err)
	assert.Contains(t, found, "a")
	assert.NotContains(t, found, "zz")

	row, err := s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "scope", row.ParentID)
	assert.Equal(t, int64(3), row.CommitSeq)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.EnsureScanIndex(ctx))
	assert.NoError(t, s.EnsureScanIndex(ctx))
}

func TestStore_ClosedStore(t *testing.T) {
	s := &Store{closed: true, queries: buildQueries("objects")}
	_, err := s.ListScopes(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
