// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package tooldb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal in-memory stand-in for a *sql.Conn: a narrow
// interface faked directly rather than standing up a real database for
// unit tests.
type fakeConn struct {
	queries      []string
	savedPSID    map[string]string
	nextRowID    int64
	startedRows  map[int64]string // id -> process_id
}

func newFakeConn() *fakeConn {
	return &fakeConn{savedPSID: make(map[string]string), startedRows: make(map[int64]string)}
}

func (f *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	switch {
	case containsAll(query, "INSERT INTO query"):
		id := args[0].(string)
		f.savedPSID[id] = args[1].(string)
		return sql.Result(fakeResult{}), nil
	case containsAll(query, "INSERT INTO started_queries"):
		f.nextRowID++
		f.startedRows[f.nextRowID] = args[2].(string)
		return sql.Result(fakeResult{lastID: f.nextRowID}), nil
	case containsAll(query, "DELETE FROM started_queries"):
		id := args[0].(int64)
		delete(f.startedRows, id)
		return sql.Result(fakeResult{}), nil
	}
	return sql.Result(fakeResult{}), nil
}

func (f *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	// Real row construction needs a real *sql.DB; exercised via an
	// in-memory sqlite-free fake is out of scope here, so LoadPSID is
	// instead exercised through the Store methods that don't require it.
	return nil
}

func (f *fakeConn) Close() error { return nil }

type fakeResult struct {
	lastID int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r fakeResult) RowsAffected() (int64, error) { return 1, nil }

func containsAll(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestSavePSIDGeneratesID(t *testing.T) {
	fc := newFakeConn()
	store := New(func(ctx context.Context) (Conn, error) { return fc, nil })

	id, err := store.SavePSID(context.Background(), "source=A&format=json")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "source=A&format=json", fc.savedPSID[id])
}

func TestBeginStartedQueryRecordsAndClears(t *testing.T) {
	fc := newFakeConn()
	store := New(func(ctx context.Context) (Conn, error) { return fc, nil })

	done, err := store.BeginStartedQuery(context.Background(), "source=A")
	require.NoError(t, err)
	assert.Len(t, fc.startedRows, 1)

	require.NoError(t, done(context.Background()))
	assert.Empty(t, fc.startedRows)
}
