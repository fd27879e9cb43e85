package duckdbtesting

import (
	"database/sql"
	"testing"
	"time"

	"diaharness/internal/duckdb"
	"diaharness/internal/testutil"
)

const (
	defaultTimeout = 5 * time.Second
)

// Open opens an in-memory DuckDB database with the schema applied.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	ctx := testutil.Context(t, defaultTimeout)
	db, err := duckdb.Open(ctx, "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// QueryInt returns a single integer value from the database.
func QueryInt(t testing.TB, db *sql.DB, query string, args ...any) int {
	t.Helper()
	ctx := testutil.Context(t, defaultTimeout)
	var out int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&out); err != nil {
		t.Fatalf("query int failed: %v", err)
	}
	return out
}
