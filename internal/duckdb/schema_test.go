package duckdb_test

import (
	"testing"

	duckdbtesting "diaharness/internal/duckdb/testing"
)

// TestSchemaObjectsExist verifies core tables and views are created.
func TestSchemaObjectsExist(t *testing.T) {
	db := duckdbtesting.Open(t)
	for _, table := range []string{"runs", "configs", "iterations", "failures", "case_results"} {
		count := duckdbtesting.QueryInt(t, db, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table)
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}
	viewCount := duckdbtesting.QueryInt(t, db, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'v_progress' AND table_type = 'VIEW'")
	if viewCount != 1 {
		t.Fatalf("expected view v_progress to exist")
	}
}
