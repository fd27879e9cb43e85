package suite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestLoadJSONColumnVariants verifies alternate key names are accepted.
func TestLoadJSONColumnVariants(t *testing.T) {
	path := writeFile(t, "golden.json", `[
  {"question_id": "q1", "nl_question": "How many orders?", "sql": "SELECT COUNT(*) FROM orders"},
  {"question": "List customers", "query": "SELECT name FROM customers"}
]`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "golden" || s.Len() != 2 {
		t.Fatalf("expected 2 cases in golden, got %d in %q", s.Len(), s.Name)
	}
	if s.Cases[0].ID != "q1" || s.Cases[0].Question != "How many orders?" {
		t.Fatalf("unexpected first case %+v", s.Cases[0])
	}
	if s.Cases[1].ID == "" {
		t.Fatalf("expected generated id for second case")
	}
	if s.Cases[1].Expected != "SELECT name FROM customers" {
		t.Fatalf("unexpected expected sql %q", s.Cases[1].Expected)
	}
}

// TestLoadYAMLCasesKey verifies the wrapped YAML form.
func TestLoadYAMLCasesKey(t *testing.T) {
	path := writeFile(t, "golden.yml", `cases:
  - id: a
    question: q
    expected_sql: SELECT 1
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tc, ok := s.Lookup("a"); !ok || tc.Expected != "SELECT 1" {
		t.Fatalf("expected case a, got %+v", tc)
	}
}

// TestLoadCSV verifies CSV golden sets.
func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "golden.csv", "id,question,expected_sql\nq1,How many?,SELECT 1\nq2,Which?,\"SELECT a, b FROM t\"\n")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 2 || s.Cases[1].Expected != "SELECT a, b FROM t" {
		t.Fatalf("unexpected cases %+v", s.Cases)
	}
}

// TestLoadRejectsDuplicatesAndGaps verifies validation errors.
func TestLoadRejectsDuplicatesAndGaps(t *testing.T) {
	cases := map[string]string{
		"dup.json":     `[{"id":"a","question":"q","sql":"s"},{"id":"a","question":"q2","sql":"s2"}]`,
		"missing.json": `[{"id":"a","question":"q"}]`,
		"empty.json":   `[]`,
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, name, body)); err == nil {
			t.Fatalf("expected error for %s", name)
		} else if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected path in error, got %q", err.Error())
		}
	}
}
