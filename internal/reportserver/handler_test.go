package reportserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
)

func trajectory(accuracies ...float64) ledger.Document {
	doc := ledger.Document{
		Run:     ledger.RunMetadata{RunID: "run-feature", AgentName: "sales", StartTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		Outcome: ledger.OutcomeExhausted,
	}
	for i, acc := range accuracies {
		doc.Iterations = append(doc.Iterations, ledger.IterationRecord{
			Iteration:         i + 1,
			Metrics:           metrics.Aggregated{Mean: acc},
			Deployment:        ledger.Deployment{Status: ledger.DeployApplied},
			ChangeDescription: "rule <" + string(rune('a'+i)) + ">",
		})
	}
	return doc
}

func staticSource(doc ledger.Document) Source {
	return func() (ledger.Document, error) { return doc, nil }
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://example.com"+path, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

// TestNewHandlerRequiresSource verifies a handler cannot be built without data.
func TestNewHandlerRequiresSource(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Fatalf("expected error without source")
	}
}

// TestNewHandlerServesHTML ensures the root path renders the run overview.
func TestNewHandlerServesHTML(t *testing.T) {
	doc := trajectory(40, 90, 70)
	doc.Iterations[2].Rollback = &ledger.Rollback{ToIteration: 2}
	handler, err := NewHandler(Config{Source: staticSource(doc)})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	resp := get(t, handler, "/")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"Run run-feature", "Best iteration 2 at 90.0%", "rolled back to 2", "rule &lt;c&gt;"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in HTML:\n%s", want, body)
		}
	}
}

// TestNewHandlerServesSummary verifies the summary endpoint is derived from the source.
func TestNewHandlerServesSummary(t *testing.T) {
	handler, err := NewHandler(Config{Source: staticSource(trajectory(40, 90, 70))})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	resp := get(t, handler, "/api/summary")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var summary ledger.Summary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalIterations != 3 || summary.Best.Iteration != 2 || summary.Improvement != 30 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

// TestNewHandlerSourceError verifies source failures surface as 503.
func TestNewHandlerSourceError(t *testing.T) {
	handler, err := NewHandler(Config{Source: func() (ledger.Document, error) {
		return ledger.Document{}, errors.New("not yet written")
	}})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if resp := get(t, handler, "/api/trajectory"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}

// TestNewHandlerServesDatabase ensures the DuckDB endpoint returns the file content.
func TestNewHandlerServesDatabase(t *testing.T) {
	dbPath := writeTempDB(t, "duckdb")
	handler, err := NewHandler(Config{Source: staticSource(trajectory(40)), DBPath: dbPath})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	resp := get(t, handler, "/data/db.duckdb")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got := resp.Body.String(); got != "duckdb" {
		t.Fatalf("unexpected db payload: %s", got)
	}
}

// TestNewHandlerRejectsNonGet verifies only GET is accepted.
func TestNewHandlerRejectsNonGet(t *testing.T) {
	handler, err := NewHandler(Config{Source: staticSource(trajectory(40))})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/summary", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

// TestFileSourceReadsTrajectory verifies the file source follows the ledger file.
func TestFileSourceReadsTrajectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.json")
	source := FileSource(path)
	if _, err := source(); err == nil {
		t.Fatalf("expected error for missing trajectory")
	}
	if err := ledger.Write(path, trajectory(40, 90)); err != nil {
		t.Fatalf("write trajectory: %v", err)
	}
	doc, err := source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if len(doc.Iterations) != 2 || doc.Run.RunID != "run-feature" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func writeTempDB(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.duckdb")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp db: %v", err)
	}
	return path
}
