package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"diaharness/internal/agentconf"
	"diaharness/internal/metrics"
	"diaharness/internal/testutil"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(iteration int, accuracy float64, failing ...string) IterationRecord {
	rec := IterationRecord{
		Iteration:         iteration,
		Timestamp:         baseTime.Add(time.Duration(iteration) * time.Minute),
		Configuration:     agentconf.Configuration{Instructions: fmt.Sprintf("instructions v%d", iteration)},
		Metrics:           metrics.Aggregated{Repeats: 1, Cases: 3, Mean: accuracy, Min: accuracy, Max: accuracy, RepeatAccuracies: []float64{accuracy}},
		ChangeDescription: fmt.Sprintf("change %d", iteration),
		Deployment:        Deployment{Status: DeployApplied, Attempts: 1},
	}
	failed := map[string]bool{}
	for _, id := range failing {
		failed[id] = true
		rec.Failures = append(rec.Failures, metrics.FailureRecord{CaseID: id, Issue: metrics.IssueDifferent})
	}
	for _, id := range []string{"a", "b", "c"} {
		c := CaseResult{CaseID: id, Total: 1}
		if !failed[id] {
			c.Passed = 1
		}
		rec.Cases = append(rec.Cases, c)
	}
	return rec
}

type recordingSink struct {
	seen []int
	err  error
}

func (s *recordingSink) RecordWritten(meta RunMetadata, rec IterationRecord) error {
	s.seen = append(s.seen, rec.Iteration)
	return s.err
}

// TestLedgerRoundTrip verifies persisted records reload with identical values.
func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.json")
	l := New(path, RunMetadata{RunID: "run-1", AgentName: "sales", StartTime: baseTime}, WithClock(func() time.Time { return baseTime }))
	for i, acc := range []float64{40, 90, 70, 85} {
		if err := l.Append(record(i+1, acc, "a")); err != nil {
			t.Fatalf("append %d: %v", i+1, err)
		}
	}
	if err := l.SetRollback(3, 2, "regression"); err != nil {
		t.Fatalf("set rollback: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want, _ := json.Marshal(l.Records())
	got, _ := json.Marshal(reloaded.Records())
	if string(want) != string(got) {
		t.Fatalf("expected identical records\nwant %s\ngot  %s", want, got)
	}
	if reloaded.Len() != 4 || reloaded.NextIteration() != 5 {
		t.Fatalf("expected 4 records, got %d", reloaded.Len())
	}
	if reloaded.Metadata().AgentName != "sales" || !reloaded.Metadata().StartTime.Equal(baseTime) {
		t.Fatalf("unexpected metadata %+v", reloaded.Metadata())
	}
	best, ok := reloaded.Best()
	if !ok || best.Iteration != 2 || best.Accuracy != 90 {
		t.Fatalf("expected best iteration 2 at 90, got %+v", best)
	}
	if recs := reloaded.Records(); recs[2].Rollback == nil || recs[2].Rollback.ToIteration != 2 {
		t.Fatalf("expected rollback flag on iteration 3, got %+v", recs[2].Rollback)
	}
}

// TestUpdatedAtFollowsClock verifies every write stamps the document.
func TestUpdatedAtFollowsClock(t *testing.T) {
	clock := testutil.NewFakeClock(baseTime)
	path := filepath.Join(t.TempDir(), "trajectory.json")
	l := New(path, RunMetadata{RunID: "run-1"}, WithClock(clock.Now))
	if err := l.Append(record(1, 40)); err != nil {
		t.Fatalf("append: %v", err)
	}
	clock.Advance(time.Minute)
	if err := l.Finish(OutcomeExhausted, "budget"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	doc, err := Load(path)
	if err != nil || doc == nil {
		t.Fatalf("load: %v", err)
	}
	if !doc.UpdatedAt.Equal(baseTime.Add(time.Minute)) || doc.Outcome != OutcomeExhausted {
		t.Fatalf("unexpected document state %s %q", doc.UpdatedAt, doc.Outcome)
	}
}

// TestAppendRejectsGaps verifies iteration numbers must be contiguous.
func TestAppendRejectsGaps(t *testing.T) {
	l := New("", RunMetadata{})
	if err := l.Append(record(2, 10)); err == nil {
		t.Fatalf("expected error for gap")
	}
	if err := l.Append(record(1, 10)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(record(1, 10)); err == nil {
		t.Fatalf("expected error for duplicate iteration")
	}
	rec := record(2, 10)
	rec.Rollback = &Rollback{ToIteration: 1}
	if err := l.Append(rec); err == nil {
		t.Fatalf("expected error for pre-set rollback")
	}
}

// TestFailedWriteLeavesLedgerUnchanged verifies a persistence error does not
// advance the in-memory trajectory.
func TestFailedWriteLeavesLedgerUnchanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	l := New(filepath.Join(dir, "trajectory.json"), RunMetadata{RunID: "run-1"})
	if err := l.Append(record(1, 50)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A regular file where the directory should be makes every write fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("blocked"), 0o644); err != nil {
		t.Fatalf("block dir: %v", err)
	}
	if err := l.Append(record(2, 90)); err == nil {
		t.Fatalf("expected write error")
	}
	if l.Len() != 1 || l.NextIteration() != 2 {
		t.Fatalf("expected 1 record and next iteration 2, got %d and %d", l.Len(), l.NextIteration())
	}
	if best, _ := l.Best(); best.Iteration != 1 {
		t.Fatalf("expected best to stay at iteration 1, got %d", best.Iteration)
	}
	if err := l.SetRollback(1, 1, "regression"); err == nil {
		t.Fatalf("expected write error")
	}
	if rec, _ := l.Last(); rec.Rollback != nil {
		t.Fatalf("expected rollback to be undone, got %+v", rec.Rollback)
	}

	if err := os.Remove(dir); err != nil {
		t.Fatalf("unblock dir: %v", err)
	}
	if err := l.Append(record(2, 90)); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	doc, err := Load(l.Path())
	if err != nil || doc == nil || len(doc.Iterations) != 2 || doc.Best.Iteration != 2 {
		t.Fatalf("expected 2 persisted iterations with best 2, got %+v err=%v", doc, err)
	}
}

// TestBestTieBreaksEarliest verifies ties keep the earliest iteration and best dominates.
func TestBestTieBreaksEarliest(t *testing.T) {
	l := New("", RunMetadata{})
	accs := []float64{60, 80, 80, 75, 80}
	for i, acc := range accs {
		if err := l.Append(record(i+1, acc)); err != nil {
			t.Fatalf("append: %v", err)
		}
		best, _ := l.Best()
		for _, rec := range l.Records() {
			if best.Accuracy < rec.Accuracy() {
				t.Fatalf("best %.1f below iteration %d accuracy %.1f", best.Accuracy, rec.Iteration, rec.Accuracy())
			}
		}
	}
	best, _ := l.Best()
	if best.Iteration != 2 {
		t.Fatalf("expected earliest best iteration 2, got %d", best.Iteration)
	}
	if best.Configuration.Instructions != "instructions v2" {
		t.Fatalf("unexpected best configuration %+v", best.Configuration)
	}
}

// TestSetRollbackOnce verifies rollback is the single allowed mutation.
func TestSetRollbackOnce(t *testing.T) {
	l := New("", RunMetadata{})
	_ = l.Append(record(1, 50))
	_ = l.Append(record(2, 10))
	if err := l.SetRollback(2, 1, "regression"); err != nil {
		t.Fatalf("set rollback: %v", err)
	}
	if err := l.SetRollback(2, 1, "again"); !errors.Is(err, ErrRollbackSet) {
		t.Fatalf("expected ErrRollbackSet, got %v", err)
	}
	if err := l.SetRollback(5, 1, ""); err == nil {
		t.Fatalf("expected error for unknown iteration")
	}
}

// TestSinkNotified verifies sinks see every append and errors are wrapped.
func TestSinkNotified(t *testing.T) {
	sink := &recordingSink{}
	l := New("", RunMetadata{}, WithSink(sink))
	_ = l.Append(record(1, 50))
	sink.err = errors.New("db down")
	err := l.Append(record(2, 60))
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
	if l.Len() != 2 || len(sink.seen) != 2 {
		t.Fatalf("expected record kept despite sink error, got %d records and %v", l.Len(), sink.seen)
	}

	sink.err = nil
	if err := l.SetRollback(2, 1, "regression"); err != nil {
		t.Fatalf("set rollback: %v", err)
	}
	if len(sink.seen) != 3 || sink.seen[2] != 2 {
		t.Fatalf("expected sink notified of rollback, got %v", sink.seen)
	}
}

// TestSummaryCompareAndContext verifies the analysis helpers.
func TestSummaryCompareAndContext(t *testing.T) {
	l := New("", RunMetadata{})
	_ = l.Append(record(1, 40, "a", "b"))
	_ = l.Append(record(2, 90, "c"))
	_ = l.Append(record(3, 70, "a", "c"))
	_ = l.SetRollback(3, 2, "regression")

	summary := l.Summary()
	if summary.Best.Iteration != 2 || summary.Worst.Iteration != 1 || summary.Improvement != 30 || summary.Rollbacks != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	cmp, err := l.Compare(1, 2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.AccuracyDelta != 50 || len(cmp.NewFailures) != 1 || cmp.NewFailures[0] != "c" || len(cmp.Resolved) != 2 {
		t.Fatalf("unexpected comparison %+v", cmp)
	}
	if _, err := l.Compare(1, 9); err == nil {
		t.Fatalf("expected error for unknown iteration")
	}

	top := l.TopByAccuracy(2)
	if len(top) != 2 || top[0].Iteration != 3 || top[1].Iteration != 2 {
		t.Fatalf("expected ascending top-2 [3 2], got %+v", top)
	}

	stats := l.QuestionAccuracy()
	if len(stats) != 3 || stats[2].CaseID != "b" {
		t.Fatalf("unexpected question stats %+v", stats)
	}
}

// TestTruncateContext verifies long instructions are truncated.
func TestTruncateContext(t *testing.T) {
	long := make([]rune, 600)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncate(string(long), 500); len([]rune(got)) != 503 {
		t.Fatalf("expected truncated length 503, got %d", len([]rune(got)))
	}
}
