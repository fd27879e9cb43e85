package cli

import (
	"bytes"
	"strings"
	"testing"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

// TestLineProgressQuietHidesPasses verifies passing units are only printed in
// verbose mode while failures always are.
func TestLineProgressQuietHidesPasses(t *testing.T) {
	var out bytes.Buffer
	p := newLineProgress(&out, false)
	p.UnitFinished(evaluator.UnitEvent{CaseID: "q1", Passed: true})
	p.UnitFinished(evaluator.UnitEvent{CaseID: "q2", Repeat: 1, Error: "Error: backend unavailable"})
	text := out.String()
	if strings.Contains(text, "q1") {
		t.Fatalf("expected passing unit hidden, got %q", text)
	}
	if !strings.Contains(text, "q2 #2") || !strings.Contains(text, "backend unavailable") {
		t.Fatalf("expected failing unit line, got %q", text)
	}
}

// TestLineProgressIterationLines verifies iteration, rollback and run lines.
func TestLineProgressIterationLines(t *testing.T) {
	var out bytes.Buffer
	p := newLineProgress(&out, false)
	p.StateChanged(3, optimizer.StateEvaluating)
	p.PassFinished("golden", metrics.Aggregated{Mean: 66.66, Std: 4.2, Passed: 2, Total: 3})
	rec := ledger.IterationRecord{
		Iteration:         3,
		ChangeDescription: "rolled back to iteration 2\nregression",
		Rollback:          &ledger.Rollback{ToIteration: 2},
	}
	rec.Metrics.Mean = 70
	p.IterationRecorded(rec)
	p.RunFinished(optimizer.Result{Outcome: optimizer.Exhausted, Iterations: 3, Reason: "iteration budget of 3 reached"})

	for _, want := range []string{
		"== iteration 3 ==",
		"golden: 66.7% ± 4.2 (2/3 passed)",
		"iteration 3: 70.0% | rolled back to iteration 2 (rolled back to 2)",
		"exhausted after 3 iterations: iteration budget of 3 reached",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}
}
