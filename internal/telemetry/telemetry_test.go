package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

var (
	_ evaluator.Observer = (*Metrics)(nil)
	_ optimizer.Observer = (*Metrics)(nil)
)

func TestEvaluationMetrics(t *testing.T) {
	m := New()
	m.UnitFinished(evaluator.UnitEvent{Suite: "train", Passed: true, Latency: time.Second})
	m.UnitFinished(evaluator.UnitEvent{Suite: "train", Latency: 2 * time.Second})
	m.UnitFinished(evaluator.UnitEvent{Suite: "train", Error: "timeout"})
	m.UnitRetried(evaluator.UnitEvent{Suite: "train"}, 2)
	m.PassFinished("train", metrics.Aggregated{Mean: 66.5})

	if got := promtest.ToFloat64(m.units.WithLabelValues("train", "pass")); got != 1 {
		t.Fatalf("expected 1 pass, got %v", got)
	}
	if got := promtest.ToFloat64(m.units.WithLabelValues("train", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := promtest.ToFloat64(m.retries.WithLabelValues("train")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := promtest.ToFloat64(m.accuracy.WithLabelValues("train")); got != 66.5 {
		t.Fatalf("expected accuracy 66.5, got %v", got)
	}
	if got := promtest.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("expected one latency series, got %d", got)
	}
}

func TestOptimizationMetrics(t *testing.T) {
	m := New()
	m.StateChanged(3, optimizer.StateEvaluating)
	m.IterationRecorded(ledger.IterationRecord{
		Iteration:  1,
		Metrics:    metrics.Aggregated{Mean: 90},
		Validation: &ledger.Validation{Kind: "accept"},
		Deployment: ledger.Deployment{Status: ledger.DeployApplied},
	})
	m.IterationRecorded(ledger.IterationRecord{
		Iteration:  2,
		Metrics:    metrics.Aggregated{Mean: 70},
		Deployment: ledger.Deployment{Status: ledger.DeployRolledBack},
		Rollback:   &ledger.Rollback{ToIteration: 1},
	})

	if got := promtest.ToFloat64(m.iteration); got != 3 {
		t.Fatalf("expected iteration 3, got %v", got)
	}
	if got := promtest.ToFloat64(m.rollbacks); got != 1 {
		t.Fatalf("expected 1 rollback, got %v", got)
	}
	if got := promtest.ToFloat64(m.best); got != 90 {
		t.Fatalf("expected best 90, got %v", got)
	}
	if got := promtest.ToFloat64(m.decisions.WithLabelValues("accept")); got != 1 {
		t.Fatalf("expected 1 accepted decision, got %v", got)
	}
	if got := promtest.ToFloat64(m.deployments.WithLabelValues(ledger.DeployRolledBack)); got != 1 {
		t.Fatalf("expected 1 rolled back deployment, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.rollbacks.Inc()
	server := httptest.NewServer(m.Handler())
	t.Cleanup(server.Close)
	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dia_harness_rollbacks_total 1") {
		t.Fatalf("expected rollback counter in exposition, got %s", body)
	}
}
