// Package telemetry exports Prometheus metrics for evaluation passes and the
// optimization loop.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

const namespace = "dia_harness"

// Metrics holds the collectors of one process. It implements
// evaluator.Observer and optimizer.Observer.
type Metrics struct {
	registry *prometheus.Registry

	units       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	accuracy    *prometheus.GaugeVec
	decisions   *prometheus.CounterVec
	deployments *prometheus.CounterVec
	rollbacks   prometheus.Counter
	iteration   prometheus.Gauge
	best        prometheus.Gauge

	mu      sync.Mutex
	bestAcc float64
	hasBest bool
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		units: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_units_total",
			Help:      "Evaluation units by suite and result",
		}, []string{"suite", "result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_retries_total",
			Help:      "Retried agent calls by suite",
		}, []string{"suite"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_unit_latency_seconds",
			Help:      "Latency of one evaluation unit including retries",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"suite"}),
		accuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accuracy_percent",
			Help:      "Mean accuracy of the latest pass by suite",
		}, []string{"suite"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_decisions_total",
			Help:      "Validated candidates by gate outcome",
		}, []string{"kind"}),
		deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Iteration deployments by status",
		}, []string{"status"}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Regression rollbacks",
		}),
		iteration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration",
			Help:      "Current iteration",
		}),
		best: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_accuracy_percent",
			Help:      "Best recorded training accuracy",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PassStarted(string, int) {}

func (m *Metrics) UnitStarted(evaluator.UnitEvent) {}

func (m *Metrics) UnitRetried(event evaluator.UnitEvent, _ int) {
	m.retries.WithLabelValues(event.Suite).Inc()
}

func (m *Metrics) UnitFinished(event evaluator.UnitEvent) {
	result := "fail"
	switch {
	case event.Error != "":
		result = "error"
	case event.Passed:
		result = "pass"
	}
	m.units.WithLabelValues(event.Suite, result).Inc()
	m.latency.WithLabelValues(event.Suite).Observe(event.Latency.Seconds())
}

func (m *Metrics) PassFinished(suite string, agg metrics.Aggregated) {
	m.accuracy.WithLabelValues(suite).Set(agg.Mean)
}

func (m *Metrics) StateChanged(iteration int, _ optimizer.State) {
	if iteration > 0 {
		m.iteration.Set(float64(iteration))
	}
}

func (m *Metrics) IterationRecorded(rec ledger.IterationRecord) {
	if rec.Validation != nil {
		m.decisions.WithLabelValues(rec.Validation.Kind).Inc()
	}
	if rec.Deployment.Status != "" {
		m.deployments.WithLabelValues(rec.Deployment.Status).Inc()
	}
	if rec.Rollback != nil {
		m.rollbacks.Inc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasBest || rec.Accuracy() > m.bestAcc {
		m.bestAcc = rec.Accuracy()
		m.hasBest = true
		m.best.Set(m.bestAcc)
	}
}

func (m *Metrics) RunFinished(result optimizer.Result) {
	if result.Iterations > 0 {
		m.best.Set(result.Best.Accuracy)
	}
}
