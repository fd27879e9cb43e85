// Package evaluator runs a test suite repeatedly against the deployed agent
// configuration and aggregates the results.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"diaharness/internal/fault"
	"diaharness/internal/judge"
	"diaharness/internal/metrics"
	"diaharness/internal/retry"
	"diaharness/internal/suite"
)

// Executor sends one question to the remote agent and returns the generated query.
type Executor interface {
	Execute(ctx context.Context, question string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, question string) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Report is the result of one evaluation pass.
type Report struct {
	Suite    string             `json:"suite"`
	Outcomes []metrics.Outcome  `json:"outcomes"`
	Metrics  metrics.Aggregated `json:"metrics"`
	Duration time.Duration      `json:"duration_ns"`
}

// Evaluator dispatches R×N units over a bounded worker pool.
type Evaluator struct {
	executor    Executor
	judge       judge.Judge
	retrier     *retry.Retrier
	policy      retry.Policy
	workers     int
	limiter     *rate.Limiter
	unitTimeout time.Duration
	failures    metrics.FailurePolicy
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithWorkers bounds the number of concurrent units.
func WithWorkers(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetryPolicy sets the backoff policy for transient errors.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(e *Evaluator) { e.policy = policy }
}

// WithRetrier supplies a prebuilt retrier, mainly for tests.
func WithRetrier(r *retry.Retrier) Option {
	return func(e *Evaluator) { e.retrier = r }
}

// WithRateLimit paces unit starts to rps per second; zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(e *Evaluator) {
		if rps > 0 {
			burst := max(1, int(rps))
			e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithUnitTimeout bounds each attempt of a unit.
func WithUnitTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.unitTimeout = d }
}

// WithFailurePolicy selects how failures are extracted.
func WithFailurePolicy(policy metrics.FailurePolicy) Option {
	return func(e *Evaluator) { e.failures = policy }
}

// WithObserver registers progress callbacks.
func WithObserver(observer Observer) Option {
	return func(e *Evaluator) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// New builds an Evaluator.
func New(executor Executor, j judge.Judge, opts ...Option) *Evaluator {
	e := &Evaluator{
		executor:    executor,
		judge:       j,
		policy:      retry.DefaultPolicy(),
		workers:     10,
		unitTimeout: 2 * time.Minute,
		failures:    metrics.WorstRepeat,
		observer:    NopObserver{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.retrier == nil {
		e.retrier = retry.New(e.policy)
	}
	return e
}

type unit struct {
	index  int
	repeat int
	tc     suite.TestCase
	pos    int
}

type unitResult struct {
	pos     int
	outcome metrics.Outcome
}

// Evaluate runs every case of s repeats times. An authorization error aborts
// the pass immediately and is returned; all other failures become failed outcomes.
func (e *Evaluator) Evaluate(ctx context.Context, s suite.Suite, repeats int) (Report, error) {
	if repeats < 1 {
		return Report{}, fmt.Errorf("repeats must be >= 1, got %d", repeats)
	}
	if len(s.Cases) == 0 {
		return Report{}, fmt.Errorf("suite %q has no test cases", s.Name)
	}
	start := e.now()
	units := make([]unit, 0, repeats*len(s.Cases))
	for r := 0; r < repeats; r++ {
		for i, tc := range s.Cases {
			units = append(units, unit{index: i, repeat: r, tc: tc, pos: len(units)})
		}
	}
	e.observer.PassStarted(s.Name, len(units))
	e.logger.Info("evaluation started", slog.String("suite", s.Name), slog.Int("cases", len(s.Cases)), slog.Int("repeats", repeats), slog.Int("workers", e.workers))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	resultCh := make(chan unitResult, len(units))
	for _, u := range units {
		group.Go(func() error {
			outcome, err := e.runUnit(gctx, s.Name, u)
			if err != nil {
				return err
			}
			resultCh <- unitResult{pos: u.pos, outcome: outcome}
			return nil
		})
	}
	err := group.Wait()
	close(resultCh)
	if err != nil {
		e.logger.Error("evaluation aborted", slog.String("suite", s.Name), slog.String("error", err.Error()))
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	outcomes := make([]metrics.Outcome, len(units))
	for res := range resultCh {
		outcomes[res.pos] = res.outcome
	}
	metrics.SortOutcomes(outcomes)
	agg := metrics.Aggregate(outcomes, e.failures)
	report := Report{Suite: s.Name, Outcomes: outcomes, Metrics: agg, Duration: e.now().Sub(start)}
	e.observer.PassFinished(s.Name, agg)
	e.logger.Info("evaluation finished",
		slog.String("suite", s.Name),
		slog.Float64("mean", agg.Mean),
		slog.Float64("std", agg.Std),
		slog.Int("failures", len(agg.Failures)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// runUnit executes and judges one (case, repeat) pair. Only fatal errors and
// cancellation are returned.
func (e *Evaluator) runUnit(ctx context.Context, suiteName string, u unit) (metrics.Outcome, error) {
	event := UnitEvent{Suite: suiteName, CaseID: u.tc.ID, Index: u.index, Repeat: u.repeat}
	e.observer.UnitStarted(event)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return metrics.Outcome{}, err
		}
	}

	outcome := metrics.Outcome{
		CaseID:    u.tc.ID,
		CaseIndex: u.index,
		Repeat:    u.repeat,
		Question:  u.tc.Question,
		Expected:  u.tc.Expected,
	}
	start := e.now()
	var generated string
	result, err := e.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			e.observer.UnitRetried(event, attempt)
		}
		attemptCtx, cancel := e.attemptContext(ctx)
		defer cancel()
		out, execErr := e.executor.Execute(attemptCtx, u.tc.Question)
		if execErr != nil {
			return classify(ctx, execErr)
		}
		generated = out
		return nil
	})
	outcome.Attempts = result.Attempts
	outcome.Latency = e.now().Sub(start)

	if err != nil {
		if fault.IsAuthorization(err) {
			return metrics.Outcome{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return metrics.Outcome{}, ctxErr
		}
		outcome.Error = err.Error()
		e.logger.Warn("unit failed", slog.String("case_id", u.tc.ID), slog.Int("repeat", u.repeat), slog.Int("attempts", result.Attempts), slog.String("error", err.Error()))
		e.finish(event, outcome)
		return outcome, nil
	}

	outcome.Generated = generated
	verdict, err := e.judge.Score(ctx, u.tc, generated)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return metrics.Outcome{}, ctxErr
		}
		outcome.Error = "judge: " + err.Error()
		e.finish(event, outcome)
		return outcome, nil
	}
	outcome.Passed = verdict.Passed
	outcome.ExactMatch = verdict.ExactMatch
	outcome.Score = verdict.Score
	outcome.Explanation = verdict.Explanation
	e.finish(event, outcome)
	return outcome, nil
}

func (e *Evaluator) finish(event UnitEvent, outcome metrics.Outcome) {
	event.Passed = outcome.Passed
	event.Error = outcome.Error
	event.Attempts = outcome.Attempts
	event.Latency = outcome.Latency
	e.observer.UnitFinished(event)
}

func (e *Evaluator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.unitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.unitTimeout)
}

// classify maps executor errors into the fault taxonomy. A timeout of the
// attempt context is transient; cancellation of the parent is not.
func classify(parent context.Context, err error) error {
	var (
		transient *fault.TransientError
		nonRetry  *fault.NonRetryableError
		auth      *fault.AuthorizationError
	)
	if errors.As(err, &transient) || errors.As(err, &nonRetry) || errors.As(err, &auth) {
		return err
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return fault.Classify("execute", 0, err)
}
