// Package optimizer runs the evaluate, propose, validate, deploy and rollback
// loop that improves an agent configuration.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"diaharness/internal/agentconf"
	"diaharness/internal/evaluator"
	"diaharness/internal/fault"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/suite"
	"diaharness/internal/validate"
)

// Options tune the loop.
type Options struct {
	MaxIterations int
	Repeats       int
	// RegressionThreshold is in percentage points.
	RegressionThreshold     float64
	ContinueOnDeployFailure bool
	TrajectoryContext       int
	SuccessSamples          int
}

// DefaultOptions mirrors the CLI defaults.
func DefaultOptions() Options {
	return Options{
		MaxIterations:       10,
		Repeats:             3,
		RegressionThreshold: 5,
		TrajectoryContext:   5,
		SuccessSamples:      5,
	}
}

// Dependencies are the collaborators of the controller.
type Dependencies struct {
	Evaluator Evaluator
	Deployer  Deployer
	Improver  Improver
	Decision  Decision
	Validator *validate.Validator
	Ledger    *ledger.Ledger
	Train     suite.Suite
	// Holdout is optional and evaluated concurrently with Train.
	Holdout *suite.Suite
}

// Controller drives the optimization state machine. It is not safe for
// concurrent use; one controller owns the deployed configuration.
type Controller struct {
	deps     Dependencies
	opts     Options
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	state    State
}

// Option customizes a Controller.
type Option func(*Controller)

// WithObserver registers an observer.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New validates dependencies and builds a Controller.
func New(deps Dependencies, opts Options, options ...Option) (*Controller, error) {
	var missing []string
	if deps.Evaluator == nil {
		missing = append(missing, "evaluator")
	}
	if deps.Deployer == nil {
		missing = append(missing, "deployer")
	}
	if deps.Improver == nil {
		missing = append(missing, "improver")
	}
	if deps.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("optimizer: missing %s", strings.Join(missing, ", "))
	}
	if len(deps.Train.Cases) == 0 {
		return nil, fmt.Errorf("optimizer: training suite is empty")
	}
	if opts.MaxIterations < 1 {
		return nil, fmt.Errorf("optimizer: max iterations must be >= 1, got %d", opts.MaxIterations)
	}
	if opts.Repeats < 1 {
		return nil, fmt.Errorf("optimizer: repeats must be >= 1, got %d", opts.Repeats)
	}
	if opts.RegressionThreshold < 0 {
		return nil, fmt.Errorf("optimizer: regression threshold must be >= 0, got %v", opts.RegressionThreshold)
	}
	if deps.Decision == nil {
		deps.Decision = AutoApprove{}
	}
	if deps.Validator == nil {
		deps.Validator = validate.New()
	}
	c := &Controller{
		deps:     deps,
		opts:     opts,
		observer: NopObserver{},
		now:      time.Now,
		state:    StateInitializing,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) enter(iteration int, state State) {
	c.state = state
	c.logger.Debug("state", slog.Int("iteration", iteration), slog.String("state", string(state)))
	c.observer.StateChanged(iteration, state)
}

// Run executes iterations until convergence, the iteration budget, or a fatal
// error. A resumed ledger continues from its next iteration number.
func (c *Controller) Run(ctx context.Context) Result {
	c.enter(0, StateInitializing)
	if _, err := c.deps.Deployer.Current(ctx); err != nil {
		return c.abort(ctx, 0, "read deployed configuration", err)
	}
	c.logger.Info("optimization started",
		slog.Int("next_iteration", c.deps.Ledger.NextIteration()),
		slog.Int("max_iterations", c.opts.MaxIterations),
		slog.Int("repeats", c.opts.Repeats),
		slog.Float64("regression_threshold_pp", c.opts.RegressionThreshold))

	for {
		iteration := c.deps.Ledger.NextIteration()
		if iteration > c.opts.MaxIterations {
			break
		}
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, iteration, "stopped", err)
		}
		done, result := c.iterate(ctx, iteration)
		if done {
			return result
		}
	}
	return c.finish(ctx, Result{Outcome: Exhausted, Reason: fmt.Sprintf("iteration budget of %d reached", c.opts.MaxIterations)})
}

// iterate runs one iteration. done reports whether the run ended.
func (c *Controller) iterate(ctx context.Context, iteration int) (bool, Result) {
	c.enter(iteration, StateEvaluating)
	current, err := c.deps.Deployer.Current(ctx)
	if err != nil {
		return true, c.abort(ctx, iteration, "read deployed configuration", err)
	}
	train, holdout, err := c.evaluate(ctx)
	if err != nil {
		return true, c.abort(ctx, iteration, "evaluation", err)
	}

	agg := train.Metrics
	accuracy := agg.Accuracy()
	rec := ledger.IterationRecord{
		Iteration:     iteration,
		Timestamp:     c.now().UTC(),
		Configuration: current.Clone(),
		Metrics:       withoutFailures(agg),
		Failures:      agg.Failures,
		Cases:         ledger.CaseResults(train.Outcomes),
		Deployment:    ledger.Deployment{Status: ledger.DeploySkipped},
	}
	if holdout != nil {
		hm := withoutFailures(holdout.Metrics)
		rec.Holdout = &hm
	}
	c.logger.Info("iteration evaluated",
		slog.Int("iteration", iteration),
		slog.Float64("accuracy", accuracy),
		slog.Float64("std", agg.Std),
		slog.Int("failures", len(agg.Failures)))

	if accuracy >= 100 {
		rec.ChangeDescription = "perfect score; no change"
		if err := c.record(ctx, rec); err != nil {
			return true, c.abort(ctx, iteration, "record iteration", err)
		}
		c.enter(iteration, StateConverged)
		return true, c.finish(ctx, Result{Outcome: Converged, Reason: "perfect score"})
	}

	if best, ok := c.deps.Ledger.Best(); ok && Regressed(accuracy, best.Accuracy, c.opts.RegressionThreshold) {
		return c.rollback(ctx, rec, best)
	}

	if len(agg.Failures) == 0 {
		rec.ChangeDescription = "no failures to analyze; no change"
		return c.recordAndContinue(ctx, rec)
	}

	c.enter(iteration, StateAnalyzing)
	base, err := c.deps.Deployer.Current(ctx)
	if err != nil {
		return true, c.abort(ctx, iteration, "read deployed configuration", err)
	}
	if !base.Equal(current) {
		c.logger.Warn("deployed configuration changed during evaluation", slog.Int("iteration", iteration))
	}

	c.enter(iteration, StateProposing)
	proposal, err := c.deps.Improver.Propose(ctx, ProposalRequest{
		Iteration:  iteration,
		Current:    base.Clone(),
		Failures:   agg.Failures,
		Successes:  metrics.Successes(train.Outcomes, agg.FailureRepeat, c.opts.SuccessSamples),
		Trajectory: c.deps.Ledger.TopByAccuracy(c.opts.TrajectoryContext),
		Metrics:    agg,
	})
	if err != nil {
		if fault.IsFatal(err) || ctx.Err() != nil {
			return true, c.abort(ctx, iteration, "propose candidate", err)
		}
		c.logger.Warn("proposal failed", slog.Int("iteration", iteration), slog.String("error", err.Error()))
		rec.Decision = "error"
		rec.ChangeDescription = "proposal failed: " + err.Error()
		return c.recordAndContinue(ctx, rec)
	}

	choice, err := c.deps.Decision.Decide(ctx, DecisionRequest{Iteration: iteration, Current: base, Proposal: proposal, Metrics: agg})
	if err != nil {
		return true, c.abort(ctx, iteration, "review candidate", err)
	}
	rec.Decision = string(choice.Action)
	candidate := proposal.Candidate
	description := proposal.ChangeDescription
	switch choice.Action {
	case Skip:
		rec.ChangeDescription = "skipped by reviewer"
		return c.recordAndContinue(ctx, rec)
	case Stop:
		rec.ChangeDescription = "stopped by reviewer"
		if err := c.record(ctx, rec); err != nil {
			return true, c.abort(ctx, iteration, "record iteration", err)
		}
		c.enter(iteration, StateAborted)
		return true, c.finish(ctx, Result{Outcome: Aborted, Reason: "stopped by reviewer"})
	case Edit:
		candidate = choice.Edited
		description = strings.TrimSpace(description + " (edited by reviewer)")
	}

	c.enter(iteration, StateValidating)
	decision := c.deps.Validator.Validate(base, candidate)
	rec.Validation = validationOf(decision)
	switch {
	case decision.NoOp():
		rec.ChangeDescription = ""
		return c.recordAndContinue(ctx, rec)
	case decision.Kind == validate.Reject:
		rejected := &fault.ValidationRejected{Reasons: decision.Reasons}
		c.logger.Warn("candidate rejected", slog.Int("iteration", iteration), slog.String("reason", decision.Reason()))
		rec.ChangeDescription = rejected.Error()
		return c.recordAndContinue(ctx, rec)
	case decision.Kind == validate.PartialAccept:
		description = fmt.Sprintf("%s (partially applied: %s; reverted: %s)", description, joinFields(decision.Accepted), joinFields(decision.Rejected))
	}
	rec.ChangeDescription = strings.TrimSpace(description)

	c.enter(iteration, StateDeploying)
	applied, err := c.deps.Deployer.Apply(ctx, decision.Merged)
	if err != nil {
		return c.deployFailed(ctx, rec, err)
	}
	rec.Deployment = ledger.Deployment{Status: ledger.DeployApplied, Attempts: applied.Attempts}
	if !applied.Snapshot.Equal(decision.Merged) {
		c.logger.Warn("applied snapshot differs from requested configuration", slog.Int("iteration", iteration))
	}
	return c.recordAndContinue(ctx, rec)
}

// accuracyTolerance absorbs float error in percentages such as 20/30 and 17/30.
const accuracyTolerance = 1e-9

// Regressed reports whether accuracy fell strictly more than threshold below best.
func Regressed(accuracy, best, threshold float64) bool {
	return accuracy < best-threshold-accuracyTolerance
}

func (c *Controller) evaluate(ctx context.Context) (evaluator.Report, *evaluator.Report, error) {
	var train evaluator.Report
	var holdout *evaluator.Report
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		report, err := c.deps.Evaluator.Evaluate(gctx, c.deps.Train, c.opts.Repeats)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", c.deps.Train.Name, err)
		}
		train = report
		return nil
	})
	if c.deps.Holdout != nil && len(c.deps.Holdout.Cases) > 0 {
		group.Go(func() error {
			report, err := c.deps.Evaluator.Evaluate(gctx, *c.deps.Holdout, c.opts.Repeats)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", c.deps.Holdout.Name, err)
			}
			holdout = &report
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return evaluator.Report{}, nil, err
	}
	return train, holdout, nil
}

func (c *Controller) rollback(ctx context.Context, rec ledger.IterationRecord, best ledger.Checkpoint) (bool, Result) {
	signal := fault.RegressionDetected{
		Iteration:     rec.Iteration,
		Accuracy:      rec.Accuracy(),
		BestIteration: best.Iteration,
		BestAccuracy:  best.Accuracy,
		Threshold:     c.opts.RegressionThreshold,
	}
	c.logger.Warn("regression detected", slog.Int("iteration", rec.Iteration), slog.String("detail", signal.String()))
	rec.ChangeDescription = fmt.Sprintf("rolled back to iteration %d", best.Iteration)

	c.enter(rec.Iteration, StateDeploying)
	applied, err := c.deps.Deployer.Apply(ctx, best.Configuration)
	if err != nil {
		return c.deployFailed(ctx, rec, err)
	}
	rec.Deployment = ledger.Deployment{Status: ledger.DeployRolledBack, Attempts: applied.Attempts}

	c.enter(rec.Iteration, StateRecording)
	if err := c.appendRecord(rec); err != nil {
		return true, c.abort(ctx, rec.Iteration, "record iteration", err)
	}
	if err := c.sinkTolerant(rec.Iteration, c.deps.Ledger.SetRollback(rec.Iteration, best.Iteration, signal.String())); err != nil {
		return true, c.abort(ctx, rec.Iteration, "record rollback", err)
	}
	if last, ok := c.deps.Ledger.Last(); ok {
		c.observer.IterationRecorded(last)
	}
	c.enter(rec.Iteration, StateRolledBack)
	return false, Result{}
}

func (c *Controller) deployFailed(ctx context.Context, rec ledger.IterationRecord, err error) (bool, Result) {
	attempts := 1
	var deployErr *fault.DeploymentError
	if errors.As(err, &deployErr) {
		attempts = deployErr.Attempts
	}
	rec.Deployment = ledger.Deployment{Status: ledger.DeployFailed, Attempts: attempts, Error: err.Error()}
	c.logger.Error("deployment failed", slog.Int("iteration", rec.Iteration), slog.String("error", err.Error()))
	if recErr := c.record(ctx, rec); recErr != nil {
		return true, c.abort(ctx, rec.Iteration, "record iteration", recErr)
	}
	if c.opts.ContinueOnDeployFailure && !fault.IsAuthorization(err) && ctx.Err() == nil {
		c.logger.Warn("continuing after deployment failure", slog.Int("iteration", rec.Iteration))
		c.enter(rec.Iteration, StateContinuing)
		return false, Result{}
	}
	if !fault.IsFatal(err) {
		err = &fault.DeploymentError{Attempts: attempts, Err: err}
	}
	return true, c.abort(ctx, rec.Iteration, "deploy configuration", err)
}

func (c *Controller) recordAndContinue(ctx context.Context, rec ledger.IterationRecord) (bool, Result) {
	if err := c.record(ctx, rec); err != nil {
		return true, c.abort(ctx, rec.Iteration, "record iteration", err)
	}
	c.enter(rec.Iteration, StateContinuing)
	return false, Result{}
}

func (c *Controller) record(_ context.Context, rec ledger.IterationRecord) error {
	c.enter(rec.Iteration, StateRecording)
	if err := c.appendRecord(rec); err != nil {
		return err
	}
	c.observer.IterationRecorded(rec)
	return nil
}

// appendRecord persists rec. Sink failures are logged; the trajectory file
// remains the record of truth.
func (c *Controller) appendRecord(rec ledger.IterationRecord) error {
	return c.sinkTolerant(rec.Iteration, c.deps.Ledger.Append(rec))
}

func (c *Controller) sinkTolerant(iteration int, err error) error {
	var sinkErr *ledger.SinkError
	if errors.As(err, &sinkErr) {
		c.logger.Warn("ledger sink failed", slog.Int("iteration", iteration), slog.String("error", sinkErr.Error()))
		return nil
	}
	return err
}

func (c *Controller) abort(ctx context.Context, iteration int, stage string, err error) Result {
	c.enter(iteration, StateAborted)
	reason := fmt.Sprintf("%s: %v", stage, err)
	var auth *fault.AuthorizationError
	if errors.As(err, &auth) && len(auth.Remediation) > 0 {
		reason += "\n" + strings.Join(auth.Remediation, "\n")
	}
	c.logger.Error("optimization aborted", slog.Int("iteration", iteration), slog.String("stage", stage), slog.String("error", err.Error()))
	return c.finish(ctx, Result{Outcome: Aborted, Reason: reason, Err: fmt.Errorf("%s: %w", stage, err)})
}

func (c *Controller) finish(_ context.Context, result Result) Result {
	result.Iterations = c.deps.Ledger.Len()
	if best, ok := c.deps.Ledger.Best(); ok {
		result.Best = best
	}
	if err := c.deps.Ledger.Finish(string(result.Outcome), result.Reason); err != nil {
		c.logger.Error("persist run outcome", slog.String("error", err.Error()))
		if result.Err == nil {
			result.Err = err
		}
	}
	c.logger.Info("optimization finished",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("iterations", result.Iterations),
		slog.Int("best_iteration", result.Best.Iteration),
		slog.Float64("best_accuracy", result.Best.Accuracy))
	c.observer.RunFinished(result)
	return result
}

func withoutFailures(agg metrics.Aggregated) metrics.Aggregated {
	agg.Failures = nil
	return agg
}

func validationOf(d validate.Decision) *ledger.Validation {
	return &ledger.Validation{
		Kind:     string(d.Kind),
		Accepted: fieldNames(d.Accepted),
		Rejected: fieldNames(d.Rejected),
		Reasons:  d.Reasons,
		Warnings: d.Warnings,
	}
}

func fieldNames(fields []agentconf.Field) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, string(f))
	}
	return names
}

func joinFields(fields []agentconf.Field) string {
	return strings.Join(fieldNames(fields), ", ")
}
