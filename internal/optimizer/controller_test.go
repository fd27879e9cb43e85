package optimizer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"diaharness/internal/fault"
	"diaharness/internal/ledger"
	"diaharness/internal/testutil"
)

type harness struct {
	eval     *scriptedEvaluator
	deployer *fakeDeployer
	improver *ruleImprover
	ledger   *ledger.Ledger
	observer *recordingObserver
}

func newHarness(t *testing.T, accuracies ...float64) *harness {
	t.Helper()
	deployer := &fakeDeployer{deployed: seedConfig()}
	return &harness{
		eval:     &scriptedEvaluator{accuracies: accuracies, deployer: deployer},
		deployer: deployer,
		improver: &ruleImprover{},
		ledger:   ledger.New(filepath.Join(t.TempDir(), "trajectory.json"), ledger.RunMetadata{RunID: "test"}),
		observer: &recordingObserver{},
	}
}

func (h *harness) run(t *testing.T, opts Options, mutate func(*Dependencies)) Result {
	t.Helper()
	deps := Dependencies{
		Evaluator: h.eval,
		Deployer:  h.deployer,
		Improver:  h.improver,
		Ledger:    h.ledger,
		Train:     trainSuite(10),
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := New(deps, opts, WithObserver(h.observer))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c.Run(testutil.Context(t, 0))
}

func options(maxIterations int, threshold float64) Options {
	opts := DefaultOptions()
	opts.MaxIterations = maxIterations
	opts.RegressionThreshold = threshold
	opts.Repeats = 1
	return opts
}

// TestRollbackScenario verifies 40 → 90 → 70 rolls back to iteration 2.
func TestRollbackScenario(t *testing.T) {
	h := newHarness(t, 40, 90, 70)
	result := h.run(t, options(3, 5), nil)

	if result.Outcome != Exhausted {
		t.Fatalf("expected exhausted, got %s (%s)", result.Outcome, result.Reason)
	}
	records := h.ledger.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Rollback != nil || records[1].Rollback != nil {
		t.Fatalf("expected no rollback before iteration 3")
	}
	if records[2].Rollback == nil || records[2].Rollback.ToIteration != 2 {
		t.Fatalf("expected iteration 3 rolled back to 2, got %+v", records[2].Rollback)
	}
	redeployed, _ := h.deployer.lastApplied()
	if !redeployed.Equal(records[1].Configuration) {
		t.Fatalf("expected redeployed configuration to equal iteration 2 snapshot")
	}
	if !h.deployer.current().Equal(records[1].Configuration) {
		t.Fatalf("expected deployed configuration reverted")
	}
	if records[2].Deployment.Status != ledger.DeployRolledBack {
		t.Fatalf("expected rolled_back deployment, got %q", records[2].Deployment.Status)
	}
	if result.Best.Iteration != 2 || result.Best.Accuracy != 90 {
		t.Fatalf("expected best iteration 2 at 90, got %+v", result.Best)
	}
	for _, rec := range records {
		if result.Best.Accuracy < rec.Accuracy() {
			t.Fatalf("best %.1f below iteration %d accuracy %.1f", result.Best.Accuracy, rec.Iteration, rec.Accuracy())
		}
	}
	if len(h.improver.requests) != 2 {
		t.Fatalf("expected no proposal on the regressed iteration, got %d proposals", len(h.improver.requests))
	}
	if h.observer.finished == nil || len(h.observer.recorded) != 3 {
		t.Fatalf("expected observer notifications, got %+v", h.observer)
	}
}

// TestRollbackBoundary verifies rollback only below best minus threshold.
func TestRollbackBoundary(t *testing.T) {
	if Regressed(80, 90, 10) {
		t.Fatalf("expected no regression at exactly best - threshold")
	}
	if !Regressed(79.9, 90, 10) {
		t.Fatalf("expected regression below best - threshold")
	}
	// 20/30 and 17/30 are exactly 10 points apart but not in float64.
	best := float64(20) * 100 / float64(30)
	current := float64(17) * 100 / float64(30)
	if Regressed(current, best, 10) {
		t.Fatalf("expected no regression at %v against best %v", current, best)
	}
	if !Regressed(float64(16)*100/float64(30), best, 10) {
		t.Fatalf("expected regression one case further down")
	}

	h := newHarness(t, 90, 80)
	h.run(t, options(2, 10), nil)
	if rec := h.ledger.Records()[1]; rec.Rollback != nil {
		t.Fatalf("expected no rollback at the threshold, got %+v", rec.Rollback)
	}

	h = newHarness(t, 90, 70)
	h.run(t, options(2, 10), nil)
	if rec := h.ledger.Records()[1]; rec.Rollback == nil {
		t.Fatalf("expected rollback below the threshold")
	}
}

// TestConvergesOnPerfectScore verifies the run stops at 100%.
func TestConvergesOnPerfectScore(t *testing.T) {
	h := newHarness(t, 50, 100, 100)
	result := h.run(t, options(5, 5), nil)
	if result.Outcome != Converged || result.Iterations != 2 {
		t.Fatalf("expected convergence after 2 iterations, got %s after %d", result.Outcome, result.Iterations)
	}
	if doc := h.ledger.Document(); doc.Outcome != ledger.OutcomeConverged {
		t.Fatalf("expected persisted outcome converged, got %q", doc.Outcome)
	}
	reloaded, err := ledger.Load(h.ledger.Path())
	if err != nil || reloaded == nil || len(reloaded.Iterations) != 2 {
		t.Fatalf("expected persisted trajectory with 2 iterations, got %+v err=%v", reloaded, err)
	}
}

// TestEvaluatesDeployedCandidate verifies each iteration evaluates the last deployment.
func TestEvaluatesDeployedCandidate(t *testing.T) {
	h := newHarness(t, 40, 50, 60)
	h.run(t, options(3, 5), nil)
	records := h.ledger.Records()
	for i := 1; i < len(records); i++ {
		want := records[i-1].Configuration.Instructions + "Rule " + string(rune('0'+i)) + ": never select columns that were not requested.\n"
		if records[i].Configuration.Instructions != want {
			t.Fatalf("iteration %d evaluated unexpected configuration %q", i+1, records[i].Configuration.Instructions)
		}
	}
	if len(h.improver.requests[1].Trajectory) != 1 || h.improver.requests[1].Trajectory[0].Iteration != 1 {
		t.Fatalf("expected trajectory context from iteration 1, got %+v", h.improver.requests[1].Trajectory)
	}
	if len(h.improver.requests[0].Failures) != 6 || len(h.improver.requests[0].Successes) != 4 {
		t.Fatalf("unexpected failures/successes in proposal request")
	}
}

// TestDeploymentFailureAborts verifies fail-closed deployment.
func TestDeploymentFailureAborts(t *testing.T) {
	h := newHarness(t, 40, 50)
	h.deployer.applyErr = &fault.DeploymentError{Attempts: 3, Err: errors.New("operation timed out")}
	result := h.run(t, options(2, 5), nil)
	if result.Outcome != Aborted {
		t.Fatalf("expected aborted, got %s", result.Outcome)
	}
	if !fault.IsFatal(result.Err) {
		t.Fatalf("expected fatal deployment error, got %v", result.Err)
	}
	records := h.ledger.Records()
	if len(records) != 1 || records[0].Deployment.Status != ledger.DeployFailed || records[0].Deployment.Attempts != 3 {
		t.Fatalf("expected failed deployment recorded, got %+v", records)
	}
}

// TestDeploymentFailureOverride verifies continue-anyway keeps iterating.
func TestDeploymentFailureOverride(t *testing.T) {
	h := newHarness(t, 40, 50)
	h.deployer.applyErr = errors.New("patch failed")
	opts := options(2, 5)
	opts.ContinueOnDeployFailure = true
	result := h.run(t, opts, nil)
	if result.Outcome != Exhausted || h.ledger.Len() != 2 {
		t.Fatalf("expected exhausted after 2 iterations, got %s with %d", result.Outcome, h.ledger.Len())
	}
	if !h.ledger.Records()[1].Configuration.Equal(seedConfig()) {
		t.Fatalf("expected seed configuration to stay deployed")
	}
}

// TestAuthorizationAbortsRun verifies authorization errors stop the run cleanly.
func TestAuthorizationAbortsRun(t *testing.T) {
	h := newHarness(t, 40)
	h.eval.err = &fault.AuthorizationError{Status: 403, Remediation: fault.DefaultRemediation}
	result := h.run(t, options(3, 5), nil)
	if result.Outcome != Aborted || !fault.IsAuthorization(result.Err) {
		t.Fatalf("expected authorization abort, got %s %v", result.Outcome, result.Err)
	}
	if !strings.Contains(result.Reason, fault.DefaultRemediation[0]) {
		t.Fatalf("expected remediation in reason, got %q", result.Reason)
	}
	if h.ledger.Len() != 0 {
		t.Fatalf("expected no records, got %d", h.ledger.Len())
	}
}

// TestRejectedCandidateKeepsConfiguration verifies validation rejections are not fatal.
func TestRejectedCandidateKeepsConfiguration(t *testing.T) {
	h := newHarness(t, 40, 40)
	h.improver.shrink = true
	result := h.run(t, options(2, 5), nil)
	if result.Outcome != Exhausted {
		t.Fatalf("expected exhausted, got %s", result.Outcome)
	}
	if _, applied := h.deployer.lastApplied(); applied {
		t.Fatalf("expected no deployment of rejected candidates")
	}
	rec := h.ledger.Records()[0]
	if rec.Validation == nil || rec.Validation.Kind != "reject" || !strings.HasPrefix(rec.ChangeDescription, "candidate rejected") {
		t.Fatalf("expected rejection recorded, got %+v", rec)
	}
	if want := (&fault.ValidationRejected{Reasons: rec.Validation.Reasons}).Error(); rec.ChangeDescription != want {
		t.Fatalf("expected description %q, got %q", want, rec.ChangeDescription)
	}
}

// TestDecisionSkipAndEdit verifies reviewer choices.
func TestDecisionSkipAndEdit(t *testing.T) {
	h := newHarness(t, 40, 40)
	skip := DecisionFunc(func(ctx context.Context, req DecisionRequest) (Choice, error) {
		return Choice{Action: Skip}, nil
	})
	h.run(t, options(2, 5), func(d *Dependencies) { d.Decision = skip })
	if _, applied := h.deployer.lastApplied(); applied {
		t.Fatalf("expected skip to avoid deployment")
	}
	if h.ledger.Records()[0].Decision != string(Skip) {
		t.Fatalf("expected skip decision recorded")
	}

	h = newHarness(t, 40, 40)
	edit := DecisionFunc(func(ctx context.Context, req DecisionRequest) (Choice, error) {
		edited := req.Proposal.Candidate.Clone()
		edited.Instructions += "Reviewer: always qualify ambiguous columns with the table name.\n"
		return Choice{Action: Edit, Edited: edited}, nil
	})
	h.run(t, options(2, 5), func(d *Dependencies) { d.Decision = edit })
	applied, ok := h.deployer.lastApplied()
	if !ok || !strings.Contains(applied.Instructions, "Reviewer:") {
		t.Fatalf("expected edited candidate deployed, got %q", applied.Instructions)
	}
}

// TestDecisionStopEndsRun verifies a reviewer can end the run early.
func TestDecisionStopEndsRun(t *testing.T) {
	h := newHarness(t, 40, 40, 40)
	stop := DecisionFunc(func(ctx context.Context, req DecisionRequest) (Choice, error) {
		return Choice{Action: Stop}, nil
	})
	result := h.run(t, options(3, 5), func(d *Dependencies) { d.Decision = stop })
	if result.Outcome != Aborted || result.Reason != "stopped by reviewer" || result.Err != nil {
		t.Fatalf("expected reviewer stop, got %s %q err=%v", result.Outcome, result.Reason, result.Err)
	}
	if _, applied := h.deployer.lastApplied(); applied {
		t.Fatalf("expected no deployment after stop")
	}
	if h.ledger.Len() != 1 || h.ledger.Records()[0].Decision != string(Stop) {
		t.Fatalf("expected the stopped iteration recorded, got %d records", h.ledger.Len())
	}
	if doc := h.ledger.Document(); doc.Outcome != ledger.OutcomeAborted || doc.Reason != "stopped by reviewer" {
		t.Fatalf("expected persisted stop, got %q %q", doc.Outcome, doc.Reason)
	}
}

// TestProposalErrorIsRecorded verifies improver failures do not stop the run.
func TestProposalErrorIsRecorded(t *testing.T) {
	h := newHarness(t, 40, 40)
	h.improver.err = errors.New("model overloaded")
	result := h.run(t, options(2, 5), nil)
	if result.Outcome != Exhausted || h.ledger.Len() != 2 {
		t.Fatalf("expected two recorded iterations, got %s/%d", result.Outcome, h.ledger.Len())
	}
	if !strings.Contains(h.ledger.Records()[0].ChangeDescription, "model overloaded") {
		t.Fatalf("expected proposal error recorded")
	}
}

// TestHoldoutEvaluatedAndRecorded verifies the held-out suite is scored each iteration.
func TestHoldoutEvaluatedAndRecorded(t *testing.T) {
	h := newHarness(t, 40, 50)
	h.eval.holdoutAcc = 30
	holdout := trainSuite(10)
	holdout.Name = "holdout"
	h.run(t, options(2, 5), func(d *Dependencies) { d.Holdout = &holdout })
	if h.eval.holdouts != 2 {
		t.Fatalf("expected 2 holdout evaluations, got %d", h.eval.holdouts)
	}
	rec := h.ledger.Records()[0]
	if rec.Holdout == nil || rec.Holdout.Mean != 30 {
		t.Fatalf("expected holdout metrics recorded, got %+v", rec.Holdout)
	}
}

// TestResumeContinuesNumbering verifies a resumed ledger continues where it stopped.
func TestResumeContinuesNumbering(t *testing.T) {
	h := newHarness(t, 40, 60)
	h.run(t, options(2, 5), nil)

	resumed, err := ledger.Open(h.ledger.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.ledger = resumed
	h.eval.accuracies = append(h.eval.accuracies, 70)
	result := h.run(t, options(3, 5), nil)
	if result.Outcome != Exhausted || resumed.Len() != 3 {
		t.Fatalf("expected 3 iterations after resume, got %d", resumed.Len())
	}
	if resumed.Records()[2].Iteration != 3 {
		t.Fatalf("expected iteration 3 appended")
	}
}

// TestNewValidatesDependencies verifies constructor checks.
func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Dependencies{}, DefaultOptions()); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
	deps := Dependencies{
		Evaluator: &scriptedEvaluator{},
		Deployer:  &fakeDeployer{},
		Improver:  &ruleImprover{},
		Ledger:    ledger.New("", ledger.RunMetadata{}),
		Train:     trainSuite(1),
	}
	opts := DefaultOptions()
	opts.Repeats = 0
	if _, err := New(deps, opts); err == nil {
		t.Fatalf("expected error for zero repeats")
	}
	if _, err := New(deps, DefaultOptions()); err != nil {
		t.Fatalf("expected valid controller, got %v", err)
	}
}
