package optimizer

import (
	"context"

	"diaharness/internal/agentconf"
	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/suite"
)

// Evaluator scores the currently deployed configuration.
type Evaluator interface {
	Evaluate(ctx context.Context, s suite.Suite, repeats int) (evaluator.Report, error)
}

// Applied is the result of a successful deployment.
type Applied struct {
	Snapshot agentconf.Configuration
	Attempts int
}

// Deployer applies configurations to the remote agent. Current is the source
// of truth for what is deployed.
type Deployer interface {
	Apply(ctx context.Context, cfg agentconf.Configuration) (Applied, error)
	Current(ctx context.Context) (agentconf.Configuration, error)
}

// ProposalRequest carries everything the improver sees.
type ProposalRequest struct {
	Iteration  int
	Current    agentconf.Configuration
	Failures   []metrics.FailureRecord
	Successes  []metrics.Outcome
	Trajectory []ledger.ContextEntry
	Metrics    metrics.Aggregated
}

// Proposal is a candidate configuration and its description.
type Proposal struct {
	Candidate         agentconf.Configuration
	ChangeDescription string
}

// Improver proposes a new configuration from failure analysis.
type Improver interface {
	Propose(ctx context.Context, req ProposalRequest) (Proposal, error)
}

// Action is the reviewer's choice for a proposal.
type Action string

const (
	Approve Action = "approve"
	Edit    Action = "edit"
	Skip    Action = "skip"
	// Stop records the iteration and ends the run.
	Stop    Action = "stop"
)

// DecisionRequest is shown to the reviewer.
type DecisionRequest struct {
	Iteration int
	Current   agentconf.Configuration
	Proposal  Proposal
	Metrics   metrics.Aggregated
}

// Choice is the reviewer's answer. Edited is used when Action is Edit.
type Choice struct {
	Action Action
	Edited agentconf.Configuration
	Note   string
}

// Decision approves, edits, skips or stops on proposals.
type Decision interface {
	Decide(ctx context.Context, req DecisionRequest) (Choice, error)
}

// AutoApprove approves every proposal.
type AutoApprove struct{}

// Decide implements Decision.
func (AutoApprove) Decide(context.Context, DecisionRequest) (Choice, error) {
	return Choice{Action: Approve}, nil
}

// DecisionFunc adapts a function to Decision.
type DecisionFunc func(ctx context.Context, req DecisionRequest) (Choice, error)

// Decide calls f.
func (f DecisionFunc) Decide(ctx context.Context, req DecisionRequest) (Choice, error) {
	return f(ctx, req)
}
