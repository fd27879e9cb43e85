package ledger

import (
	"time"

	"diaharness/internal/agentconf"
	"diaharness/internal/metrics"
)

// RunMetadata identifies an optimization run.
type RunMetadata struct {
	RunID           string    `json:"run_id"`
	AgentName       string    `json:"agent_name,omitempty"`
	AgentID         string    `json:"agent_id,omitempty"`
	StartTime       time.Time `json:"start_time"`
	SeedFingerprint string    `json:"seed_fingerprint,omitempty"`
	Repeats         int       `json:"repeats,omitempty"`
	Threshold       float64   `json:"regression_threshold_pp,omitempty"`
}

// Deployment statuses recorded per iteration.
const (
	DeploySkipped    = "skipped"
	DeployApplied    = "applied"
	DeployFailed     = "failed"
	DeployRolledBack = "rolled_back"
)

// Deployment is the outcome of applying a configuration during an iteration.
type Deployment struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Validation summarizes the gate decision for the proposed candidate.
type Validation struct {
	Kind     string   `json:"kind"`
	Accepted []string `json:"accepted,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Rollback marks an iteration whose configuration was reverted.
type Rollback struct {
	ToIteration int    `json:"to_iteration"`
	Reason      string `json:"reason,omitempty"`
}

// CaseResult is the per-case pass count of one iteration.
type CaseResult struct {
	CaseID string `json:"case_id"`
	Passed int    `json:"passed"`
	Total  int    `json:"total"`
}

// IterationRecord is one appended iteration. Records are never modified
// after Append except for Rollback.
type IterationRecord struct {
	Iteration         int                     `json:"iteration"`
	Timestamp         time.Time               `json:"timestamp"`
	Configuration     agentconf.Configuration `json:"configuration"`
	Metrics           metrics.Aggregated      `json:"metrics"`
	Holdout           *metrics.Aggregated     `json:"holdout,omitempty"`
	Failures          []metrics.FailureRecord `json:"failures"`
	Cases             []CaseResult            `json:"cases,omitempty"`
	ChangeDescription string                  `json:"change_description"`
	Decision          string                  `json:"decision,omitempty"`
	Validation        *Validation             `json:"validation,omitempty"`
	Deployment        Deployment              `json:"deployment"`
	Rollback          *Rollback               `json:"rollback,omitempty"`
}

// Accuracy returns the headline accuracy of the record.
func (r IterationRecord) Accuracy() float64 {
	return r.Metrics.Accuracy()
}

// Checkpoint is the best configuration seen so far.
type Checkpoint struct {
	Iteration     int                     `json:"iteration"`
	Accuracy      float64                 `json:"accuracy"`
	Configuration agentconf.Configuration `json:"configuration"`
}

// Run outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeConverged = "converged"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
)

// Document is the persisted trajectory file.
type Document struct {
	Run        RunMetadata       `json:"run"`
	Outcome    string            `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Best       *Checkpoint       `json:"best,omitempty"`
	Iterations []IterationRecord `json:"iterations"`
}

// CaseResults tallies per-case pass counts from raw outcomes.
func CaseResults(outcomes []metrics.Outcome) []CaseResult {
	index := map[string]int{}
	var results []CaseResult
	sorted := append([]metrics.Outcome(nil), outcomes...)
	metrics.SortOutcomes(sorted)
	for _, outcome := range sorted {
		i, ok := index[outcome.CaseID]
		if !ok {
			i = len(results)
			index[outcome.CaseID] = i
			results = append(results, CaseResult{CaseID: outcome.CaseID})
		}
		results[i].Total++
		if outcome.Passed {
			results[i].Passed++
		}
	}
	return results
}
