package live

import (
	"time"

	"diaharness/internal/optimizer"
)

// CaseRow holds UI state for one test case of one suite across its repeats.
type CaseRow struct {
	Suite   string
	Index   int
	CaseID  string
	Running int
	Passed  int
	Failed  int
	Errored int
	Retries int
	Latency time.Duration
	Error   string
}

// Finished returns the number of completed repeats.
func (r CaseRow) Finished() int {
	return r.Passed + r.Failed + r.Errored
}

// PassState tracks one evaluation pass of the current iteration.
type PassState struct {
	Suite string
	Units int
	Done  bool
	Mean  float64
	Std   float64
}

// UnitCounts aggregates unit counts across the current passes.
type UnitCounts struct {
	Units   int
	Running int
	Done    int
	Passed  int
	Failed  int
	Errored int
	Retries int
}

// IterationPoint is one recorded iteration in the trajectory line.
type IterationPoint struct {
	Iteration  int
	Accuracy   float64
	Deployment string
	RolledBack bool
}

// State captures the live UI state for an optimization run.
type State struct {
	RunID     string
	Agent     string
	StartedAt time.Time
	Iteration int
	Phase     optimizer.State
	Passes    []PassState
	Rows      []CaseRow
	Counts    UnitCounts
	History   []IterationPoint
	Best      IterationPoint
	HasBest   bool
	Outcome   optimizer.Outcome
	LastEvent string
}
