package live

import (
	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

// EventKind identifies the type of live UI event.
type EventKind int

const (
	// EventRunStart signals the start of a run.
	EventRunStart EventKind = iota
	// EventPhase signals a controller state change.
	EventPhase
	// EventPassStart signals the start of an evaluation pass over one suite.
	EventPassStart
	// EventUnitStart signals that a (case, repeat) unit started.
	EventUnitStart
	// EventUnitRetry signals a retried unit attempt.
	EventUnitRetry
	// EventUnitEnd signals unit completion.
	EventUnitEnd
	// EventPassEnd delivers the aggregated metrics of a pass.
	EventPassEnd
	// EventIteration delivers a recorded iteration.
	EventIteration
	// EventRunEnd signals run completion.
	EventRunEnd
)

// Event carries a UI update payload.
type Event struct {
	Kind      EventKind
	RunID     string
	Agent     string
	Iteration int
	Phase     optimizer.State
	Suite     string
	Units     int
	Unit      evaluator.UnitEvent
	Attempt   int
	Metrics   metrics.Aggregated
	Record    ledger.IterationRecord
	Result    optimizer.Result
}
