package optimizer

import "diaharness/internal/ledger"

// State is a step of the optimization state machine.
type State string

const (
	StateInitializing State = "initializing"
	StateEvaluating   State = "evaluating"
	StateAnalyzing    State = "analyzing"
	StateProposing    State = "proposing"
	StateValidating   State = "validating"
	StateDeploying    State = "deploying"
	StateRecording    State = "recording"
	StateConverged    State = "converged"
	StateContinuing   State = "continuing"
	StateRolledBack   State = "rolled_back"
	StateAborted      State = "aborted"
)

// Outcome is the terminal result of a run.
type Outcome string

const (
	Converged Outcome = ledger.OutcomeConverged
	Exhausted Outcome = ledger.OutcomeExhausted
	Aborted   Outcome = ledger.OutcomeAborted
)

// Result summarizes a finished run.
type Result struct {
	Outcome    Outcome
	Reason     string
	Iterations int
	Best       ledger.Checkpoint
	Err        error
}

// Observer follows the controller. Callbacks run on the controller goroutine.
type Observer interface {
	StateChanged(iteration int, state State)
	IterationRecorded(rec ledger.IterationRecord)
	RunFinished(result Result)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) StateChanged(int, State) {}
func (NopObserver) IterationRecorded(ledger.IterationRecord) {}
func (NopObserver) RunFinished(Result) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StateChanged(iteration int, state State) {
	for _, obs := range o {
		obs.StateChanged(iteration, state)
	}
}

func (o Observers) IterationRecorded(rec ledger.IterationRecord) {
	for _, obs := range o {
		obs.IterationRecorded(rec)
	}
}

func (o Observers) RunFinished(result Result) {
	for _, obs := range o {
		obs.RunFinished(result)
	}
}
