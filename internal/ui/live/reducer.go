package live

import (
	"fmt"
	"time"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/optimizer"
)

// Reduce applies an event to the UI state.
func Reduce(state State, event Event) State {
	switch event.Kind {
	case EventRunStart:
		state.RunID = event.RunID
		state.Agent = event.Agent
	case EventPhase:
		if event.Phase == optimizer.StateEvaluating && event.Iteration != state.Iteration {
			state.Passes = nil
			state.Rows = nil
		}
		state.Iteration = event.Iteration
		state.Phase = event.Phase
		state.LastEvent = fmt.Sprintf("Iteration %d %s", event.Iteration, phaseLabel(event.Phase))
	case EventPassStart:
		state = startPass(state, event.Suite, event.Units)
	case EventUnitStart:
		state = updateRow(state, event.Unit, func(row *CaseRow) {
			row.Running++
		})
	case EventUnitRetry:
		state = updateRow(state, event.Unit, func(row *CaseRow) {
			row.Retries++
		})
		state.LastEvent = fmt.Sprintf("%s %s retry %d", event.Unit.Suite, formatCaseID(event.Unit.CaseID, event.Unit.Index), event.Attempt)
	case EventUnitEnd:
		state = updateRow(state, event.Unit, func(row *CaseRow) {
			if row.Running > 0 {
				row.Running--
			}
			switch {
			case event.Unit.Error != "":
				row.Errored++
				row.Error = event.Unit.Error
			case event.Unit.Passed:
				row.Passed++
			default:
				row.Failed++
			}
			row.Latency = event.Unit.Latency
		})
		if event.Unit.Error != "" {
			state.LastEvent = fmt.Sprintf("%s %s error: %s", event.Unit.Suite, formatCaseID(event.Unit.CaseID, event.Unit.Index), event.Unit.Error)
		}
	case EventPassEnd:
		for i := range state.Passes {
			if state.Passes[i].Suite == event.Suite {
				state.Passes[i].Done = true
				state.Passes[i].Mean = event.Metrics.Mean
				state.Passes[i].Std = event.Metrics.Std
			}
		}
		state.LastEvent = fmt.Sprintf("%s pass finished: %s", event.Suite, formatAccuracy(event.Metrics.Mean, event.Metrics.Std))
	case EventIteration:
		state = recordIteration(state, event.Record)
	case EventRunEnd:
		state.Outcome = event.Result.Outcome
		state.LastEvent = "Run " + string(event.Result.Outcome)
		if event.Result.Reason != "" {
			state.LastEvent += ": " + event.Result.Reason
		}
	}
	state.Counts = recount(state.Passes, state.Rows)
	return state
}

// startPass registers a pass and clears rows left by a previous pass of the
// same suite.
func startPass(state State, suite string, units int) State {
	passes := make([]PassState, 0, len(state.Passes)+1)
	for _, pass := range state.Passes {
		if pass.Suite != suite {
			passes = append(passes, pass)
		}
	}
	state.Passes = append(passes, PassState{Suite: suite, Units: units})
	rows := make([]CaseRow, 0, len(state.Rows))
	for _, row := range state.Rows {
		if row.Suite != suite {
			rows = append(rows, row)
		}
	}
	state.Rows = rows
	return state
}

// updateRow finds or creates the row for the unit's case and applies fn.
func updateRow(state State, unit evaluator.UnitEvent, fn func(*CaseRow)) State {
	rows := append([]CaseRow(nil), state.Rows...)
	pos := -1
	for i, row := range rows {
		if row.Suite == unit.Suite && row.Index == unit.Index {
			pos = i
			break
		}
	}
	if pos < 0 {
		rows = append(rows, CaseRow{Suite: unit.Suite, Index: unit.Index, CaseID: unit.CaseID})
		pos = len(rows) - 1
		for pos > 0 && rowLess(rows[pos], rows[pos-1]) {
			rows[pos], rows[pos-1] = rows[pos-1], rows[pos]
			pos--
		}
	}
	fn(&rows[pos])
	state.Rows = rows
	return state
}

func rowLess(a, b CaseRow) bool {
	if a.Suite != b.Suite {
		return a.Suite < b.Suite
	}
	return a.Index < b.Index
}

// recordIteration adds or replaces a trajectory point. A record is seen a
// second time when a rollback flag is set on it.
func recordIteration(state State, rec ledger.IterationRecord) State {
	point := IterationPoint{
		Iteration:  rec.Iteration,
		Accuracy:   rec.Accuracy(),
		Deployment: rec.Deployment.Status,
		RolledBack: rec.Rollback != nil,
	}
	history := append([]IterationPoint(nil), state.History...)
	replaced := false
	for i := range history {
		if history[i].Iteration == point.Iteration {
			history[i] = point
			replaced = true
		}
	}
	if !replaced {
		history = append(history, point)
	}
	state.History = history
	if !state.HasBest || point.Accuracy > state.Best.Accuracy {
		state.Best = point
		state.HasBest = true
	}
	message := fmt.Sprintf("Iteration %d recorded: %s", rec.Iteration, formatPercent(point.Accuracy))
	if point.Deployment != "" {
		message += " (" + point.Deployment + ")"
	}
	if rec.Rollback != nil {
		message = fmt.Sprintf("Iteration %d rolled back to %d", rec.Iteration, rec.Rollback.ToIteration)
	}
	state.LastEvent = message
	return state
}

// recount recomputes unit counts for the current passes.
func recount(passes []PassState, rows []CaseRow) UnitCounts {
	var counts UnitCounts
	for _, pass := range passes {
		counts.Units += pass.Units
	}
	for _, row := range rows {
		counts.Running += row.Running
		counts.Passed += row.Passed
		counts.Failed += row.Failed
		counts.Errored += row.Errored
		counts.Retries += row.Retries
	}
	counts.Done = counts.Passed + counts.Failed + counts.Errored
	return counts
}

// formatDuration renders a rounded duration for display.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	return duration.Round(100 * time.Millisecond).String()
}
