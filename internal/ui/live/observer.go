package live

import (
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
)

// Controller runs the live UI. It implements evaluator.Observer and
// optimizer.Observer.
type Controller struct {
	events    chan Event
	program   *tea.Program
	done      chan struct{}
	closeOnce sync.Once
}

// Start launches a live UI controller that writes to stdout.
func Start(stdout io.Writer, opts Options) *Controller {
	if stdout == nil {
		stdout = os.Stdout
	}
	events := make(chan Event, 1024)
	model := NewModel(events, opts)
	program := tea.NewProgram(model, tea.WithOutput(stdout), tea.WithAltScreen())
	controller := &Controller{
		events:  events,
		program: program,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(controller.done)
	}()
	return controller
}

// Close signals the UI to stop.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

// Wait blocks until the UI has exited.
func (c *Controller) Wait() {
	if c == nil {
		return
	}
	<-c.done
}

// RunStarted forwards run start events to the UI.
func (c *Controller) RunStarted(runID, agent string) {
	c.send(Event{Kind: EventRunStart, RunID: runID, Agent: agent})
}

// StateChanged implements optimizer.Observer.
func (c *Controller) StateChanged(iteration int, state optimizer.State) {
	c.send(Event{Kind: EventPhase, Iteration: iteration, Phase: state})
}

// PassStarted implements evaluator.Observer.
func (c *Controller) PassStarted(suite string, units int) {
	c.send(Event{Kind: EventPassStart, Suite: suite, Units: units})
}

// UnitStarted implements evaluator.Observer.
func (c *Controller) UnitStarted(event evaluator.UnitEvent) {
	c.send(Event{Kind: EventUnitStart, Unit: event})
}

// UnitRetried implements evaluator.Observer.
func (c *Controller) UnitRetried(event evaluator.UnitEvent, attempt int) {
	c.send(Event{Kind: EventUnitRetry, Unit: event, Attempt: attempt})
}

// UnitFinished implements evaluator.Observer.
func (c *Controller) UnitFinished(event evaluator.UnitEvent) {
	c.send(Event{Kind: EventUnitEnd, Unit: event})
}

// PassFinished implements evaluator.Observer.
func (c *Controller) PassFinished(suite string, agg metrics.Aggregated) {
	c.send(Event{Kind: EventPassEnd, Suite: suite, Metrics: agg})
}

// IterationRecorded implements optimizer.Observer.
func (c *Controller) IterationRecorded(rec ledger.IterationRecord) {
	c.send(Event{Kind: EventIteration, Record: rec})
}

// RunFinished forwards run completion to the UI and closes it.
func (c *Controller) RunFinished(result optimizer.Result) {
	c.send(Event{Kind: EventRunEnd, Result: result})
	c.Close()
}

// send enqueues an event without blocking the caller.
func (c *Controller) send(event Event) {
	if c == nil {
		return
	}
	defer func() {
		// Events racing Close are dropped.
		_ = recover()
	}()
	select {
	case c.events <- event:
	default:
	}
}
