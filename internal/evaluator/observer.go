package evaluator

import (
	"time"

	"diaharness/internal/metrics"
)

// UnitEvent describes the progress of one evaluation unit.
type UnitEvent struct {
	Suite    string
	CaseID   string
	Index    int
	Repeat   int
	Passed   bool
	Error    string
	Attempts int
	Latency  time.Duration
}

// Observer receives evaluation progress. Implementations must be safe for
// concurrent use; callbacks run on worker goroutines.
type Observer interface {
	PassStarted(suite string, units int)
	UnitStarted(event UnitEvent)
	UnitRetried(event UnitEvent, attempt int)
	UnitFinished(event UnitEvent)
	PassFinished(suite string, agg metrics.Aggregated)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) PassStarted(string, int) {}
func (NopObserver) UnitStarted(UnitEvent) {}
func (NopObserver) UnitRetried(UnitEvent, int) {}
func (NopObserver) UnitFinished(UnitEvent) {}
func (NopObserver) PassFinished(string, metrics.Aggregated) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) PassStarted(suite string, units int) {
	for _, obs := range o {
		obs.PassStarted(suite, units)
	}
}

func (o Observers) UnitStarted(event UnitEvent) {
	for _, obs := range o {
		obs.UnitStarted(event)
	}
}

func (o Observers) UnitRetried(event UnitEvent, attempt int) {
	for _, obs := range o {
		obs.UnitRetried(event, attempt)
	}
}

func (o Observers) UnitFinished(event UnitEvent) {
	for _, obs := range o {
		obs.UnitFinished(event)
	}
}

func (o Observers) PassFinished(suite string, agg metrics.Aggregated) {
	for _, obs := range o {
		obs.PassFinished(suite, agg)
	}
}
