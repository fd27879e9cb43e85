// Package ledger keeps the append-only trajectory of an optimization run.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"diaharness/internal/metrics"
)

// ErrRollbackSet is returned when an iteration already carries a rollback flag.
var ErrRollbackSet = errors.New("rollback already recorded")

// Sink mirrors records into another store. It sees a record after Append and
// again after SetRollback, so implementations must upsert.
type Sink interface {
	RecordWritten(meta RunMetadata, record IterationRecord) error
}

// Ledger is an append-only list of iteration records persisted after every
// change. It is safe for concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	path  string
	doc   Document
	sinks []Sink
	now   func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithSink registers a sink notified after each write.
func WithSink(sink Sink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sinks = append(l.sinks, sink)
		}
	}
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger persisted at path. An empty path keeps the
// ledger in memory only.
func New(path string, meta RunMetadata, opts ...Option) *Ledger {
	l := &Ledger{
		path: path,
		doc:  Document{Run: meta, Outcome: OutcomeRunning, Iterations: []IterationRecord{}},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open loads an existing trajectory for resumption.
func Open(path string, opts ...Option) (*Ledger, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("trajectory %s does not exist", path)
	}
	if err := checkSequence(doc.Iterations); err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", path, err)
	}
	l := New(path, doc.Run, opts...)
	l.doc = *doc
	if l.doc.Iterations == nil {
		l.doc.Iterations = []IterationRecord{}
	}
	l.doc.Outcome = OutcomeRunning
	l.doc.Reason = ""
	l.doc.Best = recomputeBest(l.doc.Iterations)
	return l, nil
}

func checkSequence(records []IterationRecord) error {
	for i, rec := range records {
		if rec.Iteration != i+1 {
			return fmt.Errorf("iteration %d found at position %d", rec.Iteration, i+1)
		}
	}
	return nil
}

func recomputeBest(records []IterationRecord) *Checkpoint {
	var best *Checkpoint
	for _, rec := range records {
		if best == nil || rec.Accuracy() > best.Accuracy {
			best = &Checkpoint{Iteration: rec.Iteration, Accuracy: rec.Accuracy(), Configuration: rec.Configuration.Clone()}
		}
	}
	return best
}

// Path returns the persistence path.
func (l *Ledger) Path() string {
	return l.path
}

// Metadata returns the run metadata.
func (l *Ledger) Metadata() RunMetadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc.Run
}

// NextIteration returns the number the next appended record must carry.
func (l *Ledger) NextIteration() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.doc.Iterations) + 1
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.doc.Iterations)
}

// Records returns a copy of all records in order.
func (l *Ledger) Records() []IterationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]IterationRecord(nil), l.doc.Iterations...)
}

// Last returns the most recent record.
func (l *Ledger) Last() (IterationRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.doc.Iterations) == 0 {
		return IterationRecord{}, false
	}
	return l.doc.Iterations[len(l.doc.Iterations)-1], true
}

// Best returns the best checkpoint: highest accuracy, earliest iteration on ties.
func (l *Ledger) Best() (Checkpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.doc.Best == nil {
		return Checkpoint{}, false
	}
	return *l.doc.Best, true
}

// Append adds a record and persists the ledger. The record's iteration must
// be exactly NextIteration. When the write fails the ledger is left as it was.
func (l *Ledger) Append(rec IterationRecord) error {
	l.mu.Lock()
	next := len(l.doc.Iterations) + 1
	if rec.Iteration != next {
		l.mu.Unlock()
		return fmt.Errorf("append iteration %d: expected %d", rec.Iteration, next)
	}
	if rec.Rollback != nil {
		l.mu.Unlock()
		return fmt.Errorf("append iteration %d: rollback must be set with SetRollback", rec.Iteration)
	}
	if rec.Failures == nil {
		rec.Failures = []metrics.FailureRecord{}
	}
	rec.Configuration = rec.Configuration.Clone()
	prevBest, prevUpdated := l.doc.Best, l.doc.UpdatedAt
	l.doc.Iterations = append(l.doc.Iterations, rec)
	if l.doc.Best == nil || rec.Accuracy() > l.doc.Best.Accuracy {
		l.doc.Best = &Checkpoint{Iteration: rec.Iteration, Accuracy: rec.Accuracy(), Configuration: rec.Configuration.Clone()}
	}
	meta := l.doc.Run
	err := l.saveLocked()
	if err != nil {
		l.doc.Iterations = l.doc.Iterations[:next-1]
		l.doc.Best, l.doc.UpdatedAt = prevBest, prevUpdated
	}
	sinks := l.sinks
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return notify(sinks, meta, rec)
}

func notify(sinks []Sink, meta RunMetadata, rec IterationRecord) error {
	var sinkErrs []error
	for _, sink := range sinks {
		if err := sink.RecordWritten(meta, rec); err != nil {
			sinkErrs = append(sinkErrs, err)
		}
	}
	if len(sinkErrs) > 0 {
		return &SinkError{Err: errors.Join(sinkErrs...)}
	}
	return nil
}

// SinkError reports that the record was persisted but a sink failed.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "ledger sink: " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }

// SetRollback flags an appended iteration as reverted to another iteration.
// It is the only mutation allowed on an appended record.
func (l *Ledger) SetRollback(iteration, toIteration int, reason string) error {
	l.mu.Lock()
	if iteration < 1 || iteration > len(l.doc.Iterations) {
		l.mu.Unlock()
		return fmt.Errorf("set rollback: iteration %d not found", iteration)
	}
	if toIteration < 1 || toIteration > len(l.doc.Iterations) {
		l.mu.Unlock()
		return fmt.Errorf("set rollback: target iteration %d not found", toIteration)
	}
	rec := &l.doc.Iterations[iteration-1]
	if rec.Rollback != nil {
		l.mu.Unlock()
		return fmt.Errorf("set rollback on iteration %d: %w", iteration, ErrRollbackSet)
	}
	rec.Rollback = &Rollback{ToIteration: toIteration, Reason: reason}
	updated := *rec
	meta := l.doc.Run
	err := l.saveLocked()
	if err != nil {
		rec.Rollback = nil
	}
	sinks := l.sinks
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return notify(sinks, meta, updated)
}

// Finish records the terminal outcome and persists.
func (l *Ledger) Finish(outcome, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.Outcome = outcome
	l.doc.Reason = reason
	return l.saveLocked()
}

// Document returns a copy of the persisted document.
func (l *Ledger) Document() Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc := l.doc
	doc.Iterations = append([]IterationRecord(nil), l.doc.Iterations...)
	return doc
}

// Save persists the ledger.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	l.doc.UpdatedAt = l.now().UTC()
	if l.path == "" {
		return nil
	}
	return Write(l.path, l.doc)
}
