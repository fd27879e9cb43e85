package duckdb

import (
	"context"
	"database/sql"
	"time"

	"diaharness/internal/ledger"
)

// Sink mirrors ledger writes into DuckDB. It implements ledger.Sink.
type Sink struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// NewSink returns a Sink writing to db.
func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db, timeout: 10 * time.Second, now: time.Now}
}

// RecordWritten implements ledger.Sink.
func (s *Sink) RecordWritten(meta ledger.RunMetadata, rec ledger.IterationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := UpsertRun(ctx, s.db, meta, ledger.OutcomeRunning, "", s.now()); err != nil {
		return err
	}
	return UpsertIteration(ctx, s.db, meta.RunID, rec)
}

// Finish records the terminal outcome of a run.
func (s *Sink) Finish(ctx context.Context, doc ledger.Document) error {
	return UpsertRun(ctx, s.db, doc.Run, doc.Outcome, doc.Reason, doc.UpdatedAt)
}
