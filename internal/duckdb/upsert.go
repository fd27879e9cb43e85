package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"diaharness/internal/agentconf"
	"diaharness/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertConfig stores a configuration keyed by its canonical fingerprint and
// returns the key.
func UpsertConfig(ctx context.Context, db execer, cfg agentconf.Configuration) (string, error) {
	if db == nil {
		return "", errors.New("duckdb: db is nil")
	}
	canonical, err := CanonicalJSON(cfg)
	if err != nil {
		return "", err
	}
	key := fingerprintBytes(canonical)
	if _, err := db.ExecContext(ctx,
		`INSERT INTO configs (config_key, config, instructions_chars, example_count, created_at)
		 VALUES (?, ?, ?, ?, now())
		 ON CONFLICT (config_key) DO NOTHING`,
		key,
		string(canonical),
		utf8.RuneCountInString(cfg.Instructions),
		len(cfg.Examples),
	); err != nil {
		return "", fmt.Errorf("upsert config: %w", err)
	}
	return key, nil
}

// UpsertRun inserts or refreshes a run row.
func UpsertRun(ctx context.Context, db execer, meta ledger.RunMetadata, outcome, reason string, updated time.Time) error {
	if db == nil {
		return errors.New("duckdb: db is nil")
	}
	if meta.RunID == "" {
		return errors.New("duckdb: run_id is required")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, agent_name, agent_id, started_at, seed_fingerprint, repeats, threshold_pp, outcome, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   outcome = excluded.outcome,
		   reason = excluded.reason,
		   updated_at = excluded.updated_at`,
		meta.RunID,
		meta.AgentName,
		meta.AgentID,
		meta.StartTime.UTC(),
		meta.SeedFingerprint,
		meta.Repeats,
		meta.Threshold,
		outcome,
		reason,
		updated.UTC(),
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// UpsertIteration writes one record with its configuration, failures and
// per-case results in a single transaction. Re-writing a record refreshes its
// deployment and rollback columns.
func UpsertIteration(ctx context.Context, db *sql.DB, runID string, rec ledger.IterationRecord) (err error) {
	if db == nil {
		return errors.New("duckdb: db is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	key, err := UpsertConfig(ctx, tx, rec.Configuration)
	if err != nil {
		return err
	}
	var holdout, rollbackTo, validationKind any
	if rec.Holdout != nil {
		holdout = rec.Holdout.Mean
	}
	if rec.Rollback != nil {
		rollbackTo = rec.Rollback.ToIteration
	}
	if rec.Validation != nil {
		validationKind = rec.Validation.Kind
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO iterations (
		  run_id, iteration, recorded_at, config_key, accuracy, std, min_accuracy, max_accuracy, holdout_accuracy,
		  passed, total, failure_count, decision, validation_kind, deployment_status, deploy_attempts, rollback_to, change_description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, iteration) DO UPDATE SET
		  deployment_status = excluded.deployment_status,
		  deploy_attempts = excluded.deploy_attempts,
		  rollback_to = excluded.rollback_to,
		  change_description = excluded.change_description`,
		runID, rec.Iteration, rec.Timestamp.UTC(), key,
		rec.Metrics.Mean, rec.Metrics.Std, rec.Metrics.Min, rec.Metrics.Max, holdout,
		rec.Metrics.Passed, rec.Metrics.Total, len(rec.Failures),
		rec.Decision, validationKind, rec.Deployment.Status, rec.Deployment.Attempts, rollbackTo, rec.ChangeDescription,
	); err != nil {
		return fmt.Errorf("upsert iteration %d: %w", rec.Iteration, err)
	}

	for _, f := range rec.Failures {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, iteration, case_id, repeat_index, question, expected_sql, generated_sql, issue, explanation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			runID, rec.Iteration, f.CaseID, f.Repeat, f.Question, f.Expected, f.Generated, f.Issue, f.Explanation,
		); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.CaseID, err)
		}
	}
	for _, c := range rec.Cases {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO case_results (run_id, iteration, case_id, passed, total)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			runID, rec.Iteration, c.CaseID, c.Passed, c.Total,
		); err != nil {
			return fmt.Errorf("insert case result %s: %w", c.CaseID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ingest writes a whole trajectory document. It is idempotent.
func Ingest(ctx context.Context, db *sql.DB, doc ledger.Document) error {
	if err := UpsertRun(ctx, db, doc.Run, doc.Outcome, doc.Reason, doc.UpdatedAt); err != nil {
		return err
	}
	for _, rec := range doc.Iterations {
		if err := UpsertIteration(ctx, db, doc.Run.RunID, rec); err != nil {
			return err
		}
	}
	return nil
}
