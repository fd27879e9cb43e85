package duckdb

import (
	"context"
	"database/sql"
	"fmt"
)

// ProgressRow is one row of v_progress.
type ProgressRow struct {
	RunID             string
	AgentName         string
	Iteration         int
	Accuracy          float64
	Delta             sql.NullFloat64
	BestSoFar         float64
	HoldoutAccuracy   sql.NullFloat64
	DeploymentStatus  string
	RollbackTo        sql.NullInt64
	ChangeDescription string
}

// Progress returns the iterations of runID in order.
func Progress(ctx context.Context, db *sql.DB, runID string) ([]ProgressRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, coalesce(agent_name, ''), iteration, accuracy, delta, best_so_far, holdout_accuracy,
		        coalesce(deployment_status, ''), rollback_to, coalesce(change_description, '')
		   FROM v_progress
		  WHERE run_id = ?
		  ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()
	var out []ProgressRow
	for rows.Next() {
		var r ProgressRow
		if err := rows.Scan(&r.RunID, &r.AgentName, &r.Iteration, &r.Accuracy, &r.Delta, &r.BestSoFar,
			&r.HoldoutAccuracy, &r.DeploymentStatus, &r.RollbackTo, &r.ChangeDescription); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists run ids, most recent first.
func Runs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
