package storage

import (
	"context"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// InsertExecution records the start of a collection attempt.
func (s *Store) InsertExecution(ctx context.Context, e model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, collector_id, started_at, status) VALUES (?,?,?,?)`,
		e.ID, e.CollectorID, e.StartedAt.UTC(), string(e.Status))
	return err
}

// FinalizeExecution completes an execution exactly once. It is a no-op if the
// row is already finalized.
func (s *Store) FinalizeExecution(ctx context.Context, id string, status model.ExecutionStatus, errMsg string, metricsCount int, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error_message = ?, metrics_count = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		string(status), errMsg, metricsCount, completedAt.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailInterruptedExecutions marks still-running executions started before the
// cutoff as failed. Called once at startup with the process boot time, so rows
// left behind by a crashed process do not block the overlap guard forever
// while executions already in flight in this process stay untouched.
func (s *Store) FailInterruptedExecutions(ctx context.Context, before, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = 'failed', error_message = 'interrupted: process restart', completed_at = ?
		 WHERE status = 'running' AND started_at < ?`, at.UTC(), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasRunningExecution reports whether a collection attempt for collectorID is
// currently in flight.
func (s *Store) HasRunningExecution(ctx context.Context, collectorID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executions WHERE collector_id = ? AND status = 'running'`,
		collectorID).Scan(&n)
	return n > 0, err
}

// ListExecutions returns the most recent executions for a collector, newest
// first. Empty collectorID lists across all collectors.
func (s *Store) ListExecutions(ctx context.Context, collectorID string, limit int) ([]model.Execution, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, collector_id, started_at, completed_at, status, error_message, metrics_count FROM executions`
	args := []any{}
	if collectorID != "" {
		query += ` WHERE collector_id = ?`
		args = append(args, collectorID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		var e model.Execution
		var status string
		if err := rows.Scan(&e.ID, &e.CollectorID, &e.StartedAt, &e.CompletedAt, &status, &e.ErrorMessage, &e.MetricsCount); err != nil {
			return nil, err
		}
		e.Status = model.ExecutionStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
