package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pulsemon/pulsemon/internal/model"
)

// UpsertHealthState writes the full health record for a collector.
func (s *Store) UpsertHealthState(ctx context.Context, h model.HealthState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_states (collector_id, health_status, consecutive_errors, last_success, last_error, last_error_at, updated_at)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(collector_id) DO UPDATE SET
			health_status = excluded.health_status,
			consecutive_errors = excluded.consecutive_errors,
			last_success = excluded.last_success,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = excluded.updated_at`,
		h.CollectorID, string(h.Status), h.ConsecutiveErrors, h.LastSuccess, h.LastError, h.LastErrorAt, h.UpdatedAt.UTC())
	return err
}

// GetHealthState returns the health record for a collector, or ErrNotFound.
func (s *Store) GetHealthState(ctx context.Context, collectorID string) (model.HealthState, error) {
	var h model.HealthState
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT collector_id, health_status, consecutive_errors, last_success, last_error, last_error_at, updated_at
		 FROM health_states WHERE collector_id = ?`, collectorID).
		Scan(&h.CollectorID, &status, &h.ConsecutiveErrors, &h.LastSuccess, &h.LastError, &h.LastErrorAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HealthState{}, ErrNotFound
	}
	if err != nil {
		return model.HealthState{}, err
	}
	h.Status = model.HealthStatus(status)
	return h, nil
}

// ListHealthStates returns all health records ordered by collector id.
func (s *Store) ListHealthStates(ctx context.Context) ([]model.HealthState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collector_id, health_status, consecutive_errors, last_success, last_error, last_error_at, updated_at
		 FROM health_states ORDER BY collector_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HealthState
	for rows.Next() {
		var h model.HealthState
		var status string
		if err := rows.Scan(&h.CollectorID, &status, &h.ConsecutiveErrors, &h.LastSuccess, &h.LastError, &h.LastErrorAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Status = model.HealthStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}
