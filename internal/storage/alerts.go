package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// ReplaceRules replaces the full alert rule set in one transaction. Rules not
// present in the new set are removed; existing alerts keep referencing their
// rule id for history.
func (s *Store) ReplaceRules(ctx context.Context, rules []model.AlertRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_rules`); err != nil {
		return err
	}
	for _, r := range rules {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO alert_rules (id, name, resource_type, metric_name, condition, threshold, severity, cooldown_minutes, enabled)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, r.Name, r.ResourceType, r.MetricName, string(r.Condition), r.Threshold, r.Severity, r.CooldownMinutes, boolToInt(r.Enabled))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRules returns alert rules ordered by id. With enabledOnly, disabled
// rules are filtered out.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]model.AlertRule, error) {
	query := `SELECT id, name, resource_type, metric_name, condition, threshold, severity, cooldown_minutes, enabled FROM alert_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		var r model.AlertRule
		var cond string
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.ResourceType, &r.MetricName, &cond, &r.Threshold, &r.Severity, &r.CooldownMinutes, &enabled); err != nil {
			return nil, err
		}
		r.Condition = model.Condition(cond)
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertAlert creates a new alert row. If an open (active or acknowledged)
// alert already exists for the same (rule_id, resource_id) pair, the partial
// unique index rejects the insert and ErrOpenAlertExists is returned.
func (s *Store) InsertAlert(ctx context.Context, a model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, rule_id, resource_id, metric_name, metric_value, threshold, severity, status, message, triggered_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.RuleID, a.ResourceID, a.MetricName, a.MetricValue, a.Threshold, a.Severity, string(a.Status), a.Message, a.TriggeredAt.UTC())
	if err != nil {
		if isConstraintErr(err) {
			return ErrOpenAlertExists
		}
		return err
	}
	return nil
}

// GetAlert returns one alert by id, or ErrNotFound.
func (s *Store) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, selectAlert+` WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

// OpenAlert returns the active or acknowledged alert for a (rule, resource)
// pair, or nil if the pair has no open alert.
func (s *Store) OpenAlert(ctx context.Context, ruleID, resourceID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		selectAlert+` WHERE rule_id = ? AND resource_id = ? AND status IN ('active','acknowledged')`,
		ruleID, resourceID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LastTriggeredAt returns the most recent trigger time for a (rule, resource)
// pair across all alert states, including resolved ones. Cooldown is measured
// from this timestamp regardless of resolve events. Returns nil if the pair
// has never triggered.
func (s *Store) LastTriggeredAt(ctx context.Context, ruleID, resourceID string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT triggered_at FROM alerts WHERE rule_id = ? AND resource_id = ? ORDER BY triggered_at DESC LIMIT 1`,
		ruleID, resourceID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AcknowledgeAlert transitions active → acknowledged. It reports false when
// the alert does not exist or is not active.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = 'acknowledged', acknowledged_at = ?, acknowledged_by = ?
		 WHERE id = ? AND status = 'active'`,
		at.UTC(), actor, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResolveAlert transitions active|acknowledged → resolved. It reports false
// when the alert does not exist or is already resolved.
func (s *Store) ResolveAlert(ctx context.Context, id, note string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = 'resolved', resolved_at = ?, resolution_note = ?
		 WHERE id = ? AND status IN ('active','acknowledged')`,
		at.UTC(), note, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SnoozeAlert sets snoozed_until without touching status, regardless of the
// alert's current state. It reports false when the alert does not exist.
func (s *Store) SnoozeAlert(ctx context.Context, id string, until time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET snoozed_until = ? WHERE id = ?`, until.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListAlerts returns alerts newest first, optionally filtered by status.
func (s *Store) ListAlerts(ctx context.Context, status model.AlertStatus, limit int) ([]model.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := selectAlert
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY triggered_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const selectAlert = `SELECT id, rule_id, resource_id, metric_name, metric_value, threshold, severity, status, message,
	triggered_at, acknowledged_at, acknowledged_by, resolved_at, resolution_note, snoozed_until FROM alerts`

func scanAlert(r rowScanner) (model.Alert, error) {
	var a model.Alert
	var status string
	err := r.Scan(&a.ID, &a.RuleID, &a.ResourceID, &a.MetricName, &a.MetricValue, &a.Threshold, &a.Severity, &status,
		&a.Message, &a.TriggeredAt, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt, &a.ResolutionNote, &a.SnoozedUntil)
	if err != nil {
		return model.Alert{}, err
	}
	a.Status = model.AlertStatus(status)
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
