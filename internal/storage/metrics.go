package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// AppendMetric inserts a single metric row. A row with the same
// (collector_id, metric_name, time) key is rejected with ErrDuplicateMetric;
// the existing row is left untouched.
func (s *Store) AppendMetric(ctx context.Context, m model.Metric) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics (ts, collector_id, metric_name, value, tags_json) VALUES (?,?,?,?,?)`,
		m.Time.UTC(), m.CollectorID, m.Name, m.Value, string(tags))
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicateMetric
		}
		return err
	}
	return nil
}

// AppendMetrics inserts a batch of metric rows and returns how many were
// persisted. Duplicate rows are skipped; other write errors are joined into
// the returned error without aborting the rest of the batch.
func (s *Store) AppendMetrics(ctx context.Context, metrics []model.Metric) (int, error) {
	persisted := 0
	var errs []error
	for _, m := range metrics {
		switch err := s.AppendMetric(ctx, m); {
		case err == nil:
			persisted++
		case errors.Is(err, ErrDuplicateMetric):
			// Append-only invariant: the earlier row wins.
		default:
			errs = append(errs, fmt.Errorf("%s/%s: %w", m.CollectorID, m.Name, err))
		}
	}
	return persisted, errors.Join(errs...)
}

// QueryRange returns metrics in [start, end] ordered by time ascending.
// Empty collectorID or metricName means no filter on that column.
func (s *Store) QueryRange(ctx context.Context, collectorID, metricName string, start, end time.Time) ([]model.Metric, error) {
	query := `SELECT ts, collector_id, metric_name, value, tags_json FROM metrics WHERE ts >= ? AND ts <= ?`
	args := []any{start.UTC(), end.UTC()}
	if collectorID != "" {
		query += ` AND collector_id = ?`
		args = append(args, collectorID)
	}
	if metricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, metricName)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestValues returns the newest sample per collector for metricName, taken
// no earlier than since. Collectors without a fresh sample are absent.
func (s *Store) LatestValues(ctx context.Context, metricName string, since time.Time) ([]model.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.ts, m.collector_id, m.metric_name, m.value, m.tags_json
		 FROM metrics m
		 WHERE m.metric_name = ? AND m.ts >= ?
		   AND m.ts = (SELECT MAX(ts) FROM metrics
		               WHERE collector_id = m.collector_id AND metric_name = m.metric_name)
		 ORDER BY m.collector_id ASC`,
		metricName, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetric(r rowScanner) (model.Metric, error) {
	var m model.Metric
	var tags string
	if err := r.Scan(&m.Time, &m.CollectorID, &m.Name, &m.Value, &tags); err != nil {
		return model.Metric{}, err
	}
	if tags != "" && tags != "{}" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return model.Metric{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return m, nil
}
