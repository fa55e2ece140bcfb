package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by store operations.
var (
	// ErrDuplicateMetric is returned when a metric row with the same
	// (collector_id, metric_name, time) key already exists. The existing row
	// is never overwritten.
	ErrDuplicateMetric = errors.New("storage: duplicate metric key")

	// ErrOpenAlertExists is returned when inserting an alert would violate
	// the one-open-alert-per-(rule, resource) invariant.
	ErrOpenAlertExists = errors.New("storage: open alert already exists for pair")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// Open opens (creating if needed) the SQLite database at path with WAL mode
// and a busy timeout suitable for concurrent writers.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema if it does not exist.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metrics (
			ts DATETIME NOT NULL,
			collector_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY(collector_id, metric_name, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			collector_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			metrics_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS health_states (
			collector_id TEXT PRIMARY KEY,
			health_status TEXT NOT NULL,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			last_success DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			last_error_at DATETIME,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			condition TEXT NOT NULL,
			threshold REAL NOT NULL,
			severity TEXT NOT NULL,
			cooldown_minutes INTEGER NOT NULL DEFAULT 15,
			enabled INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			metric_value REAL NOT NULL,
			threshold REAL NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			triggered_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			acknowledged_by TEXT NOT NULL DEFAULT '',
			resolved_at DATETIME,
			resolution_note TEXT NOT NULL DEFAULT '',
			snoozed_until DATETIME
		);`,
		// One open alert per (rule, resource) pair, enforced at the storage
		// layer so concurrent evaluator passes cannot double-create.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_open
			ON alerts(rule_id, resource_id)
			WHERE status IN ('active','acknowledged');`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(metric_name, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_collector_started ON executions(collector_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_pair_triggered ON alerts(rule_id, resource_id, triggered_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status_triggered ON alerts(status, triggered_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

// Store wraps the SQLite handle with typed accessors for metrics, executions,
// health states, alert rules, and alerts.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle, mainly so the owner can close it.
func (s *Store) DB() *sql.DB { return s.db }

// isConstraintErr reports whether err is a SQLite uniqueness/constraint
// violation.
func isConstraintErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
