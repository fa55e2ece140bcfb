// Package storage is the SQLite persistence layer: append-only metric time
// series, the execution log, per-collector health states, alert rules, and
// alerts. Uniqueness invariants (metric composite key, one open alert per
// rule/resource pair) are enforced by the schema so they hold under
// concurrent writers.
package storage
