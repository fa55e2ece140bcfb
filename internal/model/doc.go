// Package model defines the shared domain types of pulsemon: metrics,
// collection executions, per-collector health state, alert rules, alerts,
// and notification events.
package model
