// Package api serves the REST surface of pulsemon: read-only views over
// collector health, executions, metric time series, rules, and alerts, plus
// the alert acknowledge/resolve/snooze operations and manual collection
// triggers.
package api
