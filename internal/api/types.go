package api

import (
	"github.com/pulsemon/pulsemon/internal/model"
)

// HealthResponse is the payload for GET /api/v1/health — engine-wide health
// counts derived from per-collector states.
type HealthResponse struct {
	CollectorCount int    `json:"collector_count"`
	HealthyCount   int    `json:"healthy_count"`
	DegradedCount  int    `json:"degraded_count"`
	FailingCount   int    `json:"failing_count"`
	UnknownCount   int    `json:"unknown_count"`
	OpenAlertCount int    `json:"open_alert_count"`
	State          string `json:"state"`
}

// CollectorResponse is one entry in GET /api/v1/collectors: the scheduled job
// plus its current health state, when one has been recorded.
type CollectorResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Category   string             `json:"category"`
	IntervalMS int64              `json:"interval_ms"`
	TimeoutMS  int64              `json:"timeout_ms"`
	Health     *model.HealthState `json:"health,omitempty"`
}

// CheckResponse is the payload for GET /api/v1/collectors/{id}/check.
type CheckResponse struct {
	Supported bool `json:"supported"`
	Healthy   bool `json:"healthy"`
}

// acknowledgeRequest is the body for POST /api/v1/alerts/{id}/acknowledge.
type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

// resolveRequest is the body for POST /api/v1/alerts/{id}/resolve.
type resolveRequest struct {
	Note string `json:"note"`
}

// snoozeRequest is the body for POST /api/v1/alerts/{id}/snooze.
type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
