package model

import "time"

// ExecutionStatus is the outcome state of one collection attempt.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Execution is one timed invocation attempt of a collector. A row is created
// when the attempt starts and finalized exactly once when it completes.
type Execution struct {
	ID           string          `json:"id"`
	CollectorID  string          `json:"collector_id"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	MetricsCount int             `json:"metrics_count"`
}

// Metric is a single timestamped, named, tagged data point produced by a
// collector. Rows are append-only: (CollectorID, Name, Time) is unique and
// never updated once written.
type Metric struct {
	Time        time.Time         `json:"time"`
	CollectorID string            `json:"collector_id"`
	Name        string            `json:"metric_name"`
	Value       float64           `json:"value"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// HealthStatus is the derived rolling health of a collector.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
)

// HealthState is the per-collector health bookkeeping record, mutated only
// after an execution finalizes.
type HealthState struct {
	CollectorID       string       `json:"collector_id"`
	Status            HealthStatus `json:"health_status"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	LastSuccess       *time.Time   `json:"last_success,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
	LastErrorAt       *time.Time   `json:"last_error_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Condition is a threshold comparison operator in an alert rule.
type Condition string

const (
	CondGT  Condition = "GT"
	CondLT  Condition = "LT"
	CondGTE Condition = "GTE"
	CondLTE Condition = "LTE"
	CondEQ  Condition = "EQ"
	CondNE  Condition = "NE"
)

// Valid reports whether c is a known condition operator.
func (c Condition) Valid() bool {
	switch c {
	case CondGT, CondLT, CondGTE, CondLTE, CondEQ, CondNE:
		return true
	}
	return false
}

// Compare applies the condition to a metric value and threshold.
// EQ and NE are exact float comparisons — no epsilon is applied.
func (c Condition) Compare(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondLT:
		return value < threshold
	case CondGTE:
		return value >= threshold
	case CondLTE:
		return value <= threshold
	case CondEQ:
		return value == threshold
	case CondNE:
		return value != threshold
	}
	return false
}

// AlertRule is a user-defined threshold rule over a metric. Rules are owned
// by an external CRUD surface; the evaluator only reads them.
type AlertRule struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ResourceType    string    `json:"resource_type"`
	MetricName      string    `json:"metric_name"`
	Condition       Condition `json:"condition"`
	Threshold       float64   `json:"threshold"`
	Severity        string    `json:"severity"`
	CooldownMinutes int       `json:"cooldown_minutes"`
	Enabled         bool      `json:"enabled"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Open reports whether the status counts against the one-open-alert-per-pair
// invariant (active or acknowledged, but not resolved).
func (s AlertStatus) Open() bool {
	return s == AlertActive || s == AlertAcknowledged
}

// Alert is a stateful record of a rule condition being met for a resource.
// SnoozedUntil is orthogonal to Status: it suppresses outbound notifications
// but never changes alert existence or state.
type Alert struct {
	ID             string      `json:"id"`
	RuleID         string      `json:"rule_id"`
	ResourceID     string      `json:"resource_id"`
	MetricName     string      `json:"metric_name"`
	MetricValue    float64     `json:"metric_value"`
	Threshold      float64     `json:"threshold"`
	Severity       string      `json:"severity"`
	Status         AlertStatus `json:"status"`
	Message        string      `json:"message"`
	TriggeredAt    time.Time   `json:"triggered_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNote string      `json:"resolution_note,omitempty"`
	SnoozedUntil   *time.Time  `json:"snoozed_until,omitempty"`
}

// Snoozed reports whether the alert's notifications are suppressed at now.
func (a Alert) Snoozed(now time.Time) bool {
	return a.SnoozedUntil != nil && a.SnoozedUntil.After(now)
}

// Event types carried in a notification event.
const (
	EventTriggered = "triggered"
	EventResolved  = "resolved"
)

// Event is the notification payload handed to sinks when an alert fires or
// resolves. Delivery is fire-and-forget; sinks must never block the engine.
type Event struct {
	RuleID     string  `json:"rule_id"`
	ResourceID string  `json:"resource_id"`
	Severity   string  `json:"severity"`
	Message    string  `json:"message"`
	Event      string  `json:"event"` // "triggered" | "resolved"
	AlertID    string  `json:"alert_id"`
	Value      float64 `json:"value"`
}
