package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/notify"
	"github.com/pulsemon/pulsemon/internal/storage"
)

// Lifecycle is the sole mutator of alert state. It enforces the dedup and
// cooldown invariants on trigger and drives the
// active → acknowledged → resolved state machine. Notification events are
// dispatched fire-and-forget; a snoozed alert suppresses outbound events but
// never a state transition.
type Lifecycle struct {
	store *storage.Store
	sink  notify.Sink
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// NewLifecycle creates the lifecycle service. sink may be nil, in which case
// events are dropped.
func NewLifecycle(store *storage.Store, sink notify.Sink, logger *slog.Logger) *Lifecycle {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Lifecycle{
		store: store,
		sink:  sink,
		log:   logger,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Trigger creates a new active alert for (rule, resource) and emits a
// triggered event. It returns (nil, nil) without side effects when an open
// alert already exists for the pair, or when the pair's most recent trigger —
// resolved or not — is within the rule's cooldown. The existence check is
// backed by a storage unique constraint, so a concurrent pass losing the race
// also comes back as a clean no-op.
func (l *Lifecycle) Trigger(ctx context.Context, rule model.AlertRule, resourceID string, value float64) (*model.Alert, error) {
	open, err := l.store.OpenAlert(ctx, rule.ID, resourceID)
	if err != nil {
		return nil, fmt.Errorf("check open alert: %w", err)
	}
	if open != nil {
		return nil, nil
	}

	now := l.now().UTC()
	if rule.CooldownMinutes > 0 {
		last, err := l.store.LastTriggeredAt(ctx, rule.ID, resourceID)
		if err != nil {
			return nil, fmt.Errorf("check cooldown: %w", err)
		}
		if last != nil && now.Sub(*last) < rule.Cooldown() {
			l.log.Debug("trigger suppressed by cooldown",
				"rule", rule.ID, "resource", resourceID, "last_trigger", *last)
			return nil, nil
		}
	}

	a := model.Alert{
		ID:          l.newID(),
		RuleID:      rule.ID,
		ResourceID:  resourceID,
		MetricName:  rule.MetricName,
		MetricValue: value,
		Threshold:   rule.Threshold,
		Severity:    rule.Severity,
		Status:      model.AlertActive,
		Message: fmt.Sprintf("%s: %s = %.2f on %s (threshold %s %.2f)",
			rule.Name, rule.MetricName, value, resourceID, rule.Condition, rule.Threshold),
		TriggeredAt: now,
	}
	if err := l.store.InsertAlert(ctx, a); err != nil {
		if errors.Is(err, storage.ErrOpenAlertExists) {
			// Lost the race to a concurrent pass.
			return nil, nil
		}
		return nil, fmt.Errorf("create alert: %w", err)
	}

	l.log.Warn("alert triggered",
		"rule", rule.ID, "resource", resourceID, "value", value, "severity", rule.Severity)
	l.emit(model.Event{
		RuleID:     rule.ID,
		ResourceID: resourceID,
		Severity:   rule.Severity,
		Message:    a.Message,
		Event:      model.EventTriggered,
		AlertID:    a.ID,
		Value:      value,
	})
	return &a, nil
}

// Acknowledge transitions an active alert to acknowledged. It returns
// (nil, nil) when the alert does not exist or is not active.
func (l *Lifecycle) Acknowledge(ctx context.Context, alertID, actor string) (*model.Alert, error) {
	ok, err := l.store.AcknowledgeAlert(ctx, alertID, actor, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	if !ok {
		return nil, nil
	}
	a, err := l.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	l.log.Info("alert acknowledged", "alert", alertID, "actor", actor)
	return &a, nil
}

// Resolve transitions an active or acknowledged alert to resolved and emits a
// resolved event unless the alert is snoozed. It returns (nil, nil) when the
// alert does not exist or is already resolved.
func (l *Lifecycle) Resolve(ctx context.Context, alertID, note string) (*model.Alert, error) {
	now := l.now().UTC()
	ok, err := l.store.ResolveAlert(ctx, alertID, note, now)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	if !ok {
		return nil, nil
	}
	a, err := l.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	l.log.Info("alert resolved", "alert", alertID, "rule", a.RuleID, "resource", a.ResourceID)
	if !a.Snoozed(now) {
		l.emit(model.Event{
			RuleID:     a.RuleID,
			ResourceID: a.ResourceID,
			Severity:   a.Severity,
			Message:    fmt.Sprintf("resolved: %s — %s", a.Message, note),
			Event:      model.EventResolved,
			AlertID:    a.ID,
			Value:      a.MetricValue,
		})
	}
	return &a, nil
}

// Snooze sets the alert's snoozed_until to now + minutes without changing its
// status, whatever that status is. It returns (nil, nil) when the alert does
// not exist.
func (l *Lifecycle) Snooze(ctx context.Context, alertID string, minutes int) (*model.Alert, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("snooze minutes must be positive")
	}
	until := l.now().UTC().Add(time.Duration(minutes) * time.Minute)
	ok, err := l.store.SnoozeAlert(ctx, alertID, until)
	if err != nil {
		return nil, fmt.Errorf("snooze alert: %w", err)
	}
	if !ok {
		return nil, nil
	}
	a, err := l.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	l.log.Info("alert snoozed", "alert", alertID, "until", until)
	return &a, nil
}

// emit hands the event to the sink on its own goroutine so delivery can never
// block lifecycle operations.
func (l *Lifecycle) emit(ev model.Event) {
	go l.sink.Notify(ev)
}
