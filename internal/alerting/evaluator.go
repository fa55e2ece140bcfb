package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/storage"
)

// Evaluator periodically applies every enabled alert rule to the current
// metric values of its matching resources, delegating trigger and
// auto-resolve decisions to the lifecycle service. A failure on one
// (rule, resource) pair never aborts the rest of the pass.
type Evaluator struct {
	store     *storage.Store
	lifecycle *Lifecycle
	sources   map[string]ValueSource
	interval  time.Duration
	log       *slog.Logger
}

// NewEvaluator creates an evaluator. sources maps a rule's resource_type to
// the ValueSource that enumerates its resources and current values; rules
// whose resource_type has no source are skipped.
func NewEvaluator(store *storage.Store, lifecycle *Lifecycle, sources map[string]ValueSource, interval time.Duration, logger *slog.Logger) *Evaluator {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Evaluator{
		store:     store,
		lifecycle: lifecycle,
		sources:   sources,
		interval:  interval,
		log:       logger,
	}
}

// Run executes evaluation passes on the configured cadence until ctx is
// cancelled. The first pass runs immediately.
func (e *Evaluator) Run(ctx context.Context) {
	e.EvaluatePass(ctx)

	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.EvaluatePass(ctx)
		}
	}
}

// EvaluatePass evaluates all enabled rules once.
func (e *Evaluator) EvaluatePass(ctx context.Context) {
	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		e.log.Error("load rules", "err", err)
		return
	}

	for _, rule := range rules {
		src, ok := e.sources[rule.ResourceType]
		if !ok {
			e.log.Debug("no value source for resource type — skipping rule",
				"rule", rule.ID, "resource_type", rule.ResourceType)
			continue
		}
		values, err := src.Values(ctx, rule.MetricName)
		if err != nil {
			e.log.Error("resolve metric values", "rule", rule.ID, "metric", rule.MetricName, "err", err)
			continue
		}
		for _, rv := range values {
			e.evaluatePair(ctx, rule, rv)
		}
	}
}

// evaluatePair applies one rule to one resource's current value. Panics and
// errors are contained here so the remaining pairs of the pass still run.
func (e *Evaluator) evaluatePair(ctx context.Context, rule model.AlertRule, rv ResourceValue) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rule evaluation panicked",
				"rule", rule.ID, "resource", rv.ResourceID, "panic", fmt.Sprint(r))
		}
	}()

	if !rv.OK {
		// Unavailable value: skip this pair for this tick, not an error.
		return
	}

	if rule.Condition.Compare(rv.Value, rule.Threshold) {
		if _, err := e.lifecycle.Trigger(ctx, rule, rv.ResourceID, rv.Value); err != nil {
			e.log.Error("trigger alert", "rule", rule.ID, "resource", rv.ResourceID, "err", err)
		}
		return
	}

	open, err := e.store.OpenAlert(ctx, rule.ID, rv.ResourceID)
	if err != nil {
		e.log.Error("check open alert", "rule", rule.ID, "resource", rv.ResourceID, "err", err)
		return
	}
	if open == nil {
		return
	}
	note := fmt.Sprintf("auto-resolved: %s = %.2f no longer %s %.2f",
		rule.MetricName, rv.Value, rule.Condition, rule.Threshold)
	if _, err := e.lifecycle.Resolve(ctx, open.ID, note); err != nil {
		e.log.Error("auto-resolve alert", "alert", open.ID, "err", err)
	}
}
