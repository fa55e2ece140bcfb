package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/storage"
)

// HealthTracker derives per-collector rolling health from execution outcomes.
// State is a function of consecutive errors and the last outcome only:
// unknown → healthy on success, any state → degraded on a failure, degraded →
// failing once consecutive failures reach the threshold, and any state back
// to healthy on the next success.
type HealthTracker struct {
	store     *storage.Store
	threshold int
	now       func() time.Time

	mu sync.Mutex // serializes read-modify-write cycles
}

// NewHealthTracker creates a tracker persisting through store. failingThreshold
// is the consecutive-error count at which a collector becomes failing;
// values below 1 fall back to 3.
func NewHealthTracker(store *storage.Store, failingThreshold int) *HealthTracker {
	if failingThreshold < 1 {
		failingThreshold = 3
	}
	return &HealthTracker{
		store:     store,
		threshold: failingThreshold,
		now:       time.Now,
	}
}

// RecordSuccess resets the error counter and marks the collector healthy.
func (t *HealthTracker) RecordSuccess(ctx context.Context, collectorID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.load(ctx, collectorID)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	h.Status = model.HealthHealthy
	h.ConsecutiveErrors = 0
	h.LastSuccess = &now
	h.UpdatedAt = now
	return t.store.UpsertHealthState(ctx, h)
}

// RecordFailure increments the error counter and degrades the collector,
// crossing into failing at the configured threshold.
func (t *HealthTracker) RecordFailure(ctx context.Context, collectorID, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.load(ctx, collectorID)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	h.ConsecutiveErrors++
	h.LastError = message
	h.LastErrorAt = &now
	h.UpdatedAt = now
	if h.ConsecutiveErrors >= t.threshold {
		h.Status = model.HealthFailing
	} else {
		h.Status = model.HealthDegraded
	}
	return t.store.UpsertHealthState(ctx, h)
}

func (t *HealthTracker) load(ctx context.Context, collectorID string) (model.HealthState, error) {
	h, err := t.store.GetHealthState(ctx, collectorID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.HealthState{CollectorID: collectorID, Status: model.HealthUnknown}, nil
	}
	return h, err
}
