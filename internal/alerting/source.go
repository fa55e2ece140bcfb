package alerting

import (
	"context"
	"time"

	"github.com/pulsemon/pulsemon/internal/storage"
)

// ResourceValue is the current metric reading for one resource. OK is false
// when the value is unavailable; the evaluator skips the pair without
// treating it as an error.
type ResourceValue struct {
	ResourceID string
	Value      float64
	OK         bool
}

// ValueSource resolves current metric values for all resources of one
// resource type. Implementations are registered per resource_type at startup.
type ValueSource interface {
	Values(ctx context.Context, metricName string) ([]ResourceValue, error)
}

// CollectorSource is the built-in ValueSource for resource_type "collector":
// each collector is a resource, and its current value is the newest persisted
// sample of the metric within the staleness window. Collectors without a
// fresh sample are simply absent from the result.
type CollectorSource struct {
	store     *storage.Store
	staleness time.Duration
	now       func() time.Time
}

// NewCollectorSource creates a metrics-store-backed source. Samples older
// than staleness are treated as unavailable.
func NewCollectorSource(store *storage.Store, staleness time.Duration) *CollectorSource {
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}
	return &CollectorSource{store: store, staleness: staleness, now: time.Now}
}

func (s *CollectorSource) Values(ctx context.Context, metricName string) ([]ResourceValue, error) {
	since := s.now().UTC().Add(-s.staleness)
	latest, err := s.store.LatestValues(ctx, metricName, since)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceValue, 0, len(latest))
	for _, m := range latest {
		out = append(out, ResourceValue{ResourceID: m.CollectorID, Value: m.Value, OK: true})
	}
	return out, nil
}
