package collector

import (
	"context"
	"runtime"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// runtimeCollector reports Go process statistics for the pulsemon daemon
// itself. It needs no configuration and never fails.
type runtimeCollector struct {
	id string
}

func newRuntimeCollector(id string) *runtimeCollector {
	return &runtimeCollector{id: id}
}

func (c *runtimeCollector) Metadata() Metadata {
	return Metadata{
		ID:       c.id,
		Name:     "Go Runtime",
		Version:  "1.0",
		Category: "process",
	}
}

func (c *runtimeCollector) Collect(_ context.Context, _ map[string]any) ([]model.Metric, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := time.Now().UTC()
	point := func(name string, value float64) model.Metric {
		return model.Metric{Time: now, CollectorID: c.id, Name: name, Value: value}
	}
	return []model.Metric{
		point("heap_alloc_bytes", float64(ms.HeapAlloc)),
		point("heap_objects", float64(ms.HeapObjects)),
		point("sys_bytes", float64(ms.Sys)),
		point("gc_cycles", float64(ms.NumGC)),
		point("goroutines", float64(runtime.NumGoroutine())),
	}, nil
}

func (c *runtimeCollector) HealthCheck(context.Context) bool { return true }
