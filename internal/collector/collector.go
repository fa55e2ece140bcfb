package collector

import (
	"context"
	"fmt"

	"github.com/pulsemon/pulsemon/internal/model"
)

// Metadata describes a collector implementation for admin surfaces.
type Metadata struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Category     string            `json:"category"`
	ConfigSchema map[string]string `json:"config_schema,omitempty"`
}

// Collector is the capability contract every pluggable metric source
// implements. Collect may block on I/O; the scheduler always invokes it under
// a deadline carried by ctx.
type Collector interface {
	Metadata() Metadata
	Collect(ctx context.Context, config map[string]any) ([]model.Metric, error)
}

// HealthChecker is an optional, informational self-check. It never influences
// scheduling or health bookkeeping.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// ConfigWatcher is an optional hook invoked when a collector's configuration
// changes at runtime.
type ConfigWatcher interface {
	OnConfigChange(config map[string]any) error
}

// New builds the collector implementation for the given type. Registration is
// a compile-time switch: unknown types fail at startup, not at call time.
func New(typ, id string, cfg map[string]any) (Collector, error) {
	switch typ {
	case "runtime":
		return newRuntimeCollector(id), nil
	case "prometheus":
		return newPromCollector(id, cfg)
	case "httpcheck":
		return newHTTPCheckCollector(id, cfg)
	default:
		return nil, fmt.Errorf("collector: unsupported type %q", typ)
	}
}

// cfgString reads a string value from an opaque config map.
func cfgString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// cfgStringSlice reads a list of strings from an opaque config map. YAML
// decodes sequences as []any, so both forms are accepted.
func cfgStringSlice(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
