package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// writeConfig writes yaml to a temp file and returns its path.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "collectors: []\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("HTTPPort: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Storage.Path != DefaultStoragePath {
		t.Errorf("Storage.Path: got %q, want %q", cfg.Storage.Path, DefaultStoragePath)
	}
	if cfg.Scheduler.DefaultTimeout != DefaultCollectTimeout {
		t.Errorf("DefaultTimeout: got %v, want %v", cfg.Scheduler.DefaultTimeout, DefaultCollectTimeout)
	}
	if cfg.Scheduler.FailingThreshold != DefaultFailingThreshold {
		t.Errorf("FailingThreshold: got %d, want %d", cfg.Scheduler.FailingThreshold, DefaultFailingThreshold)
	}
	if cfg.Evaluator.Interval != DefaultEvaluatorInterval {
		t.Errorf("Evaluator.Interval: got %v, want %v", cfg.Evaluator.Interval, DefaultEvaluatorInterval)
	}
	if cfg.Evaluator.Staleness != DefaultStaleness {
		t.Errorf("Evaluator.Staleness: got %v, want %v", cfg.Evaluator.Staleness, DefaultStaleness)
	}
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_port: 9090
scheduler:
  default_timeout: 10s
  failing_threshold: 5
collectors:
  - id: probe
    type: httpcheck
    interval: 1m
    timeout: 5s
    config:
      url: http://localhost/healthz
  - id: disabled-one
    type: runtime
    interval: 30s
    enabled: false
rules:
  - id: cpu-high
    name: CPU high
    resource_type: collector
    metric: cpu_usage
    condition: GT
    threshold: 80
    severity: warning
    cooldown_minutes: 15
webhooks:
  - type: slack
    url_env: SLACK_URL
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort: got %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Scheduler.DefaultTimeout != 10*time.Second {
		t.Errorf("DefaultTimeout: got %v, want 10s", cfg.Scheduler.DefaultTimeout)
	}
	if len(cfg.Collectors) != 2 {
		t.Fatalf("Collectors: got %d, want 2", len(cfg.Collectors))
	}
	if !cfg.Collectors[0].IsEnabled() {
		t.Error("collector without enabled key should default to enabled")
	}
	if cfg.Collectors[1].IsEnabled() {
		t.Error("collector with enabled: false should be disabled")
	}
	if got := cfg.Collectors[0].Config["url"]; got != "http://localhost/healthz" {
		t.Errorf("collector config url: got %v", got)
	}

	if len(cfg.Rules) != 1 {
		t.Fatalf("Rules: got %d, want 1", len(cfg.Rules))
	}
	rule := cfg.Rules[0].ToModel()
	if rule.Condition != model.CondGT || rule.Threshold != 80 || !rule.Enabled {
		t.Errorf("rule ToModel: got %+v", rule)
	}
	if rule.CooldownMinutes != 15 {
		t.Errorf("CooldownMinutes: got %d, want 15", rule.CooldownMinutes)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad port",
			yaml:    "server:\n  http_port: 99999\n",
			wantErr: "http_port",
		},
		{
			name: "duplicate collector id",
			yaml: `
collectors:
  - {id: a, type: runtime, interval: 30s}
  - {id: a, type: runtime, interval: 30s}
`,
			wantErr: "declared twice",
		},
		{
			name: "missing interval",
			yaml: `
collectors:
  - {id: a, type: runtime}
`,
			wantErr: "interval",
		},
		{
			name: "bad condition",
			yaml: `
rules:
  - {id: r, resource_type: collector, metric: m, condition: ">", threshold: 1, severity: warning}
`,
			wantErr: "condition",
		},
		{
			name: "bad severity",
			yaml: `
rules:
  - {id: r, resource_type: collector, metric: m, condition: GT, threshold: 1, severity: fatal}
`,
			wantErr: "severity",
		},
		{
			name: "bad webhook type",
			yaml: "webhooks:\n  - {type: carrier-pigeon, url_env: X}\n",
			wantErr: "webhook type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("Load: expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load on missing file: expected error")
	}
}
