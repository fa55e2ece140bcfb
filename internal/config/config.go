package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsemon/pulsemon/internal/model"
)

// Default values for the daemon configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultStoragePath       = "data/pulsemon.db"
	DefaultCollectTimeout    = 30 * time.Second
	DefaultFailingThreshold  = 3
	DefaultEvaluatorInterval = 60 * time.Second
	DefaultStaleness         = 5 * time.Minute
)

// Config is the top-level daemon configuration parsed from config.yaml.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Evaluator  EvaluatorConfig   `yaml:"evaluator"`
	Collectors []CollectorConfig `yaml:"collectors"`
	Rules      []RuleConfig      `yaml:"rules"`
	Webhooks   []WebhookConfig   `yaml:"webhooks"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`
}

// StorageConfig holds SQLite storage settings.
type StorageConfig struct {
	// Path is the SQLite database file (default data/pulsemon.db).
	Path string `yaml:"path"`
}

// SchedulerConfig holds collection scheduling settings shared by all jobs.
type SchedulerConfig struct {
	// DefaultTimeout bounds a single collection invocation when a collector
	// does not set its own timeout. Default: 30s.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// FailingThreshold is the number of consecutive failed executions after
	// which a collector's health becomes "failing". Default: 3.
	FailingThreshold int `yaml:"failing_threshold"`
}

// EvaluatorConfig holds alert evaluation cadence settings.
type EvaluatorConfig struct {
	// Interval is the evaluation pass cadence, independent of any
	// collection interval. Default: 60s.
	Interval time.Duration `yaml:"interval"`

	// Staleness is how old a metric sample may be and still count as the
	// "current" value of its metric. Older samples are treated as
	// unavailable. Default: 5m.
	Staleness time.Duration `yaml:"staleness"`
}

// CollectorConfig registers one collector instance with the scheduler.
type CollectorConfig struct {
	// ID is the unique collector identifier, used as the metric source key.
	ID string `yaml:"id"`

	// Type selects the collector implementation: runtime | prometheus | httpcheck.
	Type string `yaml:"type"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Interval is the collection cadence for this collector.
	Interval time.Duration `yaml:"interval"`

	// Timeout overrides scheduler.default_timeout for this collector.
	Timeout time.Duration `yaml:"timeout"`

	// Config is the opaque collector-specific configuration.
	Config map[string]any `yaml:"config"`
}

// IsEnabled reports whether the collector should be scheduled.
func (c CollectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RuleConfig defines one threshold alert rule. Rules are seeded into storage
// at startup and on config reload.
type RuleConfig struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	ResourceType    string  `yaml:"resource_type"`
	Metric          string  `yaml:"metric"`
	Condition       string  `yaml:"condition"` // GT | LT | GTE | LTE | EQ | NE
	Threshold       float64 `yaml:"threshold"`
	Severity        string  `yaml:"severity"` // critical | warning | info
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	Enabled         *bool   `yaml:"enabled"`
}

// IsEnabled reports whether the rule should be evaluated.
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ToModel converts the rule to its domain form.
func (r RuleConfig) ToModel() model.AlertRule {
	return model.AlertRule{
		ID:              r.ID,
		Name:            r.Name,
		ResourceType:    r.ResourceType,
		MetricName:      r.Metric,
		Condition:       model.Condition(r.Condition),
		Threshold:       r.Threshold,
		Severity:        r.Severity,
		CooldownMinutes: r.CooldownMinutes,
		Enabled:         r.IsEnabled(),
	}
}

// WebhookConfig defines one notification webhook target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server:  ServerConfig{HTTPPort: DefaultHTTPPort},
		Storage: StorageConfig{Path: DefaultStoragePath},
		Scheduler: SchedulerConfig{
			DefaultTimeout:   DefaultCollectTimeout,
			FailingThreshold: DefaultFailingThreshold,
		},
		Evaluator: EvaluatorConfig{
			Interval:  DefaultEvaluatorInterval,
			Staleness: DefaultStaleness,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if cfg.Scheduler.DefaultTimeout <= 0 {
		return fmt.Errorf("scheduler.default_timeout must be positive")
	}
	if cfg.Scheduler.FailingThreshold < 1 {
		return fmt.Errorf("scheduler.failing_threshold must be at least 1")
	}
	if cfg.Evaluator.Interval <= 0 {
		return fmt.Errorf("evaluator.interval must be positive")
	}
	if cfg.Evaluator.Staleness <= 0 {
		return fmt.Errorf("evaluator.staleness must be positive")
	}

	seen := make(map[string]bool, len(cfg.Collectors))
	for _, c := range cfg.Collectors {
		if c.ID == "" {
			return fmt.Errorf("collector id must not be empty")
		}
		if seen[c.ID] {
			return fmt.Errorf("collector id %q is declared twice", c.ID)
		}
		seen[c.ID] = true
		if c.Type == "" {
			return fmt.Errorf("collector %q: type must not be empty", c.ID)
		}
		if c.Interval <= 0 {
			return fmt.Errorf("collector %q: interval must be positive", c.ID)
		}
		if c.Timeout < 0 {
			return fmt.Errorf("collector %q: timeout must not be negative", c.ID)
		}
	}

	ruleIDs := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule id must not be empty")
		}
		if ruleIDs[r.ID] {
			return fmt.Errorf("rule id %q is declared twice", r.ID)
		}
		ruleIDs[r.ID] = true
		if r.ResourceType == "" || r.Metric == "" {
			return fmt.Errorf("rule %q: resource_type and metric are required", r.ID)
		}
		if !model.Condition(r.Condition).Valid() {
			return fmt.Errorf("rule %q: condition %q unknown: want GT|LT|GTE|LTE|EQ|NE", r.ID, r.Condition)
		}
		switch r.Severity {
		case "critical", "warning", "info":
		default:
			return fmt.Errorf("rule %q: severity %q unknown: want critical|warning|info", r.ID, r.Severity)
		}
		if r.CooldownMinutes < 0 {
			return fmt.Errorf("rule %q: cooldown_minutes must not be negative", r.ID)
		}
	}

	for _, w := range cfg.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("webhook type %q unknown: want slack|teams|http", w.Type)
		}
	}

	return nil
}
