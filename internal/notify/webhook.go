package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsemon/pulsemon/internal/config"
	"github.com/pulsemon/pulsemon/internal/model"
)

// Sink consumes alert notification events. Implementations must not block:
// the lifecycle service dispatches fire-and-forget and never waits on
// delivery.
type Sink interface {
	Notify(ev model.Event)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Notify(ev model.Event) {
	for _, s := range m {
		s.Notify(ev)
	}
}

// Discard is a Sink that drops all events.
type Discard struct{}

func (Discard) Notify(model.Event) {}

// Webhook posts notification events to configured webhook targets. Delivery
// failures are logged and never propagate to the caller.
type Webhook struct {
	targets []config.WebhookConfig
	client  *http.Client
	log     *slog.Logger
}

// NewWebhook creates a webhook sink for the configured targets.
func NewWebhook(targets []config.WebhookConfig, logger *slog.Logger) *Webhook {
	return &Webhook{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger,
	}
}

// Notify delivers ev to all targets.
func (w *Webhook) Notify(ev model.Event) {
	for _, t := range w.targets {
		url := t.URL()
		if url == "" {
			continue
		}

		var err error
		switch t.Type {
		case "slack":
			err = w.sendSlack(url, ev)
		case "teams":
			err = w.sendTeams(url, ev)
		case "http":
			err = w.sendHTTP(url, ev)
		default:
			w.log.Warn("unknown webhook type — skipping", "type", t.Type)
			continue
		}

		if err != nil {
			w.log.Error("webhook delivery failed",
				"type", t.Type,
				"rule", ev.RuleID,
				"event", ev.Event,
				"err", err,
			)
		} else {
			w.log.Debug("webhook delivered",
				"type", t.Type,
				"rule", ev.RuleID,
				"event", ev.Event,
			)
		}
	}
}

func (w *Webhook) sendSlack(url string, ev model.Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(ev.Severity), ev.Message),
	})
	return w.post(url, body)
}

func (w *Webhook) sendTeams(url string, ev model.Event) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(ev.Severity),
		"summary":    ev.RuleID,
		"title":      fmt.Sprintf("Pulsemon Alert: %s (%s)", ev.RuleID, ev.Event),
		"text":       ev.Message,
	}
	body, _ := json.Marshal(payload)
	return w.post(url, body)
}

func (w *Webhook) sendHTTP(url string, ev model.Event) error {
	body, _ := json.Marshal(ev)
	return w.post(url, body)
}

func (w *Webhook) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
