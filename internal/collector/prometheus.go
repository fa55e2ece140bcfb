package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/pulsemon/pulsemon/internal/model"
)

// promCollector scrapes a Prometheus text exposition endpoint and emits one
// metric per configured family, summing values across series.
//
// Config keys:
//
//	endpoint: URL of the /metrics endpoint (required)
//	metrics:  list of metric family names to extract (required)
type promCollector struct {
	id     string
	client *http.Client

	mu       sync.Mutex
	endpoint string
	families []string
}

func newPromCollector(id string, cfg map[string]any) (*promCollector, error) {
	c := &promCollector{
		id:     id,
		client: &http.Client{},
	}
	if err := c.OnConfigChange(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *promCollector) Metadata() Metadata {
	return Metadata{
		ID:       c.id,
		Name:     "Prometheus Endpoint",
		Version:  "1.0",
		Category: "scrape",
		ConfigSchema: map[string]string{
			"endpoint": "string: URL of the Prometheus text exposition endpoint",
			"metrics":  "list of string: metric family names to extract",
		},
	}
}

// OnConfigChange validates and applies a new endpoint/family selection.
// Invalid config is rejected and the previous settings remain active.
func (c *promCollector) OnConfigChange(cfg map[string]any) error {
	endpoint := cfgString(cfg, "endpoint")
	if endpoint == "" {
		return fmt.Errorf("prometheus collector %q: config key \"endpoint\" is required", c.id)
	}
	families := cfgStringSlice(cfg, "metrics")
	if len(families) == 0 {
		return fmt.Errorf("prometheus collector %q: config key \"metrics\" must list at least one family", c.id)
	}

	c.mu.Lock()
	c.endpoint = endpoint
	c.families = families
	c.mu.Unlock()
	return nil
}

func (c *promCollector) Collect(ctx context.Context, _ map[string]any) ([]model.Metric, error) {
	c.mu.Lock()
	endpoint := c.endpoint
	families := c.families
	c.mu.Unlock()

	mfs, err := fetchMetricFamilies(ctx, c.client, endpoint)
	if err != nil {
		return nil, fmt.Errorf("prometheus scrape %q: %w", endpoint, err)
	}

	now := time.Now().UTC()
	out := make([]model.Metric, 0, len(families))
	for _, name := range families {
		mf, ok := mfs[name]
		if !ok {
			// Family absent from this scrape — not an error, just no sample.
			continue
		}
		out = append(out, model.Metric{
			Time:        now,
			CollectorID: c.id,
			Name:        name,
			Value:       sumFamily(mf),
			Tags:        map[string]string{"endpoint": endpoint},
		})
	}
	return out, nil
}

// HealthCheck probes the endpoint with a plain GET and reports reachability.
func (c *promCollector) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// fetchMetricFamilies performs an HTTP GET to url and returns parsed metric families.
func fetchMetricFamilies(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetricFamilies(resp.Body)
}

// parseMetricFamilies decodes a Prometheus text exposition from r.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetricFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
