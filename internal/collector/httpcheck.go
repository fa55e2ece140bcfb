package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pulsemon/pulsemon/internal/model"
)

// httpCheckCollector probes an HTTP endpoint and reports availability,
// response time, and status code. A down target is a finding (up=0), not a
// collection failure — the collector only errors when it cannot attempt the
// probe at all.
//
// Config keys:
//
//	url:    target URL (required)
//	method: HTTP method (default GET)
type httpCheckCollector struct {
	id     string
	client *http.Client

	mu     sync.Mutex
	url    string
	method string
}

func newHTTPCheckCollector(id string, cfg map[string]any) (*httpCheckCollector, error) {
	c := &httpCheckCollector{
		id:     id,
		client: &http.Client{},
	}
	if err := c.OnConfigChange(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *httpCheckCollector) Metadata() Metadata {
	return Metadata{
		ID:       c.id,
		Name:     "HTTP Check",
		Version:  "1.0",
		Category: "probe",
		ConfigSchema: map[string]string{
			"url":    "string: target URL to probe",
			"method": "string: HTTP method, default GET",
		},
	}
}

func (c *httpCheckCollector) OnConfigChange(cfg map[string]any) error {
	url := cfgString(cfg, "url")
	if url == "" {
		return fmt.Errorf("httpcheck collector %q: config key \"url\" is required", c.id)
	}
	method := cfgString(cfg, "method")
	if method == "" {
		method = http.MethodGet
	}

	c.mu.Lock()
	c.url = url
	c.method = method
	c.mu.Unlock()
	return nil
}

func (c *httpCheckCollector) Collect(ctx context.Context, _ map[string]any) ([]model.Metric, error) {
	c.mu.Lock()
	url, method := c.url, c.method
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcheck %q: build request: %w", url, err)
	}

	now := time.Now().UTC()
	tags := map[string]string{"url": url}
	point := func(name string, value float64) model.Metric {
		return model.Metric{Time: now, CollectorID: c.id, Name: name, Value: value, Tags: tags}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// Deadline expiry propagates so the scheduler records a timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []model.Metric{
			point("up", 0),
			point("response_time_ms", float64(elapsed.Milliseconds())),
		}, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	up := 0.0
	if resp.StatusCode < 400 {
		up = 1
	}
	return []model.Metric{
		point("up", up),
		point("response_time_ms", float64(elapsed.Milliseconds())),
		point("status_code", float64(resp.StatusCode)),
	}, nil
}
