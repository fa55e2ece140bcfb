package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pulsemon/pulsemon/internal/collector"
	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/storage"
)

type fakeCollector struct {
	collect func(ctx context.Context, cfg map[string]any) ([]model.Metric, error)
}

func (f *fakeCollector) Metadata() collector.Metadata {
	return collector.Metadata{ID: "fake", Name: "Fake", Version: "0.0.1", Category: "test"}
}

func (f *fakeCollector) Collect(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
	return f.collect(ctx, cfg)
}

type watchingCollector struct {
	fakeCollector
	configs   []map[string]any
	configErr error
}

func (w *watchingCollector) OnConfigChange(cfg map[string]any) error {
	w.configs = append(w.configs, cfg)
	return w.configErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScheduler(t *testing.T) (*Scheduler, *storage.Store) {
	t.Helper()
	st := newStore(t)
	s := New(st, NewHealthTracker(st, 3), testLogger(), time.Minute)
	t.Cleanup(s.Stop)
	return s, st
}

// waitFinalized polls until the newest execution for the collector leaves the
// running state.
func waitFinalized(t *testing.T, st *storage.Store, collectorID string) model.Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		execs, err := st.ListExecutions(context.Background(), collectorID, 1)
		if err != nil {
			t.Fatalf("list executions: %v", err)
		}
		if len(execs) > 0 && execs[0].Status != model.ExecutionRunning {
			return execs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution did not finalize in time")
	return model.Execution{}
}

// waitRunnable retries RunNow until the overlap guard clears. Finalize lands
// just before the guard resets, so an immediate RunNow can still see busy.
func waitRunnable(t *testing.T, s *Scheduler, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		err := s.RunNow(id)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrCollectorBusy) {
			t.Fatalf("run now: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("collector stayed busy")
}

func TestRunNow_Success(t *testing.T) {
	s, st := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return []model.Metric{
			{Name: "cpu", Value: 42},
			{Name: "mem", Value: 70},
		}, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitFinalized(t, st, "c1")
	if exec.Status != model.ExecutionSuccess {
		t.Fatalf("status: got %s (%s)", exec.Status, exec.ErrorMessage)
	}
	if exec.MetricsCount != 2 {
		t.Errorf("metrics_count: got %d, want 2", exec.MetricsCount)
	}

	// Collector id and timestamp defaults were filled before persisting.
	metrics, err := st.QueryRange(context.Background(), "c1", "cpu", time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("query range: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Time.IsZero() {
		t.Errorf("persisted metric: %+v", metrics)
	}

	h := mustHealth(t, st, "c1")
	if h.Status != model.HealthHealthy {
		t.Errorf("health: got %s, want healthy", h.Status)
	}
}

func TestRunNow_UnknownCollector(t *testing.T) {
	s, _ := newScheduler(t)
	if err := s.RunNow("nope"); !errors.Is(err, ErrUnknownCollector) {
		t.Fatalf("got %v, want ErrUnknownCollector", err)
	}
}

func TestRunNow_OverlapGuard(t *testing.T) {
	s, st := newScheduler(t)
	release := make(chan struct{})
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		<-release
		return nil, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.RunNow("c1"); !errors.Is(err, ErrCollectorBusy) {
		t.Fatalf("second run: got %v, want ErrCollectorBusy", err)
	}

	// The skipped run left no execution row behind.
	execs, err := st.ListExecutions(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d execution rows, want 1", len(execs))
	}

	close(release)
	if exec := waitFinalized(t, st, "c1"); exec.Status != model.ExecutionSuccess {
		t.Errorf("status after release: %s", exec.Status)
	}

	// The guard clears once the execution finalizes.
	waitRunnable(t, s, "c1")
}

func TestRunNow_CollectorError(t *testing.T) {
	s, st := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return nil, errors.New("connection refused")
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitFinalized(t, st, "c1")
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("status: got %s", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "connection refused") {
		t.Errorf("error message: %q", exec.ErrorMessage)
	}
	if h := mustHealth(t, st, "c1"); h.Status != model.HealthDegraded {
		t.Errorf("health: got %s, want degraded", h.Status)
	}
}

func TestRunNow_PanicIsolated(t *testing.T) {
	s, st := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		panic("nil map write")
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitFinalized(t, st, "c1")
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("status: got %s", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "panic") || !strings.Contains(exec.ErrorMessage, "nil map write") {
		t.Errorf("error message: %q", exec.ErrorMessage)
	}

	// The scheduler survives and the guard is released.
	waitRunnable(t, s, "c1")
}

func TestRunNow_Timeout(t *testing.T) {
	s, st := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	spec := JobSpec{Collector: fc, Interval: time.Hour, Timeout: 50 * time.Millisecond}
	if err := s.UpsertJob("c1", spec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitFinalized(t, st, "c1")
	if exec.Status != model.ExecutionFailed {
		t.Fatalf("status: got %s", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "timed out after 50ms") {
		t.Errorf("error message: %q", exec.ErrorMessage)
	}
}

func TestRunNow_DuplicateMetricsPartialCount(t *testing.T) {
	s, st := newScheduler(t)
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return []model.Metric{
			{Name: "cpu", Value: 1, Time: at},
			{Name: "cpu", Value: 2, Time: at}, // same key after defaulting
			{Name: "mem", Value: 3, Time: at},
		}, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitFinalized(t, st, "c1")
	if exec.Status != model.ExecutionSuccess {
		t.Fatalf("status: got %s (%s)", exec.Status, exec.ErrorMessage)
	}
	if exec.MetricsCount != 2 {
		t.Errorf("metrics_count counts persisted rows: got %d, want 2", exec.MetricsCount)
	}
}

func TestStart_TwiceFails(t *testing.T) {
	s, _ := newScheduler(t)
	if err := s.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_FinalizesInterruptedExecutions(t *testing.T) {
	s, st := newScheduler(t)
	stale := model.Execution{
		ID:          "stale-1",
		CollectorID: "c1",
		StartedAt:   time.Now().UTC().Add(-time.Hour),
		Status:      model.ExecutionRunning,
	}
	if err := st.InsertExecution(context.Background(), stale); err != nil {
		t.Fatalf("insert stale: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	execs, err := st.ListExecutions(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if execs[0].Status != model.ExecutionFailed {
		t.Errorf("stale row: got %s, want failed", execs[0].Status)
	}
	if !strings.Contains(execs[0].ErrorMessage, "interrupted") {
		t.Errorf("stale error message: %q", execs[0].ErrorMessage)
	}
}

func TestStart_KeepsPreStartRun(t *testing.T) {
	s, st := newScheduler(t)
	release := make(chan struct{})
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		<-release
		return []model.Metric{{Name: "cpu", Value: 1}}, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Triggered before Start: still in flight when startup cleanup runs.
	if err := s.RunNow("c1"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	execs, err := st.ListExecutions(context.Background(), "c1", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != model.ExecutionRunning {
		t.Fatalf("in-flight run touched by startup cleanup: %+v", execs)
	}

	close(release)
	if exec := waitFinalized(t, st, "c1"); exec.Status != model.ExecutionSuccess {
		t.Errorf("status after release: got %s (%s)", exec.Status, exec.ErrorMessage)
	}
}

func TestScheduledTicks(t *testing.T) {
	s, st := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return nil, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: 20 * time.Millisecond}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		execs, err := st.ListExecutions(context.Background(), "c1", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(execs) >= 2 {
			s.Stop()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected at least two scheduled executions")
}

func TestUpsertJob_Validation(t *testing.T) {
	s, _ := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return nil, nil
	}}

	if err := s.UpsertJob("", JobSpec{Collector: fc, Interval: time.Minute}); err == nil {
		t.Error("empty id: expected error")
	}
	if err := s.UpsertJob("c1", JobSpec{Interval: time.Minute}); err == nil {
		t.Error("nil collector: expected error")
	}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc}); err == nil {
		t.Error("zero interval: expected error")
	}
}

func TestUpsertJob_PushesConfigChange(t *testing.T) {
	s, _ := newScheduler(t)
	wc := &watchingCollector{}
	wc.collect = func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) { return nil, nil }

	if err := s.UpsertJob("c1", JobSpec{Collector: wc, Interval: time.Hour}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(wc.configs) != 0 {
		t.Fatalf("initial register must not push config, got %d calls", len(wc.configs))
	}

	next := map[string]any{"endpoint": "http://localhost:9100/metrics"}
	if err := s.UpsertJob("c1", JobSpec{Collector: wc, Interval: time.Hour, Config: next}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(wc.configs) != 1 {
		t.Fatalf("config change calls: got %d, want 1", len(wc.configs))
	}
	if wc.configs[0]["endpoint"] != "http://localhost:9100/metrics" {
		t.Errorf("pushed config: %+v", wc.configs[0])
	}

	// A rejected config is logged, not fatal: the schedule still updates.
	wc.configErr = errors.New("bad endpoint")
	if err := s.UpsertJob("c1", JobSpec{Collector: wc, Interval: 30 * time.Minute, Config: next}); err != nil {
		t.Fatalf("update with rejected config: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Interval != 30*time.Minute {
		t.Errorf("jobs after rejected config: %+v", jobs)
	}
}

func TestRemoveJob(t *testing.T) {
	s, _ := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return nil, nil
	}}
	if err := s.UpsertJob("c1", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RemoveJob("c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveJob("c1"); !errors.Is(err, ErrUnknownCollector) {
		t.Fatalf("second remove: got %v, want ErrUnknownCollector", err)
	}
	if err := s.RunNow("c1"); !errors.Is(err, ErrUnknownCollector) {
		t.Fatalf("run after remove: got %v, want ErrUnknownCollector", err)
	}
}

func TestCheckHealth(t *testing.T) {
	s, _ := newScheduler(t)
	fc := &fakeCollector{collect: func(ctx context.Context, cfg map[string]any) ([]model.Metric, error) {
		return nil, nil
	}}
	if err := s.UpsertJob("plain", JobSpec{Collector: fc, Interval: time.Hour}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	supported, _, err := s.CheckHealth(context.Background(), "plain")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if supported {
		t.Error("collector without self-check reported as supported")
	}

	if _, _, err := s.CheckHealth(context.Background(), "nope"); !errors.Is(err, ErrUnknownCollector) {
		t.Fatalf("unknown: got %v, want ErrUnknownCollector", err)
	}
}
