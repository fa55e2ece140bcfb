package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemon/pulsemon/internal/collector"
	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/storage"
)

// DefaultTimeout bounds a collection invocation when neither the job nor the
// scheduler configuration sets one.
const DefaultTimeout = 30 * time.Second

// JobSpec describes one scheduled collector: the implementation, its cadence,
// an optional per-collector timeout override, and its opaque configuration.
type JobSpec struct {
	Collector collector.Collector
	Interval  time.Duration
	Timeout   time.Duration // 0 means the scheduler default
	Config    map[string]any
}

// JobInfo is the externally visible description of a scheduled job.
type JobInfo struct {
	ID       string             `json:"id"`
	Metadata collector.Metadata `json:"metadata"`
	Interval time.Duration      `json:"interval"`
	Timeout  time.Duration      `json:"timeout"`
}

type job struct {
	id     string
	spec   JobSpec
	cancel context.CancelFunc // nil while the loop is not running
	busy   atomic.Bool        // overlap guard: true from tick accept to finalize
}

// Scheduler drives independent periodic invocation of every registered
// collector. Each job ticks on its own goroutine; the collect call itself
// runs on a worker goroutine under a deadline so a slow collector never
// delays other collectors' ticks. A panicking or failing collector is
// isolated: its execution is recorded as failed and the scheduler keeps
// running.
type Scheduler struct {
	store          *storage.Store
	health         *HealthTracker
	log            *slog.Logger
	defaultTimeout time.Duration
	bootTime       time.Time
	now            func() time.Time
	newID          func() string

	mu      sync.Mutex
	started bool
	jobs    map[string]*job

	loops    sync.WaitGroup // per-job tick loops
	inflight sync.WaitGroup // collection workers
}

// New creates a Scheduler. defaultTimeout bounds collections for jobs without
// their own override; non-positive values fall back to DefaultTimeout.
func New(store *storage.Store, health *HealthTracker, logger *slog.Logger, defaultTimeout time.Duration) *Scheduler {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Scheduler{
		store:          store,
		health:         health,
		log:            logger,
		defaultTimeout: defaultTimeout,
		bootTime:       time.Now().UTC(),
		now:            time.Now,
		newID:          uuid.NewString,
		jobs:           make(map[string]*job),
	}
}

// UpsertJob registers or reconfigures a collector job without a restart. For
// an existing job the new spec takes effect immediately: the tick loop is
// restarted on the new interval and, when the collector supports it, the new
// configuration is pushed via OnConfigChange (a rejected config keeps the
// collector's previous settings but still updates the schedule).
func (s *Scheduler) UpsertJob(id string, spec JobSpec) error {
	if id == "" {
		return fmt.Errorf("scheduler: job id must not be empty")
	}
	if spec.Collector == nil {
		return fmt.Errorf("scheduler: job %q has no collector", id)
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("scheduler: job %q interval must be positive", id)
	}

	s.mu.Lock()
	existing, ok := s.jobs[id]
	if ok {
		if existing.cancel != nil {
			existing.cancel()
			existing.cancel = nil
		}
		if cw, watches := existing.spec.Collector.(collector.ConfigWatcher); watches && spec.Collector == existing.spec.Collector {
			if err := cw.OnConfigChange(spec.Config); err != nil {
				s.log.Warn("collector rejected config change — keeping previous settings",
					"collector", id, "err", err)
			}
		}
		existing.spec = spec
		if s.started {
			s.startLoop(existing)
		}
		s.mu.Unlock()
		s.log.Info("job updated", "collector", id, "interval", spec.Interval)
		return nil
	}

	j := &job{id: id, spec: spec}
	s.jobs[id] = j
	if s.started {
		s.startLoop(j)
	}
	s.mu.Unlock()
	s.log.Info("job registered", "collector", id, "interval", spec.Interval)
	return nil
}

// RemoveJob stops and deregisters a collector job. In-flight work finishes
// under its own deadline.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownCollector
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, id)
	s.mu.Unlock()
	s.log.Info("job removed", "collector", id)
	return nil
}

// Start begins all registered periodic jobs. It fails with ErrAlreadyStarted
// if the scheduler is already running. Executions left in the running state
// by a previous process are finalized as failed first; runs already triggered
// in this process (via RunNow before Start) are left alone.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if n, err := s.store.FailInterruptedExecutions(context.Background(), s.bootTime, s.now().UTC()); err != nil {
		s.log.Error("could not finalize interrupted executions", "err", err)
	} else if n > 0 {
		s.log.Warn("finalized interrupted executions from previous run", "count", n)
	}

	s.started = true
	for _, j := range s.jobs {
		s.startLoop(j)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels all pending and future invocations and waits for in-flight
// collections, which finish under their own deadlines. Manually triggered runs
// are drained even when the scheduler was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	for _, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
			j.cancel = nil
		}
	}
	s.mu.Unlock()

	s.loops.Wait()
	s.inflight.Wait()
	if wasStarted {
		s.log.Info("scheduler stopped")
	}
}

// RunNow triggers a collection for one collector outside its schedule. It is
// subject to the same overlap guard as scheduled runs and returns
// ErrCollectorBusy when an execution is already in flight.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownCollector
	}
	return s.tryRun(j)
}

// CheckHealth invokes the collector's optional self-check. supported is false
// when the collector does not implement one.
func (s *Scheduler) CheckHealth(ctx context.Context, id string) (supported, healthy bool, err error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false, false, ErrUnknownCollector
	}
	hc, ok := j.spec.Collector.(collector.HealthChecker)
	if !ok {
		return false, false, nil
	}
	return true, hc.HealthCheck(ctx), nil
}

// Jobs returns descriptions of all registered jobs, ordered by registration
// map iteration (callers sort as needed).
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{
			ID:       j.id,
			Metadata: j.spec.Collector.Metadata(),
			Interval: j.spec.Interval,
			Timeout:  s.timeoutFor(j),
		})
	}
	return out
}

// --- internal ---------------------------------------------------------------

// startLoop launches the tick loop for j. Caller must hold s.mu.
func (s *Scheduler) startLoop(j *job) {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	s.loops.Add(1)
	go s.runLoop(ctx, j)
}

// runLoop fires j immediately, then on every interval tick until cancelled.
func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer s.loops.Done()

	if err := s.tryRun(j); err != nil && !errors.Is(err, ErrCollectorBusy) {
		s.log.Error("initial run failed to start", "collector", j.id, "err", err)
	}

	t := time.NewTicker(j.spec.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			switch err := s.tryRun(j); {
			case errors.Is(err, ErrCollectorBusy):
				s.log.Warn("previous collection still running — skipping tick", "collector", j.id)
			case err != nil:
				s.log.Error("tick failed to start", "collector", j.id, "err", err)
			}
		}
	}
}

// tryRun enforces the overlap guard, opens the execution record, and hands
// the collect call to a worker goroutine. A skipped tick creates no execution
// row.
func (s *Scheduler) tryRun(j *job) error {
	if !j.busy.CompareAndSwap(false, true) {
		return ErrCollectorBusy
	}

	exec := model.Execution{
		ID:          s.newID(),
		CollectorID: j.id,
		StartedAt:   s.now().UTC(),
		Status:      model.ExecutionRunning,
	}
	if err := s.store.InsertExecution(context.Background(), exec); err != nil {
		j.busy.Store(false)
		return fmt.Errorf("record execution for %q: %w", j.id, err)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer j.busy.Store(false)
		s.collect(j, exec.ID)
	}()
	return nil
}

// collect invokes the collector under a deadline, persists its metrics, and
// finalizes the execution and health records. Panics raised by the collector
// are converted to failure outcomes at this boundary.
func (s *Scheduler) collect(j *job, execID string) {
	timeout := s.timeoutFor(j)
	cctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		metrics []model.Metric
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &CollectionError{CollectorID: j.id, Cause: fmt.Errorf("panic: %v", r)}}
			}
		}()
		metrics, err := j.spec.Collector.Collect(cctx, j.spec.Config)
		if err != nil {
			done <- result{err: &CollectionError{CollectorID: j.id, Cause: err}}
			return
		}
		done <- result{metrics: metrics}
	}()

	var res result
	select {
	case res = <-done:
	case <-cctx.Done():
		// Best-effort cancellation: the engine stops waiting; the worker may
		// still be blocked in I/O until it observes the dead context.
		res = result{err: &CollectionTimeout{CollectorID: j.id, Limit: timeout}}
	}

	ctx := context.Background()
	now := s.now().UTC()

	if res.err != nil {
		if err := s.store.FinalizeExecution(ctx, execID, model.ExecutionFailed, res.err.Error(), 0, now); err != nil {
			s.log.Error("could not finalize execution", "collector", j.id, "execution", execID, "err", err)
		}
		if err := s.health.RecordFailure(ctx, j.id, res.err.Error()); err != nil {
			s.log.Error("could not record failure", "collector", j.id, "err", err)
		}
		s.log.Warn("collection failed", "collector", j.id, "execution", execID, "err", res.err)
		return
	}

	for i := range res.metrics {
		if res.metrics[i].CollectorID == "" {
			res.metrics[i].CollectorID = j.id
		}
		if res.metrics[i].Time.IsZero() {
			res.metrics[i].Time = now
		}
	}

	// metrics_count records rows actually persisted; attempted-but-rejected
	// rows are visible in the log only. A storage failure here does not flip
	// a successful collection to failed.
	persisted, perr := s.store.AppendMetrics(ctx, res.metrics)
	if perr != nil {
		s.log.Warn("partial metric persistence",
			"collector", j.id, "persisted", persisted, "attempted", len(res.metrics), "err", perr)
	}

	if err := s.store.FinalizeExecution(ctx, execID, model.ExecutionSuccess, "", persisted, now); err != nil {
		s.log.Error("could not finalize execution", "collector", j.id, "execution", execID, "err", err)
	}
	if err := s.health.RecordSuccess(ctx, j.id); err != nil {
		s.log.Error("could not record success", "collector", j.id, "err", err)
	}
	s.log.Debug("collection complete", "collector", j.id, "execution", execID, "metrics", persisted)
}

func (s *Scheduler) timeoutFor(j *job) time.Duration {
	if j.spec.Timeout > 0 {
		return j.spec.Timeout
	}
	return s.defaultTimeout
}
