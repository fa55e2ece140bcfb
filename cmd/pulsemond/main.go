package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsemon/pulsemon/internal/alerting"
	"github.com/pulsemon/pulsemon/internal/api"
	"github.com/pulsemon/pulsemon/internal/collector"
	"github.com/pulsemon/pulsemon/internal/config"
	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/notify"
	"github.com/pulsemon/pulsemon/internal/scheduler"
	"github.com/pulsemon/pulsemon/internal/storage"
	"github.com/pulsemon/pulsemon/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pulsemond starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"collectors", len(cfg.Collectors),
		"rules", len(cfg.Rules),
		"http_port", cfg.Server.HTTPPort,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to open storage", "path", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		slog.Error("failed to migrate storage", "err", err)
		os.Exit(1)
	}
	store := storage.New(db)

	if err := seedRules(ctx, store, cfg); err != nil {
		slog.Error("failed to seed alert rules", "err", err)
		os.Exit(1)
	}

	health := scheduler.NewHealthTracker(store, cfg.Scheduler.FailingThreshold)
	sched := scheduler.New(store, health, logger.With("module", "scheduler"), cfg.Scheduler.DefaultTimeout)

	reg := newJobRegistrar(sched, logger.With("module", "registrar"))
	reg.apply(cfg.Collectors)

	hub := ws.New(store, 5*time.Second)
	sink := notify.Multi{
		notify.NewWebhook(cfg.Webhooks, logger.With("module", "notify")),
		hub,
	}
	lifecycle := alerting.NewLifecycle(store, sink, logger.With("module", "alerts"))

	sources := map[string]alerting.ValueSource{
		"collector": alerting.NewCollectorSource(store, cfg.Evaluator.Staleness),
	}
	evaluator := alerting.NewEvaluator(store, lifecycle, sources, cfg.Evaluator.Interval, logger.With("module", "evaluator"))

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api.New(store, sched, lifecycle))
	mux.Handle("/ws", hub)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}

	// The scheduler starts before the API accepts requests, so its startup
	// cleanup of interrupted executions cannot touch a run triggered over HTTP.
	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "err", err)
		}
	}()

	go hub.Run(ctx)
	go evaluator.Run(ctx)

	// Watch config file for hot reload: collector jobs and rules are applied
	// without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, logger.With("module", "config"), func(updated *config.Config) {
			if err := seedRules(context.Background(), store, updated); err != nil {
				slog.Error("failed to reseed alert rules", "err", err)
			}
			reg.apply(updated.Collectors)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pulsemond shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	sched.Stop()
}

// seedRules writes the configured rule set into storage, replacing the
// previous set.
func seedRules(ctx context.Context, store *storage.Store, cfg *config.Config) error {
	rules := make([]model.AlertRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, r.ToModel())
	}
	return store.ReplaceRules(ctx, rules)
}

// jobRegistrar reconciles the scheduler's job set against the configured
// collector registrations, reusing collector instances across reloads so
// config changes reach them through OnConfigChange.
type jobRegistrar struct {
	sched *scheduler.Scheduler
	log   *slog.Logger

	collectors map[string]registeredCollector
}

type registeredCollector struct {
	typ  string
	impl collector.Collector
}

func newJobRegistrar(sched *scheduler.Scheduler, logger *slog.Logger) *jobRegistrar {
	return &jobRegistrar{
		sched:      sched,
		log:        logger,
		collectors: make(map[string]registeredCollector),
	}
}

// apply upserts jobs for all enabled registrations and removes jobs whose
// registration disappeared or got disabled. Called from the main goroutine at
// startup and from the single config-watcher goroutine afterwards.
func (r *jobRegistrar) apply(registrations []config.CollectorConfig) {
	desired := make(map[string]bool, len(registrations))

	for _, reg := range registrations {
		if !reg.IsEnabled() {
			continue
		}
		desired[reg.ID] = true

		existing, ok := r.collectors[reg.ID]
		if !ok || existing.typ != reg.Type {
			impl, err := collector.New(reg.Type, reg.ID, reg.Config)
			if err != nil {
				r.log.Error("skipping collector — could not build", "collector", reg.ID, "err", err)
				delete(desired, reg.ID)
				continue
			}
			existing = registeredCollector{typ: reg.Type, impl: impl}
			r.collectors[reg.ID] = existing
		}

		err := r.sched.UpsertJob(reg.ID, scheduler.JobSpec{
			Collector: existing.impl,
			Interval:  reg.Interval,
			Timeout:   reg.Timeout,
			Config:    reg.Config,
		})
		if err != nil {
			r.log.Error("could not schedule collector", "collector", reg.ID, "err", err)
			delete(desired, reg.ID)
		}
	}

	for id := range r.collectors {
		if desired[id] {
			continue
		}
		if err := r.sched.RemoveJob(id); err != nil {
			r.log.Debug("remove job", "collector", id, "err", err)
		}
		delete(r.collectors, id)
	}
}
