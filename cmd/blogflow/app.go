package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/blogflow/internal/acquisition"
	"github.com/aristath/blogflow/internal/backend"
	"github.com/aristath/blogflow/internal/config"
	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/metrics"
	"github.com/aristath/blogflow/internal/persistence"
	"github.com/aristath/blogflow/internal/pipeline"
	"github.com/aristath/blogflow/internal/safety"
	"github.com/aristath/blogflow/internal/tracing"
)

// traceFlushTimeout bounds how long close waits for buffered spans.
const traceFlushTimeout = 5 * time.Second

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	pm       *backend.ProcessManager
	pool     *backend.Pool
	repo     *persistence.SQLiteStore
	bus      *events.EventBus
	orch     *pipeline.Orchestrator
	tracer   *tracing.Provider
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer
}

// appOptions lets tests swap the store and backends.
type appOptions struct {
	memoryStore bool
	factory     backend.Factory
	registry    *prometheus.Registry
}

// newApp wires storage, backends and the orchestrator from cfg.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg: cfg,
		pm:  backend.NewProcessManager(),
		bus: events.NewEventBus(),
		reg: prometheus.DefaultRegisterer,
	}
	a.gatherer = prometheus.DefaultGatherer
	if opts.registry != nil {
		a.reg, a.gatherer = opts.registry, opts.registry
	}

	var err error
	a.tracer, err = tracing.Setup(ctx, cfg.TracingConfig())
	if err != nil {
		a.bus.Close()
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if opts.memoryStore {
		a.repo, err = persistence.NewMemoryStore(ctx)
	} else {
		a.repo, err = persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
	}
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	poolOpts := []backend.PoolOption{
		backend.WithDiscoveryTimeout(cfg.Pipeline.DiscoveryTimeout.Std()),
		backend.WithDiscoverer(backend.NewMCPDiscoverer(cfg.Pipeline.MCPServerTimeout.Std())),
	}
	if opts.factory != nil {
		poolOpts = append(poolOpts, backend.WithFactory(opts.factory))
	}
	a.pool = backend.NewPool(cfg.BackendConfigs(), a.pm, poolOpts...)
	if err := a.pool.Open(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("opening backend pool: %w", err)
	}

	a.orch, err = pipeline.New(cfg.PipelineConfig(), pipeline.Deps{
		Repo:     a.repo,
		Pool:     a.pool,
		Acquirer: acquisition.New(cfg.AcquisitionConfig()),
		Bus:      a.bus,
		Chain:    safety.Build(cfg.SafetyConfig()),
		Metrics:  metrics.MustNew(a.reg),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close releases everything newApp opened. Closing the pool kills any
// backend subprocess still running.
func (a *app) close() error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.tracer.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
		errs = append(errs, a.tracer.Shutdown(ctx))
		cancel()
	}
	a.bus.Close()
	return errors.Join(errs...)
}
