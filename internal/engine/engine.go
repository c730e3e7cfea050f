// Package engine is the Go-native seam an external surface (an admin HTTP
// API, a CLI, a test harness) embeds: it wires the store, LLM driver, tool
// dispatcher, orchestrator, approval coordinator, and scheduler into one
// object and exposes workflow start/resume/approval operations, without
// owning any transport of its own.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"conductor/internal/agentrunner"
	"conductor/internal/approval"
	"conductor/internal/llmdriver"
	"conductor/internal/orchestrator"
	"conductor/internal/runtimeconfig"
	"conductor/internal/scheduler"
	"conductor/internal/store"
	"conductor/internal/telemetry"
	"conductor/internal/tooldispatch"
)

// Engine bundles every engine subsystem behind the operations an embedding
// surface needs: starting/resuming workflow executions, deciding approvals,
// and driving the scheduler tick loop.
type Engine struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Approvals    *approval.Coordinator
	Scheduler    *scheduler.Scheduler
	Metrics      *telemetry.Collector

	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Options lets a caller override the pieces New would otherwise build from
// runtimeconfig.Config, primarily for tests — e.g. supplying a fake
// llmdriver.Provider instead of a live Anthropic client.
type Options struct {
	Provider     llmdriver.Provider
	ToolRegistry *tooldispatch.Registry
	MCPClient    tooldispatch.MCPClient
}

// New opens the database pool, runs schema migrations, and wires every
// subsystem together per cfg.
func New(ctx context.Context, cfg runtimeconfig.Config, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.NewLogger(telemetry.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if cfg.DBUser != "" {
		poolCfg.ConnConfig.User = cfg.DBUser
	}
	if cfg.DBPassword != "" {
		poolCfg.ConnConfig.Password = cfg.DBPassword
	}
	if cfg.DBPoolMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open db pool: %w", err)
	}

	st := store.NewPostgresStore(pool, logger)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	provider := opts.Provider
	if provider == nil {
		provider = llmdriver.NewAnthropicProviderFromAPIKey(cfg.LLMAPIKey)
	}

	registry := opts.ToolRegistry
	if registry == nil {
		registry = tooldispatch.NewRegistry()
	}
	dispatcher := tooldispatch.New(registry, opts.MCPClient)

	metrics, err := telemetry.NewMetricsCollector(telemetry.MetricsConfig{
		Enabled:        cfg.OTelMetricsAddr != "",
		PrometheusPort: cfg.Port,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("build metrics collector: %w", err)
	}
	provider = telemetry.InstrumentProvider(provider, metrics)

	runner := agentrunner.New(st, provider, dispatcher)
	orch := orchestrator.New(st, runner, logger)
	coordinator := approval.New(st, orch, logger)
	sched := scheduler.New(st, orch, logger)

	return &Engine{
		Store:        st,
		Orchestrator: orch,
		Approvals:    coordinator,
		Scheduler:    sched,
		Metrics:      metrics,
		pool:         pool,
		logger:       logger,
	}, nil
}

// Run starts the scheduler's tick loop, blocking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.Scheduler.Run(ctx)
}

// Start triggers a manual workflow execution.
func (e *Engine) Start(ctx context.Context, workflowID int64, triggerData json.RawMessage) (*orchestrator.Outcome, error) {
	return e.Orchestrator.Start(ctx, workflowID, triggerData)
}

// ProcessApprovalTimeouts sweeps overdue approvals; intended to be called
// alongside the scheduler tick, since both are periodic housekeeping over
// the same store.
func (e *Engine) ProcessApprovalTimeouts(ctx context.Context, now time.Time) (int, error) {
	return e.Approvals.ProcessTimeouts(ctx, now)
}

// Shutdown releases the database pool and flushes metrics. Safe to call
// once, after Run's context has been cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.Metrics != nil {
		if err := e.Metrics.Shutdown(ctx); err != nil {
			e.logger.Error("shutdown metrics", "error", err)
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}
