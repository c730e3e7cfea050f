package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterScope = "conductor"

// MetricsConfig controls whether metrics are collected at all, and whether a
// Prometheus scrape endpoint is started.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// Collector records engine-level metrics: workflow/step outcomes, agent
// token usage, and in-flight execution counts. A disabled Collector's
// methods are no-ops, so callers never need to check Enabled themselves.
type Collector struct {
	enabled bool

	provider *sdkmetric.MeterProvider
	server   *http.Server

	workflowExecutions metric.Int64Counter
	workflowDuration   metric.Float64Histogram
	stepExecutions     metric.Int64Counter
	llmRequests        metric.Int64Counter
	llmDuration        metric.Float64Histogram
	llmTokens          metric.Int64Counter
	llmCostUSD         metric.Float64Counter
	activeExecutions   metric.Int64UpDownCounter
}

// NewMetricsCollector builds a Collector. When cfg.Enabled is false it
// returns a valid no-op Collector rather than an error, so callers can wire
// it unconditionally.
func NewMetricsCollector(cfg MetricsConfig) (*Collector, error) {
	if !cfg.Enabled {
		return &Collector{enabled: false}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterScope)

	c := &Collector{enabled: true, provider: provider}

	if c.workflowExecutions, err = meter.Int64Counter("conductor.workflow.executions",
		metric.WithDescription("workflow executions by workflow and terminal status")); err != nil {
		return nil, err
	}
	if c.workflowDuration, err = meter.Float64Histogram("conductor.workflow.duration_seconds",
		metric.WithDescription("wall-clock duration of a workflow execution")); err != nil {
		return nil, err
	}
	if c.stepExecutions, err = meter.Int64Counter("conductor.step.executions",
		metric.WithDescription("step executions by step type and outcome")); err != nil {
		return nil, err
	}
	if c.llmRequests, err = meter.Int64Counter("conductor.llm.requests",
		metric.WithDescription("LLM completions by model and status")); err != nil {
		return nil, err
	}
	if c.llmDuration, err = meter.Float64Histogram("conductor.llm.duration_seconds",
		metric.WithDescription("LLM completion latency")); err != nil {
		return nil, err
	}
	if c.llmTokens, err = meter.Int64Counter("conductor.llm.tokens",
		metric.WithDescription("LLM tokens consumed, tagged input/output")); err != nil {
		return nil, err
	}
	if c.llmCostUSD, err = meter.Float64Counter("conductor.llm.cost_usd",
		metric.WithDescription("estimated LLM spend")); err != nil {
		return nil, err
	}
	if c.activeExecutions, err = meter.Int64UpDownCounter("conductor.executions.active",
		metric.WithDescription("workflow executions currently running or paused")); err != nil {
		return nil, err
	}

	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		c.server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
		go func() { _ = c.server.ListenAndServe() }()
	}

	return c, nil
}

// RecordWorkflowExecution records one terminal workflow execution outcome.
func (c *Collector) RecordWorkflowExecution(ctx context.Context, workflowName, status string, d time.Duration) {
	if !c.enabled {
		return
	}
	attrs := metric.WithAttributes(attr("workflow", workflowName), attr("status", status))
	c.workflowExecutions.Add(ctx, 1, attrs)
	c.workflowDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStepExecution records one step's dispatch outcome.
func (c *Collector) RecordStepExecution(ctx context.Context, stepType, status string) {
	if !c.enabled {
		return
	}
	c.stepExecutions.Add(ctx, 1, metric.WithAttributes(attr("step_type", stepType), attr("status", status)))
}

// RecordLLMRequest records one agent-runner completion: latency, token
// counts, and estimated spend.
func (c *Collector) RecordLLMRequest(ctx context.Context, model, status string, d time.Duration, inputTokens, outputTokens int, costUSD float64) {
	if !c.enabled {
		return
	}
	base := metric.WithAttributes(attr("model", model), attr("status", status))
	c.llmRequests.Add(ctx, 1, base)
	c.llmDuration.Record(ctx, d.Seconds(), base)
	c.llmTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attr("model", model), attr("direction", "input")))
	c.llmTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attr("model", model), attr("direction", "output")))
	c.llmCostUSD.Add(ctx, costUSD, metric.WithAttributes(attr("model", model)))
}

// IncrementActiveExecutions marks one more execution as running/paused.
func (c *Collector) IncrementActiveExecutions(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.activeExecutions.Add(ctx, 1)
}

// DecrementActiveExecutions marks one execution as no longer running/paused.
func (c *Collector) DecrementActiveExecutions(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.activeExecutions.Add(ctx, -1)
}

// Shutdown flushes the meter provider and stops the scrape server, if any.
func (c *Collector) Shutdown(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if c.server != nil {
		_ = c.server.Shutdown(ctx)
	}
	if c.provider != nil {
		return c.provider.Shutdown(ctx)
	}
	return nil
}

// perMillionTokenUSD is a rough, illustrative per-model rate table used only
// to surface a cost estimate in metrics; it is not a billing source of
// truth.
var perMillionTokenUSD = map[string][2]float64{
	"gpt-4":           {30, 60},
	"gpt-3.5-turbo":   {0.5, 1.5},
	"claude-3-opus":   {15, 75},
	"claude-3-sonnet": {3, 15},
}

// EstimateCost returns an estimated USD cost for an LLM call, falling back
// to a generic mid-tier rate for unrecognized models so metrics are always
// populated with some value rather than zero.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	rates, ok := perMillionTokenUSD[model]
	if !ok {
		rates = [2]float64{5, 15}
	}
	return float64(inputTokens)/1_000_000*rates[0] + float64(outputTokens)/1_000_000*rates[1]
}

func attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
