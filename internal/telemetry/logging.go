// Package telemetry is the engine's ambient observability: structured
// logging configuration shared by every component, and OpenTelemetry
// metrics exported for Prometheus scraping.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the engine-wide slog logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer
}

// NewLogger builds a *slog.Logger from cfg, defaulting to info/json/stdout.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	executionIDKey contextKey = "execution_id"
)

// ContextWithTraceID attaches a trace identifier to ctx for log correlation.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace identifier attached to ctx, if any.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// ContextWithExecutionID attaches a workflow execution identifier to ctx for
// log correlation across the step loop, agent runner, and approval sweeps.
func ContextWithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionIDFromContext returns the execution identifier attached to ctx,
// if any.
func ExecutionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// LoggerFromContext returns base enriched with whatever correlation IDs are
// attached to ctx, so a single log.Logger("component", ...) call downstream
// still carries execution/trace correlation without threading extra
// parameters through every signature.
func LoggerFromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	if execID := ExecutionIDFromContext(ctx); execID != "" {
		logger = logger.With("execution_id", execID)
	}
	return logger
}

// SanitizeAPIKey masks a credential for logging: never log the key itself,
// only whether one is configured.
func SanitizeAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return "(hidden)"
}
