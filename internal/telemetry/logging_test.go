package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: buf})

	logger.Info("test message", "key", "value")
	if buf.Len() == 0 {
		t.Fatal("expected log output, got none")
	}

	var entry map[string]any
	if err := json.NewDecoder(buf).Decode(&entry); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "test message")
	}
	if strings.ToUpper(entry["level"].(string)) != "INFO" {
		t.Fatalf("level = %v, want INFO", entry["level"])
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: buf})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn level, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Fatalf("output %q does not contain warn message", buf.String())
	}
}

func TestLoggerFromContextAddsCorrelationIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewLogger(LogConfig{Level: "info", Format: "json", Output: buf})

	ctx := context.Background()
	ctx = ContextWithTraceID(ctx, "trace-123")
	ctx = ContextWithExecutionID(ctx, "exec-456")

	LoggerFromContext(ctx, base).Info("test message")

	output := buf.String()
	if !strings.Contains(output, "trace-123") || !strings.Contains(output, "exec-456") {
		t.Fatalf("output %q missing correlation IDs", output)
	}
}

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithTraceID(ctx, "trace-123")
	if got := TraceIDFromContext(ctx); got != "trace-123" {
		t.Fatalf("TraceIDFromContext = %q, want trace-123", got)
	}
	if got := ExecutionIDFromContext(context.Background()); got != "" {
		t.Fatalf("ExecutionIDFromContext on empty context = %q, want empty", got)
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	cases := []struct{ key, want string }{
		{"", "(not set)"},
		{"short", "(hidden)"},
		{"sk-1234567890abcdefghijklmnop", "(hidden)"},
	}
	for _, c := range cases {
		if got := SanitizeAPIKey(c.key); got != c.want {
			t.Fatalf("SanitizeAPIKey(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}
