// Package retry executes a step function under exponential backoff with
// jitter, following the discipline the pack's task-orchestrator packages
// apply around transient-vs-permanent error classification, adapted here to
// classify on store.Kind rather than a parallel error-type hierarchy.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"conductor/internal/store"
)

// Config holds the retry policy: max attempts beyond the first try, the base
// and ceiling delays, the exponent base applied between attempts, and the
// jitter fraction applied to each computed delay.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultConfig matches the orchestrator's built-in retry-config default
// when a step omits one.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.25,
	}
}

// Func is a unit of work the orchestrator retries: one step execution
// attempt.
type Func func(ctx context.Context) error

// Do runs fn, retrying on a store.EngineError whose Kind is retryable per
// store.Retryable, until it succeeds, a non-retryable error surfaces, the
// context is cancelled, or attempts are exhausted (KindMaxRetriesExceeded).
// After failed attempt n, Do waits Delay(n, cfg) before the next one.
func Do(ctx context.Context, cfg Config, fn Func) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Delay(attempt, cfg)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return store.NewError(store.KindMaxRetriesExceeded, lastErr, "max retries (%d) exceeded: %v", cfg.MaxAttempts, lastErr)
}

func isRetryable(err error) bool {
	kind, ok := store.KindOf(err)
	if !ok {
		return false
	}
	return store.Retryable(kind)
}

// Delay computes the exponential-backoff-with-jitter wait before the given
// (zero-indexed) attempt: baseDelay * multiplier^attempt, capped at maxDelay,
// then jittered by ±jitterFactor. A zero Multiplier defaults to 2, matching
// the pre-configurable behavior.
func Delay(attempt int, cfg Config) time.Duration {
	base := cfg.Multiplier
	if base <= 0 {
		base = 2
	}
	factor := math.Pow(base, float64(attempt))
	delay := time.Duration(float64(cfg.BaseDelay) * factor)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * cfg.JitterFactor
	delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
	if delay < 0 {
		delay = 0
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// NextResumeAt computes the timestamp a failed-but-retryable step should
// resume at, for persistence in WorkflowExecution.ResumeAt.
func NextResumeAt(now time.Time, attempt int, cfg Config) time.Time {
	return now.Add(Delay(attempt, cfg))
}
