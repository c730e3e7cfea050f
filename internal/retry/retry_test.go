package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"conductor/internal/store"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientFailure(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return store.NewError(store.KindLLMFailure, errors.New("boom"), "llm down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryPermanentFailure(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return store.NewError(store.KindInvalidArgument, nil, "bad input")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for non-retryable kind)", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return store.NewError(store.KindToolFailure, nil, "tool down")
	})
	kind, ok := store.KindOf(err)
	if !ok || kind != store.KindMaxRetriesExceeded {
		t.Fatalf("kind = %v, ok=%v, want KindMaxRetriesExceeded", kind, ok)
	}
}

func TestDelayExponentialWithCap(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 4 * time.Second, JitterFactor: 0}
	if got := Delay(0, cfg); got != time.Second {
		t.Fatalf("Delay(0) = %v, want 1s", got)
	}
	if got := Delay(1, cfg); got != 2*time.Second {
		t.Fatalf("Delay(1) = %v, want 2s", got)
	}
	if got := Delay(3, cfg); got != 4*time.Second {
		t.Fatalf("Delay(3) = %v, want capped at 4s", got)
	}
}

func TestDelayHonorsCustomMultiplier(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Hour, Multiplier: 3, JitterFactor: 0}
	if got := Delay(0, cfg); got != time.Second {
		t.Fatalf("Delay(0) = %v, want 1s", got)
	}
	if got := Delay(1, cfg); got != 3*time.Second {
		t.Fatalf("Delay(1) = %v, want 3s", got)
	}
	if got := Delay(2, cfg); got != 9*time.Second {
		t.Fatalf("Delay(2) = %v, want 9s", got)
	}
}
