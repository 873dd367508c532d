package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/breaker"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func transientErr(service string) error {
	return &contracts.TransientError{Service: service, Err: errors.New("connection reset")}
}

func TestNonIdempotentSingleAttempt(t *testing.T) {
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), nil, nil).WithSleep(noSleep(nil))

	calls := 0
	_, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.NonIdempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, transientErr("ledger")
		})

	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("non-idempotent call attempted %d times, want exactly 1", calls)
	}
}

func TestIdempotentRetriesWithBackoff(t *testing.T) {
	var delays []time.Duration
	log := audit.NewLog()
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), log, map[string]Policy{
		"ledger": {BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxJitter: time.Millisecond, MaxAttempts: 3},
	}).WithSleep(noSleep(&delays))

	calls := 0
	result, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			if calls < 3 {
				return nil, transientErr("ledger")
			}
			return json.RawMessage(`{"ok":true}`), nil
		})

	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if string(result) != `{"ok":true}` {
		t.Fatalf("result = %s", result)
	}

	// Backoff doubles: ~1s then ~2s (plus bounded jitter).
	if len(delays) != 2 {
		t.Fatalf("delays = %v, want 2 entries", delays)
	}
	if delays[0] < time.Second || delays[0] > time.Second+time.Millisecond {
		t.Errorf("first delay %v outside [1s, 1s+jitter]", delays[0])
	}
	if delays[1] < 2*time.Second || delays[1] > 2*time.Second+time.Millisecond {
		t.Errorf("second delay %v outside [2s, 2s+jitter]", delays[1])
	}

	retried := log.Query(audit.QueryFilter{Stage: audit.StageRetried})
	if len(retried) != 2 {
		t.Fatalf("retries audited %d times, want 2", len(retried))
	}
}

func TestAttemptBudgetExhausted(t *testing.T) {
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), nil, map[string]Policy{
		"ledger": {MaxAttempts: 2, MaxJitter: 1},
	}).WithSleep(noSleep(nil))

	calls := 0
	_, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, transientErr("ledger")
		})

	var te *contracts.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("want TransientError, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestAuthErrorNeverRetried(t *testing.T) {
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), nil, nil).WithSleep(noSleep(nil))

	calls := 0
	_, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, &contracts.AuthError{Service: "ledger", Err: errors.New("bad token")}
		})

	var ae *contracts.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("want AuthError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failure retried: %d calls", calls)
	}
}

func TestRateLimitExtendsDelay(t *testing.T) {
	var delays []time.Duration
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), nil, map[string]Policy{
		"social": {BaseDelay: time.Second, MaxAttempts: 2, MaxJitter: 1, RateLimitCap: 5 * time.Minute},
	}).WithSleep(noSleep(&delays))

	calls := 0
	_, _ = engine.Execute(context.Background(), "act-1", "social", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			if calls == 1 {
				return nil, &contracts.RateLimitError{Service: "social", RetryAfter: 90 * time.Second, Err: errors.New("429")}
			}
			return json.RawMessage(`{}`), nil
		})

	if len(delays) != 1 || delays[0] != 90*time.Second {
		t.Fatalf("delay should honor the advertised window, got %v", delays)
	}
}

func TestRateLimitScrapedFromText(t *testing.T) {
	err := &contracts.RateLimitError{Service: "social", Err: errors.New("429: retry after 120 seconds")}
	if d := rateLimitDelay(err, time.Minute, 5*time.Minute); d != 120*time.Second {
		t.Fatalf("scraped delay = %v, want 120s", d)
	}

	// Fallback when nothing is advertised.
	bare := &contracts.RateLimitError{Service: "social", Err: errors.New("too many requests")}
	if d := rateLimitDelay(bare, time.Minute, 5*time.Minute); d != time.Minute {
		t.Fatalf("fallback delay = %v, want 1m", d)
	}

	// Cap wins over a huge advertised window.
	huge := &contracts.RateLimitError{Service: "social", RetryAfter: time.Hour, Err: errors.New("429")}
	if d := rateLimitDelay(huge, time.Minute, 5*time.Minute); d != 5*time.Minute {
		t.Fatalf("capped delay = %v, want 5m", d)
	}
}

func TestOpenBreakerShortCircuits(t *testing.T) {
	registry := breaker.NewRegistry(breaker.DefaultConfig())
	for i := 0; i < 5; i++ {
		registry.Get("ledger").RecordFailure()
	}

	engine := NewEngine(registry, nil, nil).WithSleep(noSleep(nil))

	calls := 0
	_, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, nil
		})

	if !errors.Is(err, contracts.ErrBreakerOpen) {
		t.Fatalf("want ErrBreakerOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("adapter reached through an open breaker: %d calls", calls)
	}
}

func TestOpenBreakerShortCircuitIsAudited(t *testing.T) {
	registry := breaker.NewRegistry(breaker.DefaultConfig())
	for i := 0; i < 5; i++ {
		registry.Get("ledger").RecordFailure()
	}

	log := audit.NewLog()
	engine := NewEngine(registry, log, nil).WithSleep(noSleep(nil))

	_, err := engine.Execute(context.Background(), "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) { return nil, nil })
	if !errors.Is(err, contracts.ErrBreakerOpen) {
		t.Fatalf("want ErrBreakerOpen, got %v", err)
	}

	entries := log.Query(audit.QueryFilter{Stage: audit.StageExecuted})
	if len(entries) != 1 || entries[0].Result != "circuit_open" {
		t.Fatalf("short-circuit not audited as circuit_open: %+v", entries)
	}
}

func TestCancellationStopsRetries(t *testing.T) {
	engine := NewEngine(breaker.NewRegistry(breaker.DefaultConfig()), nil, map[string]Policy{
		"ledger": {MaxAttempts: 5, MaxJitter: 1},
	})
	// Real sleep would stall; cancel during the first delay instead.
	ctx, cancel := context.WithCancel(context.Background())
	engine.WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	_, err := engine.Execute(ctx, "act-1", "ledger", contracts.Idempotent,
		func(ctx context.Context) (json.RawMessage, error) {
			calls++
			return nil, transientErr("ledger")
		})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
