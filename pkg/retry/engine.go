package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/breaker"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

// CallFunc is one real attempt against an external adapter.
type CallFunc func(ctx context.Context) (json.RawMessage, error)

// Engine runs calls under the retry policy for their service, routing every
// attempt through the service's circuit breaker.
type Engine struct {
	policies map[string]Policy
	fallback Policy
	breakers *breaker.Registry
	log      audit.Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine with per-service policy overrides.
func NewEngine(breakers *breaker.Registry, log audit.Recorder, policies map[string]Policy) *Engine {
	resolved := make(map[string]Policy, len(policies))
	for name, p := range policies {
		resolved[name] = p.withDefaults()
	}
	return &Engine{
		policies: resolved,
		fallback: DefaultPolicy(),
		breakers: breakers,
		log:      log,
		sleep:    sleepContext,
	}
}

// WithSleep overrides the delay function for deterministic testing.
func (e *Engine) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Engine {
	e.sleep = fn
	return e
}

// PolicyFor returns the effective policy for a service.
func (e *Engine) PolicyFor(service string) Policy {
	if p, ok := e.policies[service]; ok {
		return p
	}
	return e.fallback
}

// Execute runs fn under the service's policy. Idempotent calls are retried
// with backoff up to the attempt budget; non-idempotent calls get exactly
// one attempt regardless of outcome. An open breaker short-circuits before
// any attempt is dispatched.
func (e *Engine) Execute(ctx context.Context, actionID, service string, class contracts.IdempotencyClass, fn CallFunc) (json.RawMessage, error) {
	policy := e.PolicyFor(service)
	attempts := policy.MaxAttempts
	if class == contracts.NonIdempotent {
		attempts = 1
	}

	br := e.breakers.Get(service)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// An open breaker fails the whole execution immediately; it does
		// not burn through the remaining attempt budget.
		if !br.Allow() {
			if e.log != nil {
				_, _ = e.log.Record(ctx, actionID, service, audit.StageExecuted, "circuit_open",
					contracts.ErrBreakerOpen, nil)
			}
			return nil, fmt.Errorf("call to service %q short-circuited: %w", service, contracts.ErrBreakerOpen)
		}

		result, err := e.attempt(ctx, policy, fn)
		if err == nil {
			br.RecordSuccess()
			return result, nil
		}
		lastErr = err

		var rl *contracts.RateLimitError
		rateLimited := errors.As(err, &rl)
		if rateLimited {
			br.RecordRateLimited()
		} else {
			br.RecordFailure()
		}

		if class == contracts.NonIdempotent || !contracts.Retryable(err) || attempt == attempts-1 {
			return nil, err
		}

		var delay time.Duration
		if rateLimited {
			delay = rateLimitDelay(err, time.Minute, policy.RateLimitCap)
		} else {
			delay = policy.Backoff(actionID, service, attempt)
		}

		if e.log != nil {
			_, _ = e.log.Record(ctx, actionID, service, audit.StageRetried, "scheduled", err, map[string]string{
				"attempt":  strconv.Itoa(attempt + 1),
				"delay_ms": strconv.FormatInt(delay.Milliseconds(), 10),
			})
		}

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (e *Engine) attempt(ctx context.Context, policy Policy, fn CallFunc) (json.RawMessage, error) {
	if policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
