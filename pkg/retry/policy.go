// Package retry implements the per-service, per-idempotency-class retry
// policy engine. Idempotent calls back off exponentially with deterministic
// jitter; non-idempotent calls get exactly one attempt, always.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy holds the retry parameters for one service.
type Policy struct {
	BaseDelay      time.Duration // first retry delay
	MaxDelay       time.Duration // backoff cap
	MaxJitter      time.Duration // upper bound on added jitter
	MaxAttempts    int           // total attempts for idempotent calls
	AttemptTimeout time.Duration // per-call deadline; 0 means none
	RateLimitCap   time.Duration // longest wait honored from a rate limiter
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      1 * time.Second,
		MaxDelay:       60 * time.Second,
		MaxJitter:      500 * time.Millisecond,
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		RateLimitCap:   5 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = d.MaxJitter
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.RateLimitCap <= 0 {
		p.RateLimitCap = d.RateLimitCap
	}
	return p
}

// Backoff returns the delay before the given retry attempt (attempt 0 is
// the delay after the first failure). Jitter is deterministic, derived from
// the action and attempt, so retry schedules are reproducible in replay.
func (p Policy) Backoff(actionID, service string, attempt int) time.Duration {
	// delay = base * 2^attempt, capped
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Avoid overflow, cap exponent
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(p.BaseDelay) * factor)
	if delay > p.MaxDelay || delay < 0 {
		delay = p.MaxDelay
	}

	return delay + p.jitter(actionID, service, attempt)
}

func (p Policy) jitter(actionID, service string, attempt int) time.Duration {
	if p.MaxJitter == 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", actionID, service, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}
