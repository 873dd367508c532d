//go:build property
// +build property

// Package retry_test contains property-based tests for backoff determinism
// and bounds.
package retry_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/warden-systems/warden/core/pkg/retry"
)

// TestBackoffDeterminism verifies the same inputs always produce the same
// delay. Property: Backoff(a, s, n) == Backoff(a, s, n)
func TestBackoffDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	policy := retry.DefaultPolicy()

	properties.Property("backoff is deterministic", prop.ForAll(
		func(actionID, service string, attempt int) bool {
			return policy.Backoff(actionID, service, attempt) == policy.Backoff(actionID, service, attempt)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestBackoffBounded verifies the delay never exceeds max delay plus max
// jitter, for any attempt index including ones large enough to overflow a
// naive doubling.
func TestBackoffBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	policy := retry.Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxJitter:   time.Second,
		MaxAttempts: 10,
	}

	properties.Property("backoff never exceeds cap plus jitter", prop.ForAll(
		func(actionID string, attempt int) bool {
			d := policy.Backoff(actionID, "ledger", attempt)
			return d >= 0 && d <= policy.MaxDelay+policy.MaxJitter
		},
		gen.AlphaString(),
		gen.IntRange(0, 1000),
	))

	properties.Property("backoff is monotonic until the cap", prop.ForAll(
		func(actionID string) bool {
			noJitter := retry.Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 10}
			prev := time.Duration(0)
			for attempt := 0; attempt < 8; attempt++ {
				d := noJitter.Backoff(actionID, "ledger", attempt)
				if d < prev {
					return false
				}
				prev = d
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
