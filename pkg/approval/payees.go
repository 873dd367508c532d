package approval

import (
	"context"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
)

// StaticPayeeSource answers from a fixed allowlist, typically loaded from
// the service profile.
type StaticPayeeSource map[string]bool

func (s StaticPayeeSource) Known(ctx context.Context, payee string) (bool, error) {
	_ = ctx
	return s[payee], nil
}

// AuditPayeeSource treats a payee as known when a successful financial
// write to them appears in the audit trail within the lookback window.
type AuditPayeeSource struct {
	log      *audit.Log
	lookback time.Duration
	clock    func() time.Time
}

func NewAuditPayeeSource(log *audit.Log, lookback time.Duration) *AuditPayeeSource {
	if lookback <= 0 {
		lookback = DefaultPolicyConfig().PayeeLookback
	}
	return &AuditPayeeSource{log: log, lookback: lookback, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *AuditPayeeSource) WithClock(clock func() time.Time) *AuditPayeeSource {
	s.clock = clock
	return s
}

func (s *AuditPayeeSource) Known(ctx context.Context, payee string) (bool, error) {
	_ = ctx
	cutoff := s.clock().UTC().Add(-s.lookback)
	entries := s.log.Query(audit.QueryFilter{Stage: audit.StageExecuted, StartTime: &cutoff})
	for _, e := range entries {
		if e.Result == "succeeded" && e.Metadata["payee"] == payee {
			return true, nil
		}
	}
	return false, nil
}

// CombinedPayeeSource is known if any source knows the payee.
type CombinedPayeeSource []KnownPayeeSource

func (c CombinedPayeeSource) Known(ctx context.Context, payee string) (bool, error) {
	for _, src := range c {
		known, err := src.Known(ctx, payee)
		if err != nil {
			return false, err
		}
		if known {
			return true, nil
		}
	}
	return false, nil
}
