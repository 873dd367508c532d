package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warden-systems/warden/core/pkg/alert"
	"github.com/warden-systems/warden/core/pkg/breaker"
)

// Monitor polls breaker and health state on an interval, recovers services
// whose breaker closed again, and escalates sustained degradation.
type Monitor struct {
	tracker   *Tracker
	breakers  *breaker.Registry
	escalator alert.Escalator
	interval  time.Duration
	alerted   map[string]bool
}

// NewMonitor creates a monitor polling every interval (default 30s).
func NewMonitor(tracker *Tracker, breakers *breaker.Registry, escalator alert.Escalator, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		tracker:   tracker,
		breakers:  breakers,
		escalator: escalator,
		interval:  interval,
		alerted:   make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. Call in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll performs one pass. Exported so tests and manual triggers can drive
// it without the ticker.
func (m *Monitor) Poll(ctx context.Context) {
	states := m.breakers.States()

	for _, service := range m.tracker.Services() {
		degraded := m.tracker.IsDegraded(service)

		if degraded && states[service] == breaker.StateClosed {
			// The breaker confirmed the dependency answers again.
			m.tracker.MarkRecovered(ctx, service)
			delete(m.alerted, service)
			continue
		}

		if degraded && !m.alerted[service] {
			m.alerted[service] = true
			if m.escalator != nil {
				_ = m.escalator.Escalate(ctx, "service_degraded",
					fmt.Sprintf("service %q is degraded (breaker %s)", service, states[service]))
			}
		}
		if !degraded {
			delete(m.alerted, service)
		}
	}
}

// Report summarizes current health for operator briefings.
func (m *Monitor) Report() string {
	var b strings.Builder
	states := m.breakers.States()

	b.WriteString("service health report\n")
	for _, service := range m.tracker.Services() {
		status := "healthy"
		if m.tracker.IsDegraded(service) {
			status = "degraded"
		}
		recent := m.tracker.History(service, 5)
		errs := 0
		for _, o := range recent {
			if !o.Success {
				errs++
			}
		}
		fmt.Fprintf(&b, "  %s: %s, breaker=%s, recent_errors=%d/%d\n",
			service, status, states[service], errs, len(recent))
	}
	return b.String()
}
