// Package health tracks per-service error rates and the degraded flag the
// queue and orchestrator consult. Health is advisory: it steers queueing and
// drain decisions but never hard-gates an execution by itself.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
)

// Config holds the degradation thresholds. Zero values take defaults.
type Config struct {
	Window     time.Duration // sliding error window
	Threshold  int           // errors within Window that mark the service degraded
	HistoryCap int           // retained outcome records per service
}

// DefaultConfig returns the standard window: 5 errors within an hour
// degrade a service, with the last 100 outcomes retained.
func DefaultConfig() Config {
	return Config{
		Window:     time.Hour,
		Threshold:  5,
		HistoryCap: 100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = d.HistoryCap
	}
	return c
}

// Outcome is one recorded call result.
type Outcome struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// serviceHealth is the per-service state, with its own lock so services
// never serialize against each other.
type serviceHealth struct {
	mu       sync.Mutex
	history  []Outcome
	degraded bool
}

// Tracker owns ServiceHealth for every service.
type Tracker struct {
	mu       sync.RWMutex
	services map[string]*serviceHealth
	cfg      Config
	clock    func() time.Time
	log      audit.Recorder
	onChange func(service string, degraded bool)
}

// NewTracker creates a tracker. The audit recorder may be nil in tests.
func NewTracker(cfg Config, log audit.Recorder) *Tracker {
	return &Tracker{
		services: make(map[string]*serviceHealth),
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		log:      log,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// OnChange registers a hook fired on degraded/recovered transitions.
// The queue drainer subscribes here.
func (t *Tracker) OnChange(fn func(service string, degraded bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

func (t *Tracker) get(service string) *serviceHealth {
	t.mu.RLock()
	s, ok := t.services[service]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.services[service]; ok {
		return s
	}
	s = &serviceHealth{}
	t.services[service] = s
	return s
}

// RecordOutcome records one call result. Errors inside the sliding window
// past the threshold mark the service degraded; a success recovers it.
func (t *Tracker) RecordOutcome(ctx context.Context, service string, success bool, cause error) {
	s := t.get(service)
	now := t.clock().UTC()

	out := Outcome{Timestamp: now, Success: success}
	if cause != nil {
		out.Error = cause.Error()
	}

	s.mu.Lock()
	s.history = append(s.history, out)
	if len(s.history) > t.cfg.HistoryCap {
		s.history = s.history[len(s.history)-t.cfg.HistoryCap:]
	}

	var transition string
	if success {
		if s.degraded {
			s.degraded = false
			transition = "recovered"
		}
	} else if !s.degraded && t.errorsInWindowLocked(s, now) >= t.cfg.Threshold {
		s.degraded = true
		transition = "degraded"
	}
	s.mu.Unlock()

	switch transition {
	case "degraded":
		if t.log != nil {
			_, _ = t.log.Record(ctx, "", service, audit.StageDegraded, "degraded", cause, nil)
		}
		t.notify(service, true)
	case "recovered":
		if t.log != nil {
			_, _ = t.log.Record(ctx, "", service, audit.StageRecovered, "recovered", nil, nil)
		}
		t.notify(service, false)
	}
}

// MarkRecovered clears the degraded flag without a call outcome, used by
// the poll loop when the breaker confirms the service closed.
func (t *Tracker) MarkRecovered(ctx context.Context, service string) {
	s := t.get(service)

	s.mu.Lock()
	was := s.degraded
	s.degraded = false
	s.mu.Unlock()

	if was {
		if t.log != nil {
			_, _ = t.log.Record(ctx, "", service, audit.StageRecovered, "recovered_by_poll", nil, nil)
		}
		t.notify(service, false)
	}
}

func (t *Tracker) notify(service string, degraded bool) {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn(service, degraded)
	}
}

func (t *Tracker) errorsInWindowLocked(s *serviceHealth, now time.Time) int {
	cutoff := now.Add(-t.cfg.Window)
	count := 0
	for _, o := range s.history {
		if !o.Success && o.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// IsDegraded reports whether the service is currently degraded.
func (t *Tracker) IsDegraded(service string) bool {
	s := t.get(service)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// History returns up to lastN most recent outcomes, oldest first.
func (t *Tracker) History(service string, lastN int) []Outcome {
	s := t.get(service)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if lastN > 0 && lastN < n {
		n = lastN
	}
	out := make([]Outcome, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Services returns the names of every tracked service.
func (t *Tracker) Services() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	return names
}
