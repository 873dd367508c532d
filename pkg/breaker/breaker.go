// Package breaker implements the per-service circuit breaker state machine
// and its registry. A breaker bounds wasted effort against a known-dead
// dependency: closed passes calls through, open fails fast without reaching
// the adapter, half_open admits a single trial call.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the transition thresholds. Zero values take defaults.
type Config struct {
	FailureThreshold int           // failures within Window that open the breaker
	Window           time.Duration // rolling failure window
	Cooldown         time.Duration // open -> half_open delay
}

// DefaultConfig returns the standard thresholds: 5 failures in 60s open the
// breaker, 30s cool-down before a trial is admitted.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// StateChange notifies transitions so the orchestrator can audit them.
type StateChange func(service string, from, to State)

// Breaker is the state machine for one service.
type Breaker struct {
	mu            sync.Mutex
	service       string
	cfg           Config
	state         State
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool
	softCount     int
	clock         func() time.Time
	onChange      StateChange
}

// New creates a closed breaker for a service.
func New(service string, cfg Config) *Breaker {
	return &Breaker{
		service: service,
		cfg:     cfg.withDefaults(),
		state:   StateClosed,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports whether a call may proceed. In open state it also performs
// the cool-down transition to half_open and admits exactly one trial;
// concurrent callers during the trial are rejected as if open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess reports a successful call. A half_open trial success closes
// the breaker; in closed state it clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.transition(StateClosed)
	}
	b.failures = b.failures[:0]
}

// RecordFailure reports a failed call. A half_open trial failure reopens the
// breaker immediately; in closed state the failure enters the rolling window
// and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailureLocked()
}

// RecordRateLimited reports a rate-limit response. Rate limits signal load,
// not death, so only every second one enters the failure window.
func (b *Breaker) RecordRateLimited() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.softCount++
	if b.softCount%2 == 0 {
		b.recordFailureLocked()
	}
}

func (b *Breaker) recordFailureLocked() {
	now := b.clock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.openedAt = now
		b.transition(StateOpen)
		return
	}
	if b.state == StateOpen {
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.failures = b.failures[:0]
		b.transition(StateOpen)
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// State returns the stored state. The open -> half_open transition happens
// on the next Allow, not here.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the number of failures currently in the window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.clock())
	return len(b.failures)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		// Called outside the registry lock but inside the breaker lock;
		// handlers must not call back into this breaker.
		b.onChange(b.service, from, to)
	}
}

// Registry holds one breaker per service, created on demand.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	cfg       Config
	overrides map[string]Config
	clock     func() time.Time
	onChange  StateChange
}

// NewRegistry creates a registry with a shared default config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		cfg:       cfg.withDefaults(),
		overrides: make(map[string]Config),
		clock:     time.Now,
	}
}

// Configure sets a per-service config override. Must be called before the
// service's breaker is first requested.
func (r *Registry) Configure(service string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[service] = cfg.withDefaults()
}

// WithClock overrides the clock used by breakers the registry creates.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// OnStateChange registers a transition hook applied to every breaker.
// Must be called before the first Get.
func (r *Registry) OnStateChange(fn StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for a service, creating it if needed.
func (r *Registry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[service]; ok {
		return b
	}
	cfg := r.cfg
	if override, ok := r.overrides[service]; ok {
		cfg = override
	}
	b = New(service, cfg).WithClock(r.clock)
	b.onChange = r.onChange
	r.breakers[service] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
