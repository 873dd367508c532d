// Package executor orchestrates the life of an action: approval, dry-run
// gate, guarded execution, queueing during outages and replay on recovery.
// It is the only component that moves an action between lifecycle states,
// and every transition leaves an audit record.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/warden-systems/warden/core/pkg/alert"
	"github.com/warden-systems/warden/core/pkg/approval"
	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/contracts"
	"github.com/warden-systems/warden/core/pkg/gate"
	"github.com/warden-systems/warden/core/pkg/health"
	"github.com/warden-systems/warden/core/pkg/observability"
	"github.com/warden-systems/warden/core/pkg/queue"
	"github.com/warden-systems/warden/core/pkg/retry"
)

// Config holds the orchestrator knobs. Zero values take defaults.
type Config struct {
	// Live enables real adapter calls. The zero value keeps the executor
	// in global dry-run; an operator must explicitly opt in to live
	// execution.
	Live bool

	// Workers is the size of the execution worker pool.
	Workers int

	// SweepInterval is how often overdue pending approvals are expired.
	SweepInterval time.Duration

	// DrainRate caps replays per second when a recovered service's queue
	// drains. DrainBurst allows short bursts above the rate.
	DrainRate  float64
	DrainBurst int
}

const (
	defaultWorkers       = 4
	defaultSweepInterval = 5 * time.Minute
)

// Deps are the collaborators the orchestrator composes. Observer is
// optional; when set, executions get spans and duration metrics.
type Deps struct {
	Governor  *approval.Governor
	Gate      *gate.Gate
	Engine    *retry.Engine
	Tracker   *health.Tracker
	Queue     queue.Queue
	Log       audit.Recorder
	Escalator alert.Escalator
	Observer  *observability.Provider
}

// task is one unit of work for the pool. Replayed marks a drain from the
// operation queue rather than a fresh submission.
type task struct {
	req      contracts.ActionRequest
	attempts int
	replayed bool
}

// Executor drives the per-action state machine.
type Executor struct {
	cfg  Config
	deps Deps

	mu           sync.Mutex
	states       map[string]contracts.ExecutionState
	parked       map[string]contracts.ActionRequest
	cancelled    map[string]bool
	adapters     map[string]contracts.Adapter
	pendingDrain map[string]struct{}

	dryRun atomic.Bool
	jobs   chan task
	drains chan string
	clock  func() time.Time
	wg     sync.WaitGroup
}

// New creates an executor and wires itself into the governor's decision
// stream and the health tracker's recovery notifications.
func New(cfg Config, deps Deps) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	e := &Executor{
		cfg:          cfg,
		deps:         deps,
		states:       make(map[string]contracts.ExecutionState),
		parked:       make(map[string]contracts.ActionRequest),
		cancelled:    make(map[string]bool),
		adapters:     make(map[string]contracts.Adapter),
		pendingDrain: make(map[string]struct{}),
		jobs:         make(chan task, 256),
		drains:       make(chan string, 64),
		clock:        time.Now,
	}
	e.dryRun.Store(!cfg.Live)

	deps.Governor.OnDecision(e.onDecision)
	if deps.Tracker != nil {
		deps.Tracker.OnChange(func(service string, degraded bool) {
			if !degraded {
				e.kickDrain(service)
			}
		})
	}
	return e
}

// WithClock overrides the clock for deterministic testing.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// RegisterAdapter binds a service name to its external adapter. Must be
// called before submissions for that service.
func (e *Executor) RegisterAdapter(service string, adapter contracts.Adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[service] = adapter
}

// SetGlobalDryRun flips simulation mode. Takes effect on the next gate
// check, including attempts already in the pipeline.
func (e *Executor) SetGlobalDryRun(on bool) {
	e.dryRun.Store(on)
}

// GlobalDryRun reports the current simulation mode.
func (e *Executor) GlobalDryRun() bool {
	return e.dryRun.Load()
}

// Run starts the worker pool, the expiry sweeper and the queue drainer,
// and blocks until ctx is cancelled and in-flight work has finished.
func (e *Executor) Run(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.wg.Add(2)
	go e.sweeper(ctx)
	go e.drainer(ctx)

	<-ctx.Done()
	e.wg.Wait()
}

// Submit validates a request, records it, and routes it through the
// approval governor. Auto-approved actions are dispatched to the pool;
// pending ones park until a decision or expiry arrives. The worker is
// never held while a human decides.
func (e *Executor) Submit(ctx context.Context, req *contracts.ActionRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = e.clock().UTC()
	}
	if err := contracts.ValidateRequest(req); err != nil {
		return "", err
	}

	e.setState(req.ID, contracts.StateSubmitted)
	e.record(ctx, req.ID, req.Service, audit.StageSubmitted, "accepted", nil,
		map[string]string{"kind": string(req.Kind)})

	rec, err := e.deps.Governor.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", req.ID, err)
	}

	if rec.Status == contracts.ApprovalPending {
		e.mu.Lock()
		e.parked[req.ID] = *req
		e.mu.Unlock()
		e.setState(req.ID, contracts.StateApprovalPending)

		// A decision can land between the governor write and the park
		// above; its notification finds nothing parked and is dropped.
		// Re-read the record so that racing decision still settles the
		// action instead of stranding it.
		if cur, err := e.deps.Governor.Get(ctx, req.ID); err == nil && cur.Status != contracts.ApprovalPending {
			e.mu.Lock()
			_, stillParked := e.parked[req.ID]
			delete(e.parked, req.ID)
			e.mu.Unlock()
			if stillParked {
				e.settle(cur, *req)
			}
		}
		return req.ID, nil
	}

	e.setState(req.ID, contracts.StateAutoApproved)
	e.dispatch(task{req: *req})
	return req.ID, nil
}

// Decide forwards an external human decision to the governor. Conflicts
// come back as ApprovalConflictError; the caller treats them as an ack
// of the earlier decision.
func (e *Executor) Decide(ctx context.Context, actionID string, decision contracts.Decision, decidedBy string) error {
	_, err := e.deps.Governor.Decide(ctx, actionID, decision, decidedBy)
	return err
}

// DecideSigned verifies a signed decision token from the human-facing
// collaborator and applies the decision it carries.
func (e *Executor) DecideSigned(ctx context.Context, token string, verifier *approval.TokenVerifier) error {
	claims, err := verifier.Verify(token)
	if err != nil {
		return fmt.Errorf("decision token: %w", err)
	}
	return e.Decide(ctx, claims.ActionID, claims.Decision, claims.Subject)
}

// Cancel stops an action cooperatively. Only actions parked for approval,
// queued, or not yet dispatched can be cancelled; once an execution
// attempt starts the action runs to its outcome.
func (e *Executor) Cancel(ctx context.Context, actionID string) error {
	e.mu.Lock()
	state, ok := e.states[actionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("cancel %s: unknown action", actionID)
	}
	if state == contracts.StateExecuting || state.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("cancel %s: action is %s", actionID, state)
	}
	e.cancelled[actionID] = true
	delete(e.parked, actionID)
	e.states[actionID] = contracts.StateCancelled
	e.mu.Unlock()

	e.record(ctx, actionID, "", audit.StageCancelled, "cancelled", nil, nil)
	return nil
}

// State returns the current lifecycle state of an action.
func (e *Executor) State(actionID string) (contracts.ExecutionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[actionID]
	return s, ok
}

// Forget drops the in-memory state of a settled action so a long-running
// process does not grow one entry per action forever. The audit log keeps
// the full history. Actions still in flight are refused.
func (e *Executor) Forget(actionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[actionID]
	if !ok || !s.Terminal() {
		return false
	}
	delete(e.states, actionID)
	delete(e.cancelled, actionID)
	return true
}

func (e *Executor) setState(actionID string, s contracts.ExecutionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[actionID] = s
}

func (e *Executor) isCancelled(actionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[actionID]
}

func (e *Executor) dispatch(t task) {
	e.jobs <- t
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.jobs:
			e.process(ctx, t)
		}
	}
}

// onDecision resumes or terminates an action parked for human approval.
// Runs on the governor's caller goroutine; dispatching hands the work to
// the pool so the decision path never blocks on execution.
func (e *Executor) onDecision(ev approval.DecisionEvent) {
	rec := ev.Record

	e.mu.Lock()
	req, wasParked := e.parked[rec.ActionID]
	delete(e.parked, rec.ActionID)
	e.mu.Unlock()

	if !wasParked {
		return
	}
	e.settle(rec, req)
}

// settle routes a settled approval record for an action that was parked.
// Both the decision stream and Submit's re-read can race to unpark; only
// the winner reaches here, so an action settles exactly once.
func (e *Executor) settle(rec *contracts.ApprovalRecord, req contracts.ActionRequest) {
	switch rec.Status {
	case contracts.ApprovalHumanApproved:
		e.dispatch(task{req: req})
	case contracts.ApprovalRejected:
		e.setState(rec.ActionID, contracts.StateRejected)
	case contracts.ApprovalExpired:
		e.setState(rec.ActionID, contracts.StateExpired)
		e.escalate(context.Background(), "approval_expired",
			fmt.Sprintf("action %s expired without a decision and will never execute", rec.ActionID))
	}
}

// process runs the post-approval pipeline for one action: gate, execute,
// then outcome handling. Cancellation is re-checked at the stage boundary;
// once execution starts the action is committed.
func (e *Executor) process(ctx context.Context, t task) {
	req := t.req
	if e.isCancelled(req.ID) {
		return
	}

	rec, err := e.deps.Governor.Get(ctx, req.ID)
	if err != nil {
		e.fail(ctx, req, fmt.Errorf("load approval record: %w", err))
		return
	}

	// A drained operation re-proves its approval. An approval that aged
	// past its deadline while the action sat in the queue is discarded,
	// never silently replayed.
	if t.replayed && (!rec.Approved() || e.clock().UTC().After(rec.ExpiresAt)) {
		e.setState(req.ID, contracts.StateDiscardedExpired)
		e.record(ctx, req.ID, req.Service, audit.StageQueued, "discarded_expired", nil,
			map[string]string{"approval_status": string(rec.Status)})
		return
	}

	if !e.deps.Gate.Allow(ctx, &req, rec, e.dryRun.Load()) {
		e.setState(req.ID, contracts.StateDryRunBlocked)
		return
	}

	e.mu.Lock()
	adapter, ok := e.adapters[req.Service]
	e.mu.Unlock()
	if !ok {
		e.fail(ctx, req, fmt.Errorf("no adapter registered for service %q", req.Service))
		return
	}

	if e.deps.Observer != nil {
		var span trace.Span
		ctx, span = e.deps.Observer.StartSpan(ctx, "warden.execute")
		defer span.End()
	}

	e.setState(req.ID, contracts.StateExecuting)
	started := e.clock()
	_, callErr := e.deps.Engine.Execute(ctx, req.ID, req.Service, req.IdempotencyClass(),
		func(ctx context.Context) (json.RawMessage, error) {
			return adapter.Call(ctx, req.Payload)
		})
	if e.deps.Observer != nil {
		e.deps.Observer.RecordExecutionDuration(ctx, req.Service, e.clock().Sub(started), callErr == nil)
	}

	if e.deps.Tracker != nil {
		e.deps.Tracker.RecordOutcome(ctx, req.Service, callErr == nil, callErr)
	}

	if callErr == nil {
		e.setState(req.ID, contracts.StateSucceeded)
		meta := map[string]string{"kind": string(req.Kind)}
		if req.Payee != "" {
			meta["payee"] = req.Payee
		}
		e.record(ctx, req.ID, req.Service, audit.StageExecuted, "succeeded", nil, meta)
		return
	}

	e.record(ctx, req.ID, req.Service, audit.StageExecuted, "failed", callErr, nil)
	e.handleFailure(ctx, t, callErr)
}

// handleFailure decides between queueing and terminal failure. Only
// idempotent operations queue automatically; a failed non-idempotent
// write always surfaces for a manual decision, even when it arrived
// through a human replay gate.
func (e *Executor) handleFailure(ctx context.Context, t task, callErr error) {
	req := t.req

	queueable := contracts.Queueable(callErr) && req.IdempotencyClass() == contracts.Idempotent
	if !queueable {
		e.fail(ctx, req, callErr)
		return
	}

	op := contracts.QueuedOperation{
		Request:    req,
		EnqueuedAt: e.clock().UTC(),
		Attempts:   t.attempts + 1,
	}
	ok, err := e.deps.Queue.Enqueue(ctx, op)
	if err != nil {
		e.fail(ctx, req, fmt.Errorf("enqueue: %w", err))
		return
	}
	if !ok {
		e.setState(req.ID, contracts.StateDiscardedFull)
		e.record(ctx, req.ID, req.Service, audit.StageQueued, "discarded_full", nil, nil)
		e.escalate(ctx, "queue_overflow",
			fmt.Sprintf("queue for service %s is full; action %s was discarded", req.Service, req.ID))
		return
	}

	e.setState(req.ID, contracts.StateQueued)
	e.record(ctx, req.ID, req.Service, audit.StageQueued, "queued", callErr,
		map[string]string{"attempts": fmt.Sprintf("%d", op.Attempts)})
}

// QueueForReplay parks a terminally failed non-idempotent action for one
// human-gated replay. The operator surface calls this after reviewing the
// failure; the core never queues such an action on its own.
func (e *Executor) QueueForReplay(ctx context.Context, req contracts.ActionRequest) (bool, error) {
	e.mu.Lock()
	state := e.states[req.ID]
	e.mu.Unlock()
	if state != contracts.StateFailedNoRetry {
		return false, fmt.Errorf("replay %s: action is %s, not failed", req.ID, state)
	}

	op := contracts.QueuedOperation{
		Request:     req,
		EnqueuedAt:  e.clock().UTC(),
		ReplayGated: true,
	}
	ok, err := e.deps.Queue.Enqueue(ctx, op)
	if err != nil {
		return false, err
	}
	if !ok {
		e.escalate(ctx, "queue_overflow",
			fmt.Sprintf("replay of action %s rejected: queue for service %s is full", req.ID, req.Service))
		return false, nil
	}

	e.setState(req.ID, contracts.StateQueued)
	e.record(ctx, req.ID, req.Service, audit.StageQueued, "queued_for_replay", nil,
		map[string]string{"replay_gated": "true"})
	return true, nil
}

func (e *Executor) fail(ctx context.Context, req contracts.ActionRequest, cause error) {
	e.setState(req.ID, contracts.StateFailedNoRetry)
	e.record(ctx, req.ID, req.Service, audit.StageExecuted, "failed_no_retry", cause, nil)
	e.escalate(ctx, "action_failed",
		fmt.Sprintf("action %s against %s failed terminally: %v", req.ID, req.Service, cause))
}

// sweeper expires overdue pending approvals on a fixed interval. Expiry
// outcomes flow back through onDecision like any other settlement. Each
// tick also retries drain signals that were dropped while the drain
// channel was backed up.
func (e *Executor) sweeper(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.deps.Governor.SweepExpired(ctx, e.clock())
			e.flushPendingDrains()
		}
	}
}

func (e *Executor) record(ctx context.Context, actionID, service string, stage audit.Stage, result string, cause error, meta map[string]string) {
	if e.deps.Log == nil {
		return
	}
	_, _ = e.deps.Log.Record(ctx, actionID, service, stage, result, cause, meta)
}

func (e *Executor) escalate(ctx context.Context, subject, detail string) {
	if e.deps.Escalator == nil {
		return
	}
	_ = e.deps.Escalator.Escalate(ctx, subject, detail)
}
