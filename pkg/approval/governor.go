package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

// DecisionEvent notifies that a record settled (approved, rejected or
// expired), consumed by the orchestrator to resume or terminate parked
// actions. The outcome is the record's status.
type DecisionEvent struct {
	Record *contracts.ApprovalRecord
}

// Governor owns the approval lifecycle. It is the only writer of approval
// records; external signals arrive through Decide and the expiry sweep.
type Governor struct {
	mu         sync.Mutex
	store      Store
	classifier *Classifier
	log        audit.Recorder
	expiry     time.Duration
	clock      func() time.Time
	onDecision func(DecisionEvent)
}

// DefaultExpiry is how long a pending record waits for a human before it
// ages out.
const DefaultExpiry = 48 * time.Hour

// NewGovernor creates a governor over the given store and classifier.
func NewGovernor(store Store, classifier *Classifier, log audit.Recorder, expiry time.Duration) *Governor {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Governor{
		store:      store,
		classifier: classifier,
		log:        log,
		expiry:     expiry,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Governor) WithClock(clock func() time.Time) *Governor {
	g.clock = clock
	return g
}

// OnDecision registers a hook fired after every settled human decision and
// expiry. Must be set before submissions begin.
func (g *Governor) OnDecision(fn func(DecisionEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDecision = fn
}

// Classify exposes the pure policy verdict without creating state.
func (g *Governor) Classify(ctx context.Context, req *contracts.ActionRequest) (Classification, error) {
	return g.classifier.Classify(ctx, req)
}

// Submit classifies the request and creates its approval record, pending or
// auto-approved. Pending records carry an expiry deadline.
func (g *Governor) Submit(ctx context.Context, req *contracts.ActionRequest) (*contracts.ApprovalRecord, error) {
	verdict, err := g.classifier.Classify(ctx, req)
	if err != nil {
		return nil, err
	}

	now := g.clock().UTC()
	rec := &contracts.ApprovalRecord{
		ActionID:  req.ID,
		Status:    contracts.ApprovalPending,
		Reason:    verdict.Reason,
		CreatedAt: now,
		ExpiresAt: now.Add(g.expiry),
	}
	if verdict.AutoApprove {
		rec.Status = contracts.ApprovalAutoApproved
		decided := now
		rec.DecidedAt = &decided
		rec.DecidedBy = "policy"
	}

	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create approval record: %w", err)
	}

	if g.log != nil {
		_, _ = g.log.Record(ctx, req.ID, req.Service, audit.StageApprovalDecided, string(rec.Status), nil,
			map[string]string{"reason": rec.Reason})
	}
	return rec, nil
}

// Get returns the current record for an action.
func (g *Governor) Get(ctx context.Context, actionID string) (*contracts.ApprovalRecord, error) {
	return g.store.Get(ctx, actionID)
}

// Decide applies an external human decision to a pending record. A decision
// on a settled record is a no-op that logs the conflict; a decision on a
// record past its deadline expires it instead.
func (g *Governor) Decide(ctx context.Context, actionID string, decision contracts.Decision, decidedBy string) (*contracts.ApprovalRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.store.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	if rec.Settled() {
		conflict := &contracts.ApprovalConflictError{ActionID: actionID, Status: rec.Status}
		if g.log != nil {
			_, _ = g.log.Record(ctx, actionID, "", audit.StageApprovalDecided, "conflict", conflict,
				map[string]string{"attempted_decision": string(decision)})
		}
		return rec, conflict
	}

	now := g.clock().UTC()
	if now.After(rec.ExpiresAt) {
		if err := g.expireLocked(ctx, rec, now); err != nil {
			return nil, err
		}
		return rec, &contracts.ExpiryError{ActionID: actionID, ExpiredAt: rec.ExpiresAt}
	}

	target := contracts.ApprovalHumanApproved
	if decision == contracts.DecisionRejected {
		target = contracts.ApprovalRejected
	}
	if !contracts.CanTransition(rec.Status, target) {
		return rec, &contracts.ApprovalConflictError{ActionID: actionID, Status: rec.Status}
	}

	rec.Status = target
	rec.DecidedAt = &now
	rec.DecidedBy = decidedBy
	if err := g.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update approval record: %w", err)
	}

	if g.log != nil {
		_, _ = g.log.Record(ctx, actionID, "", audit.StageApprovalDecided, string(rec.Status), nil,
			map[string]string{"decided_by": decidedBy})
	}
	if g.onDecision != nil {
		g.onDecision(DecisionEvent{Record: rec})
	}
	return rec, nil
}

// SweepExpired transitions every overdue pending record to expired and
// returns the expired records. Scheduled by the orchestrator.
func (g *Governor) SweepExpired(ctx context.Context, now time.Time) ([]*contracts.ApprovalRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*contracts.ApprovalRecord
	for _, rec := range pending {
		if now.After(rec.ExpiresAt) {
			if err := g.expireLocked(ctx, rec, now.UTC()); err != nil {
				return expired, err
			}
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

func (g *Governor) expireLocked(ctx context.Context, rec *contracts.ApprovalRecord, now time.Time) error {
	rec.Status = contracts.ApprovalExpired
	rec.DecidedAt = &now
	if err := g.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("expire approval record: %w", err)
	}
	if g.log != nil {
		expiry := &contracts.ExpiryError{ActionID: rec.ActionID, ExpiredAt: rec.ExpiresAt}
		_, _ = g.log.Record(ctx, rec.ActionID, "", audit.StageApprovalDecided, string(contracts.ApprovalExpired), expiry, nil)
	}
	if g.onDecision != nil {
		g.onDecision(DecisionEvent{Record: rec})
	}
	return nil
}

// IsConflict reports whether an error from Decide indicates a late or
// duplicate decision rather than a fault.
func IsConflict(err error) bool {
	var c *contracts.ApprovalConflictError
	return errors.As(err, &c)
}
