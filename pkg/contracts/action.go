// Package contracts defines the shared data contracts of the execution core:
// action requests, approval records, queued operations, the adapter boundary,
// and the error taxonomy every component reports through.
package contracts

import (
	"encoding/json"
	"time"
)

// ActionKind is a closed set of action variants. The approval policy table
// and the idempotency classification are keyed on it, so adding a kind is a
// compile-time extension, not free text.
type ActionKind string

const (
	KindFinancialWrite ActionKind = "financial_write"
	KindFinancialRead  ActionKind = "financial_read"
	KindContentPublish ActionKind = "content_publish"
	KindContentRead    ActionKind = "content_read"
)

// IdempotencyClass classifies whether repeating an action is safe.
type IdempotencyClass string

const (
	Idempotent    IdempotencyClass = "idempotent"
	NonIdempotent IdempotencyClass = "non_idempotent"
)

// KnownKinds lists every valid action kind.
func KnownKinds() []ActionKind {
	return []ActionKind{KindFinancialWrite, KindFinancialRead, KindContentPublish, KindContentRead}
}

// Valid reports whether the kind is a member of the closed set.
func (k ActionKind) Valid() bool {
	switch k {
	case KindFinancialWrite, KindFinancialRead, KindContentPublish, KindContentRead:
		return true
	}
	return false
}

// Idempotency returns the idempotency class implied by the kind.
// Writes and publications cause real-world effects and must never repeat.
func (k ActionKind) Idempotency() IdempotencyClass {
	switch k {
	case KindFinancialWrite, KindContentPublish:
		return NonIdempotent
	default:
		return Idempotent
	}
}

// ActionRequest is the immutable unit of work submitted by the external
// reasoning engine. The payload is opaque to the core; Amount and Payee are
// surfaced separately because the approval policy reads them.
type ActionRequest struct {
	ID          string          `json:"id"`
	Kind        ActionKind      `json:"kind"`
	Service     string          `json:"service"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Amount      *float64        `json:"amount,omitempty"`
	Payee       string          `json:"payee,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	RequestedBy string          `json:"requested_by,omitempty"`

	// ReplayOf links a manual resubmission of a failed non-idempotent
	// action to the original, so the audit trail ties them together.
	ReplayOf string `json:"replay_of,omitempty"`
}

// IdempotencyClass returns the class of the request's kind.
func (r *ActionRequest) IdempotencyClass() IdempotencyClass {
	return r.Kind.Idempotency()
}

// ExecutionState is the orchestrator-owned lifecycle state of an action.
type ExecutionState string

const (
	StateSubmitted        ExecutionState = "submitted"
	StateApprovalPending  ExecutionState = "approval_pending"
	StateAutoApproved     ExecutionState = "auto_approved"
	StateRejected         ExecutionState = "rejected"
	StateExpired          ExecutionState = "expired"
	StateDryRunBlocked    ExecutionState = "dry_run_blocked"
	StateExecuting        ExecutionState = "executing"
	StateSucceeded        ExecutionState = "succeeded"
	StateFailedNoRetry    ExecutionState = "failed_no_retry"
	StateQueued           ExecutionState = "queued"
	StateCancelled        ExecutionState = "cancelled"
	StateDiscardedFull    ExecutionState = "discarded_full"
	StateDiscardedExpired ExecutionState = "discarded_expired"
)

// Terminal reports whether no further transition is possible from the state.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateRejected, StateExpired, StateDryRunBlocked, StateSucceeded,
		StateFailedNoRetry, StateCancelled, StateDiscardedFull, StateDiscardedExpired:
		return true
	}
	return false
}

// QueuedOperation wraps an ActionRequest parked for later replay.
type QueuedOperation struct {
	Request    ActionRequest `json:"request"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Attempts   int           `json:"attempts"`

	// ReplayGated marks a non-idempotent operation that a human explicitly
	// released for one replay. Without it, only idempotent operations queue.
	ReplayGated bool `json:"replay_gated,omitempty"`
}
