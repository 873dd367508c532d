package contracts

import "time"

// ApprovalStatus is the lifecycle state of an ApprovalRecord.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "pending"
	ApprovalAutoApproved  ApprovalStatus = "auto_approved"
	ApprovalHumanApproved ApprovalStatus = "human_approved"
	ApprovalRejected      ApprovalStatus = "rejected"
	ApprovalExpired       ApprovalStatus = "expired"
)

// Decision is an external approve/reject signal for a pending record.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalRecord gates whether an action may execute for real.
// One record per action; status transitions are monotonic, a record never
// returns to pending after leaving it.
type ApprovalRecord struct {
	ActionID  string         `json:"action_id"`
	Status    ApprovalStatus `json:"status"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Approved reports whether the record permits real execution.
func (r *ApprovalRecord) Approved() bool {
	return r.Status == ApprovalAutoApproved || r.Status == ApprovalHumanApproved
}

// Settled reports whether the record has left the pending state.
func (r *ApprovalRecord) Settled() bool {
	return r.Status != ApprovalPending
}

// CanTransition reports whether moving from one status to another is legal.
// Only pending records move; every other status is final.
func CanTransition(from, to ApprovalStatus) bool {
	if from != ApprovalPending {
		return false
	}
	switch to {
	case ApprovalHumanApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}
