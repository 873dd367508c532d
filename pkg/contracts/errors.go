package contracts

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks a malformed request. Rejected synchronously at
// submission, never retried, never queued.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Detail
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Detail)
}

// AuthError marks an adapter credential failure. Not retried; requires an
// operator fix.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure for service %q: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError marks a network or connection fault expected to clear on
// its own. Retried per policy for idempotent classes.
type TransientError struct {
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure for service %q: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError carries the service-advertised reset window. The retry
// engine extends its delay to RetryAfter instead of the computed backoff.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by service %q (retry after %s): %v", e.Service, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ServiceUnavailableError marks a down dependency. Drives the breaker open
// and, for queueable actions, triggers enqueue.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %q unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// ApprovalConflictError marks a decision arriving for a record that is no
// longer pending. Logged, no state change.
type ApprovalConflictError struct {
	ActionID string
	Status   ApprovalStatus
}

func (e *ApprovalConflictError) Error() string {
	return fmt.Sprintf("approval conflict for action %q: record is %s, not pending", e.ActionID, e.Status)
}

// ExpiryError marks a pending record that aged out undecided. The action
// terminates without executing.
type ExpiryError struct {
	ActionID  string
	ExpiredAt time.Time
}

func (e *ExpiryError) Error() string {
	return fmt.Sprintf("approval for action %q expired at %s", e.ActionID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// ErrBreakerOpen is returned when a call short-circuits on an open breaker
// without reaching the adapter.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Retryable reports whether the error class permits automatic retry for
// idempotent actions.
func Retryable(err error) bool {
	var te *TransientError
	var rl *RateLimitError
	var su *ServiceUnavailableError
	return errors.As(err, &te) || errors.As(err, &rl) || errors.As(err, &su)
}

// Queueable reports whether the failure indicates a down service, meaning
// the work may park in the operation queue rather than fail terminally.
func Queueable(err error) bool {
	var su *ServiceUnavailableError
	return errors.As(err, &su) || errors.Is(err, ErrBreakerOpen)
}
