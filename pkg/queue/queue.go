// Package queue implements the bounded per-service FIFO that holds work
// while a service is degraded or unavailable. Overflow is rejected, never
// evicted: losing old work silently is worse than refusing new work loudly.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

var (
	// ErrNotQueueable is returned for operations that may never park in
	// the queue: non-idempotent writes without an explicit human replay
	// gate.
	ErrNotQueueable = errors.New("operation is not queueable")
)

// DefaultCapacity is the per-service cap when none is configured.
const DefaultCapacity = 500

// Queue is the storage behind the operation queue. All backends are FIFO
// per service with no ordering across services.
type Queue interface {
	// Enqueue parks an operation. Returns false when the service's queue
	// is at capacity; the caller must escalate, not retry.
	Enqueue(ctx context.Context, op contracts.QueuedOperation) (bool, error)

	// Drain removes and returns up to maxItems operations for a service
	// in FIFO order.
	Drain(ctx context.Context, service string, maxItems int) ([]contracts.QueuedOperation, error)

	// Size returns the queued count for a service.
	Size(ctx context.Context, service string) (int, error)
}

// eligible enforces the queue admission rule shared by every backend.
func eligible(op contracts.QueuedOperation) error {
	if op.Request.IdempotencyClass() == contracts.NonIdempotent && !op.ReplayGated {
		return ErrNotQueueable
	}
	return nil
}

// MemoryQueue is the in-process backend.
type MemoryQueue struct {
	mu       sync.Mutex
	queues   map[string][]contracts.QueuedOperation
	capacity int
}

// NewMemoryQueue creates a queue with the given per-service capacity
// (DefaultCapacity if zero).
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		queues:   make(map[string][]contracts.QueuedOperation),
		capacity: capacity,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, op contracts.QueuedOperation) (bool, error) {
	_ = ctx
	if err := eligible(op); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	service := op.Request.Service
	if len(q.queues[service]) >= q.capacity {
		return false, nil
	}
	q.queues[service] = append(q.queues[service], op)
	return true, nil
}

func (q *MemoryQueue) Drain(ctx context.Context, service string, maxItems int) ([]contracts.QueuedOperation, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[service]
	n := len(pending)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]contracts.QueuedOperation, n)
	copy(out, pending[:n])
	q.queues[service] = pending[n:]
	return out, nil
}

func (q *MemoryQueue) Size(ctx context.Context, service string) (int, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[service]), nil
}
