package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

var (
	ErrRecordNotFound = errors.New("approval record not found")
	ErrRecordExists   = errors.New("approval record already exists")
)

// Store persists approval records. Implementations must support concurrent
// reads; the governor serializes writes per record.
type Store interface {
	Create(ctx context.Context, rec *contracts.ApprovalRecord) error
	Get(ctx context.Context, actionID string) (*contracts.ApprovalRecord, error)
	Update(ctx context.Context, rec *contracts.ApprovalRecord) error
	ListPending(ctx context.Context) ([]*contracts.ApprovalRecord, error)
}

// MemoryStore is the in-process store used by tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]contracts.ApprovalRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]contracts.ApprovalRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, rec *contracts.ApprovalRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ActionID]; ok {
		return ErrRecordExists
	}
	s.records[rec.ActionID] = *rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, actionID string) (*contracts.ApprovalRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[actionID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *contracts.ApprovalRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ActionID]; !ok {
		return ErrRecordNotFound
	}
	s.records[rec.ActionID] = *rec
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*contracts.ApprovalRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.ApprovalRecord
	for _, rec := range s.records {
		if rec.Status == contracts.ApprovalPending {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}
