// Package audit implements the append-only, hash-chained audit log.
// Every stage transition in the execution core writes exactly one entry;
// entries are never mutated or deleted, and the chain can be verified
// end to end to detect tampering or loss.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var (
	ErrChainBroken = errors.New("hash chain is broken")
)

// Stage identifies where in the action lifecycle an entry was written.
type Stage string

const (
	StageSubmitted       Stage = "submitted"
	StageApprovalDecided Stage = "approval_decided"
	StageDryRunChecked   Stage = "dry_run_checked"
	StageExecuted        Stage = "executed"
	StageRetried         Stage = "retried"
	StageQueued          Stage = "queued"
	StageCancelled       Stage = "cancelled"
	StageDegraded        Stage = "degraded"
	StageRecovered       Stage = "recovered"
	StageBreaker         Stage = "breaker"
)

// Entry is a single immutable audit record.
type Entry struct {
	EntryID      string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	ActionID     string            `json:"action_id"`
	Service      string            `json:"service,omitempty"`
	Stage        Stage             `json:"stage"`
	Result       string            `json:"result"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
}

// Recorder is the write side of the audit log, accepted by every component
// that reports stage transitions.
type Recorder interface {
	Record(ctx context.Context, actionID, service string, stage Stage, result string, cause error, metadata map[string]string) (*Entry, error)
}

// EntryHandler is called synchronously for each appended entry. Handlers
// feed secondary sinks (writer, database, metrics).
type EntryHandler func(entry *Entry)

// Log is the in-memory chain head plus the entry index. Durable sinks hang
// off it as handlers.
type Log struct {
	mu        sync.RWMutex
	entries   []*Entry
	byAction  map[string][]*Entry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler
	clock     func() time.Time
}

// NewLog creates an empty audit log.
func NewLog() *Log {
	return &Log{
		byAction:  make(map[string][]*Entry),
		chainHead: "genesis",
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Record appends one entry for a stage transition. The cause, if non-nil,
// is captured as text; errors never block the write.
func (l *Log) Record(ctx context.Context, actionID, service string, stage Stage, result string, cause error, metadata map[string]string) (*Entry, error) {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     l.sequence,
		Timestamp:    l.clock().UTC(),
		ActionID:     actionID,
		Service:      service,
		Stage:        stage,
		Result:       result,
		Metadata:     metadata,
		PreviousHash: l.chainHead,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	entry.EntryHash = hash
	l.chainHead = hash

	l.entries = append(l.entries, entry)
	l.byAction[actionID] = append(l.byAction[actionID], entry)

	for _, h := range l.handlers {
		h(entry)
	}
	return entry, nil
}

// computeEntryHash hashes the JCS canonical form of the chained fields.
// Canonicalization makes the hash independent of map ordering and encoder
// whitespace, so independently stored copies verify identically.
func computeEntryHash(e *Entry) (string, error) {
	hashable := map[string]any{
		"sequence":      e.Sequence,
		"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
		"action_id":     e.ActionID,
		"service":       e.Service,
		"stage":         string(e.Stage),
		"result":        e.Result,
		"error":         e.Error,
		"previous_hash": e.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// AddHandler registers a sink for future entries.
func (l *Log) AddHandler(h EntryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// ChainHead returns the current head hash.
func (l *Log) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Size returns the number of entries.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ForAction returns all entries for an action in append order.
func (l *Log) ForAction(actionID string) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.byAction[actionID]))
	copy(out, l.byAction[actionID])
	return out
}

// QueryFilter selects entries. Zero values match everything.
type QueryFilter struct {
	ActionID   string
	Service    string
	Stage      Stage
	StartTime  *time.Time
	EndTime    *time.Time
	MaxResults int
}

func (f QueryFilter) matches(e *Entry) bool {
	if f.ActionID != "" && e.ActionID != f.ActionID {
		return false
	}
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (l *Log) Query(filter QueryFilter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range l.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain recomputes every hash and checks the links.
func (l *Log) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expectedPrev := "genesis"
	for i, entry := range l.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
