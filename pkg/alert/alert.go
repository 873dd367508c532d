// Package alert surfaces conditions that need a human: terminal failures,
// queue overflow, degraded services. The core's obligation ends at producing
// the alert; delivery specifics belong to the operator's channel.
package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Escalator delivers a human-visible alert.
type Escalator interface {
	Escalate(ctx context.Context, subject, detail string) error
}

// WriterEscalator writes alerts as single lines to a writer.
type WriterEscalator struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterEscalator creates an escalator writing to w (os.Stderr if nil).
func NewWriterEscalator(w io.Writer) *WriterEscalator {
	if w == nil {
		w = os.Stderr
	}
	return &WriterEscalator{writer: w}
}

func (e *WriterEscalator) Escalate(ctx context.Context, subject, detail string) error {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.writer, "ALERT [%s] %s: %s\n",
		time.Now().UTC().Format(time.RFC3339), subject, detail)
	return err
}

// FileEscalator drops one markdown file per alert into a directory watched
// by the human-facing collaborator.
type FileEscalator struct {
	dir   string
	clock func() time.Time
}

func NewFileEscalator(dir string) *FileEscalator {
	return &FileEscalator{dir: dir, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *FileEscalator) WithClock(clock func() time.Time) *FileEscalator {
	e.clock = clock
	return e
}

func (e *FileEscalator) Escalate(ctx context.Context, subject, detail string) error {
	_ = ctx
	now := e.clock().UTC()
	name := fmt.Sprintf("ALERT_%s_%s.md", now.Format("20060102T150405Z"), sanitize(subject))
	body := fmt.Sprintf("# ALERT: %s\n\nTime: %s\n\n%s\n", subject, now.Format(time.RFC3339), detail)

	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return fmt.Errorf("alert dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, name), []byte(body), 0o640); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}
	out := strings.Map(mapper, s)
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// Multi fans an alert out to several escalators, returning the first error.
type Multi []Escalator

func (m Multi) Escalate(ctx context.Context, subject, detail string) error {
	var first error
	for _, e := range m {
		if err := e.Escalate(ctx, subject, detail); err != nil && first == nil {
			first = err
		}
	}
	return first
}
