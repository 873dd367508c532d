package observability

import (
	"context"
	"testing"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// No providers were installed; all record paths must be safe no-ops.
	p.RecordBreakerTransition("ledger", "closed", "open")
	p.RecordQueueDelta(context.Background(), "ledger", 1)
	p.RecordExecutionDuration(context.Background(), "ledger", time.Second, true)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestAuditSinkHandlesEveryStage(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	log := audit.NewLog()
	log.AddHandler(p.AuditSink())

	ctx := context.Background()
	stages := []struct {
		stage  audit.Stage
		result string
	}{
		{audit.StageSubmitted, "accepted"},
		{audit.StageApprovalDecided, "auto_approved"},
		{audit.StageDryRunChecked, "pass"},
		{audit.StageExecuted, "succeeded"},
		{audit.StageExecuted, "failed_no_retry"},
		{audit.StageQueued, "queued"},
		{audit.StageQueued, "discarded_expired"},
		{audit.StageRetried, "scheduled"},
	}
	for _, s := range stages {
		if _, err := log.Record(ctx, "act-1", "ledger", s.stage, s.result, nil, nil); err != nil {
			t.Fatalf("record %s/%s: %v", s.stage, s.result, err)
		}
	}
	if log.Size() != len(stages) {
		t.Fatalf("log size = %d", log.Size())
	}
}
