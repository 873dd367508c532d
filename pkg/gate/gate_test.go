package gate

import (
	"context"
	"testing"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

func testRequest() *contracts.ActionRequest {
	return &contracts.ActionRequest{
		ID:          "act-1",
		Kind:        contracts.KindFinancialWrite,
		Service:     "ledger",
		RequestedAt: time.Now().UTC(),
	}
}

func approvedRecord() *contracts.ApprovalRecord {
	return &contracts.ApprovalRecord{ActionID: "act-1", Status: contracts.ApprovalAutoApproved}
}

func TestBlockedUnderGlobalDryRun(t *testing.T) {
	g := New(nil)
	if g.Allow(context.Background(), testRequest(), approvedRecord(), true) {
		t.Fatal("global dry-run must block even approved actions")
	}
}

func TestBlockedWithoutApproval(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	if g.Allow(ctx, testRequest(), nil, false) {
		t.Fatal("missing approval must block")
	}

	pending := &contracts.ApprovalRecord{ActionID: "act-1", Status: contracts.ApprovalPending}
	if g.Allow(ctx, testRequest(), pending, false) {
		t.Fatal("pending approval must block")
	}

	rejected := &contracts.ApprovalRecord{ActionID: "act-1", Status: contracts.ApprovalRejected}
	if g.Allow(ctx, testRequest(), rejected, false) {
		t.Fatal("rejected approval must block")
	}
}

func TestAllowsApprovedWhenLive(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	if !g.Allow(ctx, testRequest(), approvedRecord(), false) {
		t.Fatal("auto-approved action should pass when dry-run is off")
	}

	human := &contracts.ApprovalRecord{ActionID: "act-1", Status: contracts.ApprovalHumanApproved}
	if !g.Allow(ctx, testRequest(), human, false) {
		t.Fatal("human-approved action should pass when dry-run is off")
	}
}

func TestEveryCheckAudited(t *testing.T) {
	log := audit.NewLog()
	g := New(log)
	ctx := context.Background()

	_ = g.Allow(ctx, testRequest(), approvedRecord(), true)
	_ = g.Allow(ctx, testRequest(), approvedRecord(), false)

	entries := log.Query(audit.QueryFilter{Stage: audit.StageDryRunChecked})
	if len(entries) != 2 {
		t.Fatalf("audited %d checks, want 2", len(entries))
	}
	if entries[0].Result != "blocked_global_dry_run" {
		t.Errorf("first check result = %q", entries[0].Result)
	}
	if entries[1].Result != "pass" {
		t.Errorf("second check result = %q", entries[1].Result)
	}
}
