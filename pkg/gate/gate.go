// Package gate implements the dry-run precondition check. Safe by default:
// unless the operator has turned global dry-run off AND the action holds an
// approval, nothing real executes. The gate is stateless and re-evaluated
// immediately before each attempt, so a mid-flight policy change applies to
// the next attempt.
package gate

import (
	"context"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

// Gate audits every check it performs.
type Gate struct {
	log audit.Recorder
}

func New(log audit.Recorder) *Gate {
	return &Gate{log: log}
}

// Allow reports whether a real external call may proceed. Pass and block
// are both audited.
func (g *Gate) Allow(ctx context.Context, req *contracts.ActionRequest, approval *contracts.ApprovalRecord, globalDryRun bool) bool {
	result := "pass"
	allowed := true

	switch {
	case globalDryRun:
		result = "blocked_global_dry_run"
		allowed = false
	case approval == nil || !approval.Approved():
		result = "blocked_not_approved"
		allowed = false
	}

	if g.log != nil {
		meta := map[string]string{"kind": string(req.Kind)}
		if approval != nil {
			meta["approval_status"] = string(approval.Status)
		}
		_, _ = g.log.Record(ctx, req.ID, req.Service, audit.StageDryRunChecked, result, nil, meta)
	}
	return allowed
}
