package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/warden-systems/warden/core/pkg/audit"
)

// AuditSink returns an audit EntryHandler that turns lifecycle entries into
// the provider's counters. The audit log stays the source of truth; the
// sink is a one way projection into metrics.
func (p *Provider) AuditSink() audit.EntryHandler {
	return func(entry *audit.Entry) {
		ctx := context.Background()
		attrs := metric.WithAttributes(
			attribute.String("service", entry.Service),
			attribute.String("result", entry.Result),
		)

		switch entry.Stage {
		case audit.StageSubmitted:
			if p.actionsSubmitted != nil {
				p.actionsSubmitted.Add(ctx, 1, attrs)
			}
		case audit.StageApprovalDecided:
			if p.approvalDecisions != nil {
				p.approvalDecisions.Add(ctx, 1, attrs)
			}
		case audit.StageExecuted:
			switch entry.Result {
			case "succeeded":
				if p.actionsExecuted != nil {
					p.actionsExecuted.Add(ctx, 1, attrs)
				}
			default:
				if p.actionsFailed != nil {
					p.actionsFailed.Add(ctx, 1, attrs)
				}
			}
		case audit.StageQueued:
			if p.actionsQueued != nil {
				p.actionsQueued.Add(ctx, 1, attrs)
			}
			switch entry.Result {
			case "queued", "queued_for_replay":
				p.RecordQueueDelta(ctx, entry.Service, 1)
			case "discarded_expired":
				p.RecordQueueDelta(ctx, entry.Service, -1)
			}
		}
	}
}
