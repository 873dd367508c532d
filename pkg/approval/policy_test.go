package approval

import (
	"context"
	"testing"
	"time"

	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/contracts"
)

func classify(t *testing.T, c *Classifier, req *contracts.ActionRequest) Classification {
	t.Helper()
	verdict, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	return verdict
}

func TestClassifyFinancialWrite(t *testing.T) {
	classifier, err := NewClassifier(DefaultPolicyConfig(), StaticPayeeSource{"acme-hosting": true})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		amount  float64
		payee   string
		auto    bool
		reason  string
	}{
		{"small amount, known payee", 50, "acme-hosting", true, "within_threshold_known_payee"},
		{"at threshold, known payee", 100, "acme-hosting", true, "within_threshold_known_payee"},
		{"over threshold, known payee", 500, "acme-hosting", false, "amount_over_threshold"},
		{"small amount, new payee", 50, "shady-llc", false, "new_payee"},
		{"over threshold and new payee", 500, "shady-llc", false, "amount_over_threshold_and_new_payee"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := classify(t, classifier, writeRequest("act-1", tc.amount, tc.payee))
			if verdict.AutoApprove != tc.auto {
				t.Errorf("auto = %v, want %v", verdict.AutoApprove, tc.auto)
			}
			if verdict.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", verdict.Reason, tc.reason)
			}
		})
	}
}

func TestClassifyReadsAndPublish(t *testing.T) {
	classifier, err := NewClassifier(DefaultPolicyConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	read := &contracts.ActionRequest{ID: "act-1", Kind: contracts.KindFinancialRead, Service: "ledger"}
	if verdict := classify(t, classifier, read); !verdict.AutoApprove || verdict.Reason != "read_only" {
		t.Errorf("read verdict = %+v", verdict)
	}

	publish := &contracts.ActionRequest{ID: "act-2", Kind: contracts.KindContentPublish, Service: "social"}
	if verdict := classify(t, classifier, publish); verdict.AutoApprove {
		t.Error("content publish must require review")
	}
}

func TestCustomRulesFailClosed(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.CustomRules = []string{`service != "sanctioned-service"`}

	classifier, err := NewClassifier(cfg, StaticPayeeSource{"acme-hosting": true})
	if err != nil {
		t.Fatal(err)
	}

	ok := writeRequest("act-1", 50, "acme-hosting")
	if verdict := classify(t, classifier, ok); !verdict.AutoApprove {
		t.Errorf("rule passing should keep auto-approval: %+v", verdict)
	}

	blocked := writeRequest("act-2", 50, "acme-hosting")
	blocked.Service = "sanctioned-service"
	verdict := classify(t, classifier, blocked)
	if verdict.AutoApprove {
		t.Error("rule returning false must demote to pending")
	}
	if verdict.Reason != "policy_rule_0_denied" {
		t.Errorf("reason = %q", verdict.Reason)
	}
}

func TestBrokenRuleRequiresHuman(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.CustomRules = []string{`this is not CEL`}

	classifier, err := NewClassifier(cfg, StaticPayeeSource{"acme-hosting": true})
	if err != nil {
		t.Fatal(err)
	}

	verdict := classify(t, classifier, writeRequest("act-1", 50, "acme-hosting"))
	if verdict.AutoApprove {
		t.Fatal("a rule that cannot evaluate must fail closed")
	}
}

func TestAuditPayeeSource(t *testing.T) {
	log := audit.NewLog()
	ctx := context.Background()

	// A successful payment 30 days ago makes the payee known.
	_, _ = log.Record(ctx, "old-act", "ledger", audit.StageExecuted, "succeeded", nil,
		map[string]string{"payee": "acme-hosting"})

	now := time.Now()
	src := NewAuditPayeeSource(log, 90*24*time.Hour).WithClock(func() time.Time { return now })

	known, err := src.Known(ctx, "acme-hosting")
	if err != nil || !known {
		t.Fatalf("payee with recent successful payment should be known (known=%v err=%v)", known, err)
	}

	known, _ = src.Known(ctx, "never-paid")
	if known {
		t.Fatal("unpaid payee must be unknown")
	}

	// Outside the lookback the payee goes stale.
	future := now.Add(91 * 24 * time.Hour)
	src.WithClock(func() time.Time { return future })
	if known, _ := src.Known(ctx, "acme-hosting"); known {
		t.Fatal("payments outside the lookback must not count")
	}
}
