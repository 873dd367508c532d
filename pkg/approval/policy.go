// Package approval implements the Approval Governor: classification of
// actions into auto-approved or pending, the persisted approval lifecycle,
// external decision handling, and the expiry sweep.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

// PolicyConfig holds the classification thresholds. Zero values take
// defaults.
type PolicyConfig struct {
	AutoApproveThreshold float64       // max amount auto-approvable
	PayeeLookback        time.Duration // how far back a payee counts as known
	CustomRules          []string      // CEL expressions; all must pass for auto-approval
}

// DefaultPolicyConfig returns the standard policy: amounts up to $100 to a
// known payee auto-approve, payees seen in the last 90 days count as known.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AutoApproveThreshold: 100.00,
		PayeeLookback:        90 * 24 * time.Hour,
	}
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	d := DefaultPolicyConfig()
	if c.AutoApproveThreshold <= 0 {
		c.AutoApproveThreshold = d.AutoApproveThreshold
	}
	if c.PayeeLookback <= 0 {
		c.PayeeLookback = d.PayeeLookback
	}
	return c
}

// Classification is the pure policy verdict for one request.
type Classification struct {
	AutoApprove bool
	Reason      string
}

// KnownPayeeSource answers whether a payee has been paid successfully
// before, within the policy lookback.
type KnownPayeeSource interface {
	Known(ctx context.Context, payee string) (bool, error)
}

// Classifier applies the policy table, keyed on the closed kind set, plus
// any operator-supplied CEL rules. Rules fail closed: an evaluation error
// requires human approval.
type Classifier struct {
	cfg    PolicyConfig
	payees KnownPayeeSource

	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewClassifier creates a classifier. payees may be nil, in which case every
// payee is treated as new.
func NewClassifier(cfg PolicyConfig, payees KnownPayeeSource) (*Classifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("service", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payee", cel.StringType),
		cel.Variable("known_payee", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Classifier{
		cfg:      cfg.withDefaults(),
		payees:   payees,
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Classify decides whether the request may execute without a human. Pure
// with respect to approval state; it reads only the request and policy
// inputs.
func (c *Classifier) Classify(ctx context.Context, req *contracts.ActionRequest) (Classification, error) {
	switch req.Kind {
	case contracts.KindFinancialRead, contracts.KindContentRead:
		return c.applyRules(ctx, req, true, Classification{AutoApprove: true, Reason: "read_only"})

	case contracts.KindContentPublish:
		return Classification{AutoApprove: false, Reason: "content_publish_requires_review"}, nil

	case contracts.KindFinancialWrite:
		return c.classifyFinancialWrite(ctx, req)

	default:
		return Classification{}, &contracts.ValidationError{Field: "kind", Detail: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
}

func (c *Classifier) classifyFinancialWrite(ctx context.Context, req *contracts.ActionRequest) (Classification, error) {
	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}

	known := false
	if c.payees != nil && req.Payee != "" {
		var err error
		known, err = c.payees.Known(ctx, req.Payee)
		if err != nil {
			// Fail closed: if payee history is unreadable, a human decides.
			return Classification{AutoApprove: false, Reason: "payee_history_unavailable"}, nil
		}
	}

	var reasons []string
	if amount > c.cfg.AutoApproveThreshold {
		reasons = append(reasons, "amount_over_threshold")
	}
	if !known {
		reasons = append(reasons, "new_payee")
	}

	if len(reasons) > 0 {
		return Classification{AutoApprove: false, Reason: strings.Join(reasons, "_and_")}, nil
	}
	return c.applyRules(ctx, req, known, Classification{AutoApprove: true, Reason: "within_threshold_known_payee"})
}

// applyRules runs the operator CEL rules over a candidate auto-approval.
// Any rule returning false, or failing to evaluate, demotes the action to
// pending.
func (c *Classifier) applyRules(ctx context.Context, req *contracts.ActionRequest, knownPayee bool, verdict Classification) (Classification, error) {
	_ = ctx
	if len(c.cfg.CustomRules) == 0 {
		return verdict, nil
	}

	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	input := map[string]any{
		"kind":        string(req.Kind),
		"service":     req.Service,
		"amount":      amount,
		"payee":       req.Payee,
		"known_payee": knownPayee,
	}

	for i, rule := range c.cfg.CustomRules {
		allowed, err := c.evaluateExpr(rule, input)
		if err != nil {
			return Classification{AutoApprove: false, Reason: fmt.Sprintf("policy_rule_%d_error", i)}, nil
		}
		if !allowed {
			return Classification{AutoApprove: false, Reason: fmt.Sprintf("policy_rule_%d_denied", i)}, nil
		}
	}
	return verdict, nil
}

func (c *Classifier) evaluateExpr(expr string, input map[string]any) (bool, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()

	if !hit {
		c.mu.Lock()
		// Double check
		if prg, hit = c.prgCache[expr]; !hit {
			ast, issues := c.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := c.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			c.prgCache[expr] = p
			prg = p
		}
		c.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
