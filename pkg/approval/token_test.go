package approval

import (
	"testing"
	"time"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

func TestDecisionTokenRoundTrip(t *testing.T) {
	secret := []byte("test-signing-secret")
	verifier := NewTokenVerifier(secret, "warden.test/approvals")

	token, err := SignDecision(secret, "warden.test/approvals", "act-1", "operator@local", contracts.DecisionApproved, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ActionID != "act-1" {
		t.Errorf("action_id = %q", claims.ActionID)
	}
	if claims.Decision != contracts.DecisionApproved {
		t.Errorf("decision = %q", claims.Decision)
	}
	if claims.Subject != "operator@local" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestDecisionTokenRejectsWrongSecret(t *testing.T) {
	token, err := SignDecision([]byte("attacker-secret"), "warden.test/approvals", "act-1", "x", contracts.DecisionApproved, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	verifier := NewTokenVerifier([]byte("real-secret"), "warden.test/approvals")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("forged token must not verify")
	}
}

func TestDecisionTokenRejectsWrongIssuer(t *testing.T) {
	secret := []byte("shared-secret")
	token, err := SignDecision(secret, "somewhere-else", "act-1", "x", contracts.DecisionApproved, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	verifier := NewTokenVerifier(secret, "warden.test/approvals")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("wrong issuer must not verify")
	}
}

func TestDecisionTokenRejectsExpired(t *testing.T) {
	secret := []byte("shared-secret")
	token, err := SignDecision(secret, "warden.test/approvals", "act-1", "x", contracts.DecisionRejected, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	verifier := NewTokenVerifier(secret, "warden.test/approvals")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expired token must not verify")
	}
}
