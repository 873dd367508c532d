package approval

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

// DecisionClaims is the signed payload of an external approval decision.
// The human-facing collaborator signs these; the core only verifies.
type DecisionClaims struct {
	jwt.RegisteredClaims
	ActionID string             `json:"action_id"`
	Decision contracts.Decision `json:"decision"`
}

// TokenVerifier validates decision tokens so a forged file or request
// cannot approve an action.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for HS256 tokens from the given
// issuer.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Verify parses and validates a decision token, returning its claims.
func (v *TokenVerifier) Verify(tokenString string) (*DecisionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DecisionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("decision token invalid: %w", err)
	}

	claims, ok := token.Claims.(*DecisionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.ActionID == "" {
		return nil, fmt.Errorf("decision token missing action_id")
	}
	switch claims.Decision {
	case contracts.DecisionApproved, contracts.DecisionRejected:
	default:
		return nil, fmt.Errorf("decision token has unknown decision %q", claims.Decision)
	}
	return claims, nil
}

// SignDecision creates a decision token. Exists for the collaborator side
// and for tests; the core itself never signs.
func SignDecision(secret []byte, issuer, actionID, decidedBy string, decision contracts.Decision, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := DecisionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   decidedBy,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ActionID: actionID,
		Decision: decision,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
