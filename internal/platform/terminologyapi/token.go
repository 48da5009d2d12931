package terminologyapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 5 * time.Minute

// TokenSource mints short-lived HS256 service tokens for calls to the
// terminology API. A fresh token is signed for every request.
type TokenSource struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSource returns nil when signingKey is empty so callers can pass the
// result straight to WithTokenSource.
func NewTokenSource(signingKey, issuer, audience string) *TokenSource {
	if signingKey == "" {
		return nil
	}
	return &TokenSource{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        defaultTokenTTL,
		now:        time.Now,
	}
}

// Token signs a new bearer token.
func (ts *TokenSource) Token() (string, error) {
	now := ts.now()
	claims := jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   ts.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		ID:        uuid.NewString(),
	}
	if ts.audience != "" {
		claims.Audience = jwt.ClaimStrings{ts.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}
