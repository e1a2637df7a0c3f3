package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IngestAudience is the "aud" claim every ingest token must carry.
const IngestAudience = "wipeledger-ingest"

// IngestClaims are the JWT claims of an ingest token. Subject names the
// wiping station or operator the token was issued to.
type IngestClaims struct {
	jwt.RegisteredClaims
	Station string `json:"station,omitempty"`
}

// TokenIssuer issues and verifies ingest tokens signed with HS256 under a
// shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer: the "iss" claim value; typically the ledger's base URL.
//	ttl:    token lifetime (default: 30 days).
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("ingest token secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed ingest token for subject.
func (t *TokenIssuer) Issue(subject, station string) (string, error) {
	now := time.Now().UTC()
	claims := IngestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{IngestAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Station: station,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign ingest token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an ingest token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*IngestClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithAudience(IngestAudience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &IngestClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify ingest token: %w", err)
	}
	claims, ok := token.Claims.(*IngestClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid ingest token claims")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
