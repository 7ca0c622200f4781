// Package capability issues and verifies short-lived tokens that grant a
// realtime subscription to exactly one job group.
package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience scopes capability tokens so session tokens cannot be replayed here
const Audience = "realtime"

var (
	// ErrSigningKeyMissing is returned when no signing secret is configured
	ErrSigningKeyMissing = errors.New("capability signing secret is not configured")

	// ErrInvalidToken covers bad signatures, expiry, wrong audience and a group mismatch
	ErrInvalidToken = errors.New("invalid capability token")
)

// Claims is the token body
type Claims struct {
	JobGroupID string `json:"jobGroupId"`
	jwt.RegisteredClaims
}

// Issuer signs capability tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. An empty secret is accepted here and reported
// on every Issue call.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a token bound to groupID that expires after the issuer TTL
func (i *Issuer) Issue(groupID uuid.UUID) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrSigningKeyMissing
	}

	now := i.now()
	claims := Claims{
		JobGroupID: groupID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign capability token: %w", err)
	}

	return signed, nil
}

// Verifier checks capability tokens presented by realtime subscribers
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify succeeds only when the token is valid, unexpired and carries exactly groupID
func (v *Verifier) Verify(token string, groupID uuid.UUID) error {
	if len(v.secret) == 0 {
		return ErrSigningKeyMissing
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.JobGroupID != groupID.String() {
		return fmt.Errorf("%w: token is for a different job group", ErrInvalidToken)
	}

	return nil
}
