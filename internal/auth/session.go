// Package auth verifies the bearer session tokens minted by the login
// application. Only the caller's email is taken from the token.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionAudience is the audience carried by session tokens
const SessionAudience = "session"

const callerKey = "auth.caller_email"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Sessions verifies and, for operators and tests, issues session tokens
type Sessions struct {
	secret []byte
	now    func() time.Time
}

func NewSessions(secret string) *Sessions {
	return &Sessions{secret: []byte(secret), now: time.Now}
}

// IssueSession signs a session token for email valid for ttl
func (s *Sessions) IssueSession(email string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("session signing secret is not configured")
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		Audience:  jwt.ClaimStrings{SessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify returns the email the token was issued to
func (s *Sessions) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	if len(s.secret) == 0 {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(SessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// RequireSession rejects requests without a valid bearer session with
// 401 {"error":"Unauthorized"}
func RequireSession(sessions *Sessions, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		email, err := sessions.Verify(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			logger.Debug("Rejected unauthenticated request",
				slog.String("path", c.Request.URL.Path),
				slog.Any("error", err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(callerKey, email)
		c.Next()
	}
}

// CallerEmail returns the identity set by RequireSession, or "" when absent
func CallerEmail(c *gin.Context) string {
	return c.GetString(callerKey)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
