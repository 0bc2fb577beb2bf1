// ABOUTME: Session token issuance and verification for user identities
// ABOUTME: Uses HS256 signed JWTs with configurable secret and lifetime

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionLifetime is how long an issued session token stays valid.
const DefaultSessionLifetime = 24 * time.Hour

// Token errors
var (
	ErrAuthenticationRequired = errors.New("authentication required")

	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for session token verification
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// Sessions issues and verifies HS256 signed session JWTs. The user's
// identifier travels in the "sub" claim; there is no separate account store,
// identity is the identifier presented at authentication.
type Sessions struct {
	secret   []byte
	lifetime time.Duration
}

// NewSessions creates a session token authority with the given secret.
// A non-positive lifetime falls back to DefaultSessionLifetime.
func NewSessions(secret []byte, lifetime time.Duration) *Sessions {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Sessions{secret: secret, lifetime: lifetime}
}

// Issue creates a signed session token for the given user.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.lifetime)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim
func (s *Sessions) Verify(tokenString string) (userID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
