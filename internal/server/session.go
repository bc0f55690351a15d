// ABOUTME: Session token issuing and verification for the console service
// ABOUTME: HS256 JWTs carried in the session cookie

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session errors.
var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// MinSecretLength is the minimum session secret size in bytes.
const MinSecretLength = 32

// DefaultSessionTTL is how long sessions last.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionManager issues and verifies session tokens.
type SessionManager struct {
	secret []byte
}

// NewSessionManager creates a session manager with the given signing secret.
func NewSessionManager(secret []byte) (*SessionManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	return &SessionManager{secret: secret}, nil
}

// Issue creates a session token for the given subject.
func (m *SessionManager) Issue(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Verify validates a session token and returns its subject.
func (m *SessionManager) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredSession
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid {
		return "", ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidSession
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidSession
	}
	return sub, nil
}
