// ABOUTME: Tests for session token issuing and verification
// ABOUTME: Covers roundtrip, expiry, tampering and secret length enforcement

package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestSessionManager_RejectsShortSecret(t *testing.T) {
	_, err := NewSessionManager([]byte("too short"))
	require.Error(t, err)
}

func TestSessionManager_IssueVerifyRoundtrip(t *testing.T) {
	m, err := NewSessionManager(testSecret())
	require.NoError(t, err)

	token, err := m.Issue("admin", time.Hour)
	require.NoError(t, err)

	subject, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestSessionManager_ExpiredToken(t *testing.T) {
	m, err := NewSessionManager(testSecret())
	require.NoError(t, err)

	token, err := m.Issue("admin", -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredSession)
}

func TestSessionManager_TamperedToken(t *testing.T) {
	m, err := NewSessionManager(testSecret())
	require.NoError(t, err)

	token, err := m.Issue("admin", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	_, err = m.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionManager_WrongSecret(t *testing.T) {
	m1, err := NewSessionManager(testSecret())
	require.NoError(t, err)
	m2, err := NewSessionManager([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	token, err := m1.Issue("admin", time.Hour)
	require.NoError(t, err)

	_, err = m2.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
