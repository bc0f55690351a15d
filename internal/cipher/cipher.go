// ABOUTME: AEAD seal/open primitives for encrypted fields
// ABOUTME: Ciphertext wire form is base64(nonce || chacha20poly1305 box)

package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/SanctumAI/sanctum-sub000/internal/identity"
)

// ErrMalformedCiphertext indicates ciphertext that cannot be decoded or is
// too short to contain a nonce and tag.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Encrypt seals plaintext to the given admin public key (canonical hex of the
// signing key). It generates a one-time X25519 keypair and returns the
// base64 ciphertext together with the hex ephemeral public key the recipient
// needs to decrypt.
func Encrypt(plaintext, recipientPubkey string) (ciphertext, ephemeralPubkey string, err error) {
	recipient, err := identity.DecryptionPublicKey(recipientPubkey)
	if err != nil {
		return "", "", fmt.Errorf("deriving recipient key: %w", err)
	}

	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return "", "", fmt.Errorf("generating ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return "", "", fmt.Errorf("deriving ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv, recipient)
	if err != nil {
		return "", "", fmt.Errorf("computing shared secret: %w", err)
	}
	key := sha256.Sum256(shared)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", "", fmt.Errorf("initializing cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), hex.EncodeToString(ephPub), nil
}

// DecryptWithKey opens a sealed field using the admin's X25519 private scalar
// and the ephemeral public key recorded alongside the ciphertext.
func DecryptWithKey(privateScalar []byte, ciphertext, ephemeralPubkey string) (string, error) {
	eph, err := hex.DecodeString(ephemeralPubkey)
	if err != nil || len(eph) != curve25519.PointSize {
		return "", fmt.Errorf("%w: bad ephemeral public key", ErrMalformedCiphertext)
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	shared, err := curve25519.X25519(privateScalar, eph)
	if err != nil {
		return "", fmt.Errorf("computing shared secret: %w", err)
	}
	key := sha256.Sum256(shared)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrMalformedCiphertext)
	}

	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}
	return string(plaintext), nil
}
