// ABOUTME: LocalSigner holds an ed25519 seed loaded from a key file
// ABOUTME: Decrypts fields and signs events without external interaction

package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SanctumAI/sanctum-sub000/internal/cipher"
	"github.com/SanctumAI/sanctum-sub000/internal/event"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
)

// LocalSigner signs and decrypts with a key held in process memory. It is
// used by the dev signing agent and by operators who keep the admin key in a
// file instead of an external agent.
type LocalSigner struct {
	priv   ed25519.PrivateKey
	scalar []byte
	pubkey string
}

// NewLocalSigner builds a signer from a 32-byte ed25519 seed.
func NewLocalSigner(seed []byte) (*LocalSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	scalar, err := identity.DecryptionPrivateKey(seed)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{
		priv:   priv,
		scalar: scalar,
		pubkey: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// LoadKeyFile reads a hex-encoded seed from path and builds a signer.
func LoadKeyFile(path string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	return NewLocalSigner(seed)
}

// GenerateKeyFile creates a fresh seed, writes it hex-encoded to path with
// mode 0600, and returns the signer for it. Refuses to overwrite.
func GenerateKeyFile(path string) (*LocalSigner, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key file %s already exists", path)
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return NewLocalSigner(seed)
}

// Pubkey returns the canonical hex public key of the held identity.
func (s *LocalSigner) Pubkey() string { return s.pubkey }

// IsPresent always reports true for a loaded local key.
func (s *LocalSigner) IsPresent() bool { return true }

// SupportsDecryption always reports true for a loaded local key.
func (s *LocalSigner) SupportsDecryption() bool { return true }

// Decrypt opens a field sealed to this identity.
func (s *LocalSigner) Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error) {
	return cipher.DecryptWithKey(s.scalar, ciphertext, ephemeralPubkey)
}

// SignEvent returns a signed copy of ev.
func (s *LocalSigner) SignEvent(ctx context.Context, ev *event.Event) (*event.Event, error) {
	signed := *ev
	signed.Tags = make([][]string, len(ev.Tags))
	for i, tag := range ev.Tags {
		signed.Tags[i] = append([]string(nil), tag...)
	}
	if err := signed.Sign(s.priv); err != nil {
		return nil, fmt.Errorf("signing event: %w", err)
	}
	return &signed, nil
}
