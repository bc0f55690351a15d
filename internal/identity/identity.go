// ABOUTME: Public key normalization and ed25519-to-X25519 key conversion
// ABOUTME: Canonical form is 64-character lowercase hex of the signing key

package identity

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"filippo.io/edwards25519"
)

// HexLen is the length of a canonical hex-encoded public key.
const HexLen = 64

// NpubPrefix is the human-readable part of the bech32 public key form.
const NpubPrefix = "npub"

// ErrInvalidPubkey indicates input that is neither valid hex nor a valid npub.
var ErrInvalidPubkey = errors.New("invalid public key")

var hexKeyRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Normalize converts a public key in either 64-character hex or bech32 npub
// form to the canonical lowercase hex form. It is total over strings: any
// input that does not parse returns ErrInvalidPubkey. Normalize is idempotent,
// since canonical hex is itself accepted input.
func Normalize(input string) (string, error) {
	key := strings.TrimSpace(input)
	if key == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidPubkey)
	}

	if strings.HasPrefix(strings.ToLower(key), NpubPrefix+"1") {
		hrp, data, err := bech32Decode(strings.ToLower(key))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
		}
		if hrp != NpubPrefix {
			return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidPubkey, hrp)
		}
		raw, err := convertBits(data, 5, 8, false)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
		}
		if len(raw) != 32 {
			return "", fmt.Errorf("%w: npub payload is %d bytes, want 32", ErrInvalidPubkey, len(raw))
		}
		return hex.EncodeToString(raw), nil
	}

	key = strings.ToLower(key)
	if !hexKeyRegex.MatchString(key) {
		return "", fmt.Errorf("%w: want %d hex characters or an npub", ErrInvalidPubkey, HexLen)
	}
	return key, nil
}

// EncodeNpub renders a canonical hex public key in bech32 npub form for
// display. The input must already be canonical.
func EncodeNpub(hexKey string) (string, error) {
	if !hexKeyRegex.MatchString(hexKey) {
		return "", fmt.Errorf("%w: not canonical hex", ErrInvalidPubkey)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	data, err := convertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("encoding npub: %w", err)
	}
	return bech32Encode(NpubPrefix, data), nil
}

// DecryptionPublicKey converts a canonical signing public key to its X25519
// (montgomery) form, used as the ECDH recipient key when encrypting fields to
// the admin. Returns an error for hex that is not a valid curve point.
func DecryptionPublicKey(hexKey string) ([]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: not a 32-byte hex key", ErrInvalidPubkey)
	}
	point, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not a curve point: %v", ErrInvalidPubkey, err)
	}
	return point.BytesMontgomery(), nil
}

// DecryptionPrivateKey derives the X25519 scalar matching
// DecryptionPublicKey from a 32-byte ed25519 seed. The derivation mirrors
// ed25519's own scalar expansion, so the montgomery conversion of the signing
// public key is the correct ECDH counterpart.
func DecryptionPrivateKey(seed []byte) ([]byte, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("seed is %d bytes, want 32", len(seed))
	}
	h := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}
