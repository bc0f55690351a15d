// ABOUTME: FieldCipher decrypts single ciphertext/ephemeral-key pairs via a signer
// ABOUTME: Pairing checks catch ciphertexts missing their ephemeral companion

package cipher

import (
	"context"
	"fmt"
)

// Decrypter is the slice of the external signer FieldCipher depends on.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error)
}

// FieldCipher decrypts individual encrypted fields by delegating to the
// holder of the admin private key. It has no state beyond the decrypter and
// never retains plaintext.
type FieldCipher struct {
	decrypter Decrypter
}

// NewFieldCipher returns a FieldCipher backed by the given decrypter.
func NewFieldCipher(d Decrypter) *FieldCipher {
	return &FieldCipher{decrypter: d}
}

// Decrypt opens one ciphertext using its paired ephemeral public key. Both
// arguments must be present; callers are expected to run Intact on the record
// first, so an unpaired field never reaches this point. Any failure, including
// the signer declining, is returned as an error so the caller fails closed.
func (f *FieldCipher) Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error) {
	plaintext, err := f.decrypter.Decrypt(ctx, ciphertext, ephemeralPubkey)
	if err != nil {
		return "", fmt.Errorf("decrypting field: %w", err)
	}
	return plaintext, nil
}

// Intact reports whether a ciphertext/ephemeral-key pair is structurally
// valid: either both present or both absent. A lone ciphertext is
// undecryptable and a lone ephemeral key indicates a corrupted record.
func Intact(ciphertext, ephemeralPubkey string) bool {
	return (ciphertext == "") == (ephemeralPubkey == "")
}
