// ABOUTME: Signer interface and sentinel errors shared by all backends
// ABOUTME: Decline and absence are distinct, named failure modes

package signer

import (
	"context"
	"errors"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
)

// Signer errors. Declines are deliberate refusals by the key holder;
// ErrNotPresent means no key holder could be reached at all.
var (
	ErrNotPresent      = errors.New("no signer present")
	ErrNoDecryption    = errors.New("signer does not support decryption")
	ErrDecryptDeclined = errors.New("signer declined to decrypt")
	ErrSignDeclined    = errors.New("signer declined to sign")
)

// Signer is the capability interface over the admin private key holder.
// Decrypt and SignEvent may block for as long as the key holder's operator
// takes to approve or decline; no timeout is imposed here.
type Signer interface {
	// IsPresent reports whether a key holder was detected. Evaluated
	// synchronously, without prompting.
	IsPresent() bool

	// SupportsDecryption reports whether the key holder advertises the
	// field-decryption capability.
	SupportsDecryption() bool

	// Decrypt opens one encrypted field. A decline is returned as
	// ErrDecryptDeclined; callers treat any error as fatal to the operation
	// in progress.
	Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error)

	// SignEvent signs the given event, filling in pubkey, id and sig. The
	// input is not modified; a signed copy is returned.
	SignEvent(ctx context.Context, ev *event.Event) (*event.Event, error)
}
