// ABOUTME: Error taxonomy for the migration protocol
// ABOUTME: Each kind maps to one failure mode with a remediation-grade message

package migration

import (
	"errors"
	"fmt"
)

// Kind classifies a migration failure.
type Kind int

const (
	// KindPrerequisite: no signer, or missing decryption capability. Blocks
	// entry to the flow entirely.
	KindPrerequisite Kind = iota + 1

	// KindValidation: malformed target pubkey, or target equals the current
	// admin key. Occurs before any decryption.
	KindValidation

	// KindFetch: the prepare RPC failed or returned an inconsistent snapshot.
	KindFetch

	// KindIntegrity: a record carries ciphertext without its ephemeral key
	// companion (or the reverse).
	KindIntegrity

	// KindDecrypt: the signer declined or failed to decrypt a field.
	KindDecrypt

	// KindSigning: no signer at signing time, or the signature was declined.
	KindSigning

	// KindSubmit: the execute RPC failed. The store guarantees no partial
	// write in that case.
	KindSubmit
)

// String names the kind for logs and messages.
func (k Kind) String() string {
	switch k {
	case KindPrerequisite:
		return "prerequisite"
	case KindValidation:
		return "validation"
	case KindFetch:
		return "fetch"
	case KindIntegrity:
		return "integrity"
	case KindDecrypt:
		return "decrypt"
	case KindSigning:
		return "signing"
	case KindSubmit:
		return "submit"
	default:
		return "unknown"
	}
}

// Error is a classified migration failure. RecordID and Field are set for
// integrity and decrypt failures so the operator knows exactly which record
// stopped the attempt.
type Error struct {
	Kind     Kind
	RecordID string
	Field    string
	Message  string
	Err      error
}

// Error renders a human-readable, kind-specific message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " failure"
	}
	if e.RecordID != "" {
		msg = fmt.Sprintf("%s (record %s, field %s)", msg, e.RecordID, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err, or nil.
func AsError(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return nil
}

func prerequisiteError(msg string) *Error {
	return &Error{Kind: KindPrerequisite, Message: msg}
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func fetchError(err error) *Error {
	return &Error{Kind: KindFetch, Message: "fetching migration snapshot failed", Err: err}
}

func integrityError(recordID, field string) *Error {
	return &Error{
		Kind:     KindIntegrity,
		RecordID: recordID,
		Field:    field,
		Message:  "encrypted field is missing its ephemeral key companion",
	}
}

func decryptError(recordID, field string, err error) *Error {
	return &Error{
		Kind:     KindDecrypt,
		RecordID: recordID,
		Field:    field,
		Message:  "field could not be decrypted",
		Err:      err,
	}
}

func signingError(err error) *Error {
	return &Error{Kind: KindSigning, Message: "authorization signature was not obtained", Err: err}
}

func submitError(err error) *Error {
	return &Error{Kind: KindSubmit, Message: "submitting the migration failed; no partial changes were applied", Err: err}
}
