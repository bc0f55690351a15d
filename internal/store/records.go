// ABOUTME: Wire types for encrypted and decrypted records and migration RPCs
// ABOUTME: Prepare snapshots are immutable; decrypted records live in memory only

package store

import (
	"context"
	"fmt"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
)

// EncryptedUserRecord is a user row as stored: PII fields are sealed to the
// current admin key, each with the ephemeral public key needed to open it.
type EncryptedUserRecord struct {
	ID                   string `json:"id"`
	EncryptedEmail       string `json:"encrypted_email,omitempty"`
	EphemeralPubkeyEmail string `json:"ephemeral_pubkey_email,omitempty"`
	EncryptedName        string `json:"encrypted_name,omitempty"`
	EphemeralPubkeyName  string `json:"ephemeral_pubkey_name,omitempty"`
}

// EncryptedFieldValueRecord is an arbitrary encrypted form-field value.
type EncryptedFieldValueRecord struct {
	ID              string `json:"id"`
	EncryptedValue  string `json:"encrypted_value,omitempty"`
	EphemeralPubkey string `json:"ephemeral_pubkey,omitempty"`
}

// MigrationPrepareResponse is the read-only snapshot one migration attempt
// works from.
type MigrationPrepareResponse struct {
	AdminPubkey     string                      `json:"admin_pubkey"`
	UserCount       int                         `json:"user_count"`
	FieldValueCount int                         `json:"field_value_count"`
	Users           []EncryptedUserRecord       `json:"users"`
	FieldValues     []EncryptedFieldValueRecord `json:"field_values"`
}

// Validate checks the snapshot's internal consistency: the advertised counts
// must equal the array lengths.
func (r *MigrationPrepareResponse) Validate() error {
	if r.UserCount != len(r.Users) {
		return fmt.Errorf("snapshot user_count %d does not match %d users", r.UserCount, len(r.Users))
	}
	if r.FieldValueCount != len(r.FieldValues) {
		return fmt.Errorf("snapshot field_value_count %d does not match %d field values", r.FieldValueCount, len(r.FieldValues))
	}
	return nil
}

// DecryptedUserRecord is the transient plaintext form of a user record. It is
// never persisted or logged and is dropped when the attempt ends.
type DecryptedUserRecord struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// DecryptedFieldValueRecord is the transient plaintext form of a field value.
type DecryptedFieldValueRecord struct {
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
}

// MigrationResult is the outcome reported by a successful execute.
type MigrationResult struct {
	Message             string `json:"message"`
	UsersMigrated       int    `json:"users_migrated"`
	FieldValuesMigrated int    `json:"field_values_migrated"`
}

// MigrationStore is the record store as seen by the migration coordinator.
type MigrationStore interface {
	// Prepare returns a read-only snapshot of everything encrypted to the
	// current admin key. It never mutates state and may be called repeatedly.
	Prepare(ctx context.Context) (*MigrationPrepareResponse, error)

	// Execute atomically re-encrypts every record to newPubkey, authorized by
	// the signed event. Either all records are re-encrypted or none are.
	Execute(ctx context.Context, newPubkey string, users []DecryptedUserRecord, fieldValues []DecryptedFieldValueRecord, auth *event.Event) (*MigrationResult, error)
}
