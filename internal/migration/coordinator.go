// ABOUTME: Coordinator state machine for admin key migration attempts
// ABOUTME: closed -> input -> progress -> confirm -> progress -> complete/error

package migration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/SanctumAI/sanctum-sub000/internal/cipher"
	"github.com/SanctumAI/sanctum-sub000/internal/event"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/signer"
	"github.com/SanctumAI/sanctum-sub000/internal/store"
)

// State is the coordinator's visible state. The UI renders it; it never owns
// protocol logic itself.
type State string

const (
	StateClosed   State = "closed"
	StateInput    State = "input"
	StateConfirm  State = "confirm"
	StateProgress State = "progress"
	StateComplete State = "complete"
	StateError    State = "error"
)

// ErrBusy is returned by Close while an execute attempt is in progress.
// Abandoning a locked, partially-executed attempt is not permitted; the
// in-flight network calls are not aborted.
var ErrBusy = errors.New("migration in progress; cannot close")

// Coordinator sequences one admin key migration attempt: prepare the
// encrypted snapshot, decrypt every field in memory, obtain a signed
// authorization, and submit everything atomically. Every failure is
// fail-closed: the execute RPC is never reached unless all records decrypted
// and the signature was obtained.
//
// All per-attempt data (snapshot, target, plaintext buffers, result) is
// dropped when the attempt reaches a terminal state and the coordinator is
// closed.
type Coordinator struct {
	signer signer.Signer
	store  store.MigrationStore
	cipher *cipher.FieldCipher
	logger *slog.Logger

	mu        sync.Mutex
	executing atomic.Bool
	state     State
	target    string
	snapshot  *store.MigrationPrepareResponse
	result    *store.MigrationResult
	lastErr   *Error
}

// NewCoordinator wires a coordinator to its collaborators. The store is
// expected to reach the service through the CSRF-protected transport.
func NewCoordinator(sgn signer.Signer, st store.MigrationStore) *Coordinator {
	return &Coordinator{
		signer: sgn,
		store:  st,
		cipher: cipher.NewFieldCipher(sgn),
		logger: slog.Default().With("component", "migration"),
		state:  StateClosed,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that put the coordinator into StateError, or nil.
func (c *Coordinator) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Result returns the migration result after StateComplete, or nil.
func (c *Coordinator) Result() *store.MigrationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Snapshot returns the prepare snapshot while in StateConfirm, or nil.
func (c *Coordinator) Snapshot() *store.MigrationPrepareResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Target returns the normalized target pubkey once Submit has accepted one.
func (c *Coordinator) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Open starts a migration attempt. Both signer probes are evaluated before
// anything else; if either fails the coordinator goes straight to StateError
// with a capability-specific message and StateInput is never entered.
func (c *Coordinator) Open() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.signer.IsPresent() {
		return c.failLocked(prerequisiteError(
			"no signing extension detected; install and unlock it, then try again"))
	}
	if !c.signer.SupportsDecryption() {
		return c.failLocked(prerequisiteError(
			"the signing extension does not support decryption; upgrade it to one that does"))
	}

	c.state = StateInput
	return c.state
}

// Submit takes the candidate target key from the input state, normalizes it,
// and fetches the prepare snapshot. A malformed key is a terminal validation
// failure rather than a return to input. A target equal to the current admin
// key is rejected before any decryption.
func (c *Coordinator) Submit(ctx context.Context, rawTarget string) State {
	c.mu.Lock()
	if c.state != StateInput {
		defer c.mu.Unlock()
		return c.state
	}

	target, err := identity.Normalize(rawTarget)
	if err != nil {
		defer c.mu.Unlock()
		return c.failLocked(validationError("the new public key is not a valid npub or 64-character hex key", err))
	}
	c.target = target
	c.state = StateProgress
	c.mu.Unlock()

	snapshot, err := c.store.Prepare(ctx)
	if err != nil {
		return c.fail(fetchError(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if target == snapshot.AdminPubkey {
		return c.failLocked(validationError("the new public key must be different from the current admin key", nil))
	}
	c.snapshot = snapshot
	c.state = StateConfirm
	c.logger.Info("migration prepared",
		"users", snapshot.UserCount, "field_values", snapshot.FieldValueCount)
	return c.state
}

// Confirm runs the execute phase: decrypt everything, sign, submit. It is
// guarded by a single-flight lock; a second call while one is in flight is a
// no-op and returns the current state. The lock is released regardless of
// outcome.
func (c *Coordinator) Confirm(ctx context.Context) State {
	if !c.executing.CompareAndSwap(false, true) {
		return c.State()
	}
	defer c.executing.Store(false)

	c.mu.Lock()
	if c.state != StateConfirm {
		defer c.mu.Unlock()
		return c.state
	}
	c.state = StateProgress
	snapshot := c.snapshot
	target := c.target
	c.mu.Unlock()

	result, err := c.execute(ctx, snapshot, target)
	if err != nil {
		var me *Error
		if !errors.As(err, &me) {
			me = &Error{Kind: KindSubmit, Err: err}
		}
		return c.fail(me)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = result
	c.state = StateComplete
	c.logger.Info("migration complete",
		"users_migrated", result.UsersMigrated, "field_values_migrated", result.FieldValuesMigrated)
	return c.state
}

// execute performs steps 6a-6d strictly in order: users (array order), field
// values (array order), sign, submit. The first failure aborts before any
// network write; plaintext buffers are locals and become garbage as soon as
// this returns.
func (c *Coordinator) execute(ctx context.Context, snapshot *store.MigrationPrepareResponse, target string) (*store.MigrationResult, error) {
	users, err := c.decryptUsers(ctx, snapshot.Users)
	if err != nil {
		return nil, err
	}

	fieldValues, err := c.decryptFieldValues(ctx, snapshot.FieldValues)
	if err != nil {
		return nil, err
	}

	if !c.signer.IsPresent() {
		return nil, signingError(signer.ErrNotPresent)
	}
	auth, err := c.signer.SignEvent(ctx, event.NewKeyMigrationAuthorization(target))
	if err != nil {
		return nil, signingError(err)
	}

	result, err := c.store.Execute(ctx, target, users, fieldValues, auth)
	if err != nil {
		return nil, submitError(err)
	}
	return result, nil
}

func (c *Coordinator) decryptUsers(ctx context.Context, records []store.EncryptedUserRecord) ([]store.DecryptedUserRecord, error) {
	users := make([]store.DecryptedUserRecord, 0, len(records))
	for _, r := range records {
		if !cipher.Intact(r.EncryptedEmail, r.EphemeralPubkeyEmail) {
			return nil, integrityError(r.ID, "email")
		}
		if !cipher.Intact(r.EncryptedName, r.EphemeralPubkeyName) {
			return nil, integrityError(r.ID, "name")
		}

		u := store.DecryptedUserRecord{ID: r.ID}
		if r.EncryptedEmail != "" {
			email, err := c.cipher.Decrypt(ctx, r.EncryptedEmail, r.EphemeralPubkeyEmail)
			if err != nil {
				return nil, decryptError(r.ID, "email", err)
			}
			u.Email = email
		}
		if r.EncryptedName != "" {
			name, err := c.cipher.Decrypt(ctx, r.EncryptedName, r.EphemeralPubkeyName)
			if err != nil {
				return nil, decryptError(r.ID, "name", err)
			}
			u.Name = name
		}
		users = append(users, u)
	}
	return users, nil
}

func (c *Coordinator) decryptFieldValues(ctx context.Context, records []store.EncryptedFieldValueRecord) ([]store.DecryptedFieldValueRecord, error) {
	values := make([]store.DecryptedFieldValueRecord, 0, len(records))
	for _, r := range records {
		if !cipher.Intact(r.EncryptedValue, r.EphemeralPubkey) {
			return nil, integrityError(r.ID, "value")
		}

		fv := store.DecryptedFieldValueRecord{ID: r.ID}
		if r.EncryptedValue != "" {
			value, err := c.cipher.Decrypt(ctx, r.EncryptedValue, r.EphemeralPubkey)
			if err != nil {
				return nil, decryptError(r.ID, "value", err)
			}
			fv.Value = value
		}
		values = append(values, fv)
	}
	return values, nil
}

// Close resets all per-attempt state. It is accepted in every state except
// StateProgress, where it returns ErrBusy.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateProgress {
		return ErrBusy
	}
	c.state = StateClosed
	c.target = ""
	c.snapshot = nil
	c.result = nil
	c.lastErr = nil
	return nil
}

func (c *Coordinator) fail(e *Error) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(e)
}

// failLocked records the failure and transitions to StateError. The error
// kind and record id are logged; plaintext never is.
func (c *Coordinator) failLocked(e *Error) State {
	c.lastErr = e
	c.state = StateError
	c.logger.Warn("migration failed",
		"kind", e.Kind.String(), "record_id", e.RecordID, "field", e.Field, "error", e.Err)
	return c.state
}
