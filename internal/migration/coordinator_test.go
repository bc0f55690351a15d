// ABOUTME: Tests for the migration coordinator state machine
// ABOUTME: Covers fail-closed decryption, single-flight execute, and close rules

package migration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/signer"
	"github.com/SanctumAI/sanctum-sub000/internal/store"
)

// fakeSigner is a scriptable signer double.
type fakeSigner struct {
	present     bool
	decryption  bool
	declineSign bool
	decryptErr  error
	plaintexts  map[string]string // ciphertext -> plaintext
	priv        ed25519.PrivateKey

	mu       sync.Mutex
	decrypts int
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &fakeSigner{
		present:    true,
		decryption: true,
		plaintexts: map[string]string{},
		priv:       priv,
	}
}

func (f *fakeSigner) IsPresent() bool          { return f.present }
func (f *fakeSigner) SupportsDecryption() bool { return f.decryption }

func (f *fakeSigner) Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error) {
	f.mu.Lock()
	f.decrypts++
	f.mu.Unlock()
	if f.decryptErr != nil {
		return "", f.decryptErr
	}
	plaintext, ok := f.plaintexts[ciphertext]
	if !ok {
		return "", signer.ErrDecryptDeclined
	}
	return plaintext, nil
}

func (f *fakeSigner) SignEvent(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if f.declineSign {
		return nil, signer.ErrSignDeclined
	}
	signed := *ev
	if err := signed.Sign(f.priv); err != nil {
		return nil, err
	}
	return &signed, nil
}

// fakeStore is a scriptable MigrationStore double.
type fakeStore struct {
	snapshot   *store.MigrationPrepareResponse
	prepareErr error
	executeErr error
	result     *store.MigrationResult

	mu          sync.Mutex
	executes    int
	executeGate chan struct{} // if set, Execute blocks until closed
	lastUsers   []store.DecryptedUserRecord
	lastAuth    *event.Event
}

func (f *fakeStore) Prepare(ctx context.Context) (*store.MigrationPrepareResponse, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return f.snapshot, nil
}

func (f *fakeStore) Execute(ctx context.Context, newPubkey string, users []store.DecryptedUserRecord, fieldValues []store.DecryptedFieldValueRecord, auth *event.Event) (*store.MigrationResult, error) {
	f.mu.Lock()
	f.executes++
	f.lastUsers = users
	f.lastAuth = auth
	gate := f.executeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.result, nil
}

func (f *fakeStore) executeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executes
}

const adminKey = "1111111111111111111111111111111111111111111111111111111111111111"
const targetKey = "2222222222222222222222222222222222222222222222222222222222222222"

// wellFormedSnapshot has two users (one with an encrypted email, one with
// nothing encrypted) and one field value.
func wellFormedSnapshot(sgn *fakeSigner) *store.MigrationPrepareResponse {
	sgn.plaintexts["ct-email-1"] = "a@example.com"
	sgn.plaintexts["ct-value-1"] = "custom"
	return &store.MigrationPrepareResponse{
		AdminPubkey:     adminKey,
		UserCount:       2,
		FieldValueCount: 1,
		Users: []store.EncryptedUserRecord{
			{ID: "user-1", EncryptedEmail: "ct-email-1", EphemeralPubkeyEmail: "eph-1"},
			{ID: "user-2"},
		},
		FieldValues: []store.EncryptedFieldValueRecord{
			{ID: "fv-1", EncryptedValue: "ct-value-1", EphemeralPubkey: "eph-2"},
		},
	}
}

func TestCoordinator_HappyPath(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{
		snapshot: wellFormedSnapshot(sgn),
		result:   &store.MigrationResult{Message: "ok", UsersMigrated: 2, FieldValuesMigrated: 1},
	}
	c := NewCoordinator(sgn, st)

	assert.Equal(t, StateInput, c.Open())
	assert.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	require.NotNil(t, c.Snapshot())
	assert.Equal(t, 2, c.Snapshot().UserCount)

	assert.Equal(t, StateComplete, c.Confirm(context.Background()))
	require.NotNil(t, c.Result())
	assert.Equal(t, 2, c.Result().UsersMigrated)
	assert.Equal(t, 1, c.Result().FieldValuesMigrated)

	// The store received decrypted plaintext and a valid authorization.
	require.Len(t, st.lastUsers, 2)
	assert.Equal(t, "a@example.com", st.lastUsers[0].Email)
	require.NotNil(t, st.lastAuth)
	assert.NoError(t, st.lastAuth.Verify())
	assert.Equal(t, targetKey, st.lastAuth.NewPubkey())
}

func TestCoordinator_NoSignerGoesStraightToError(t *testing.T) {
	sgn := newFakeSigner(t)
	sgn.present = false
	c := NewCoordinator(sgn, &fakeStore{})

	assert.Equal(t, StateError, c.Open())
	require.NotNil(t, c.Err())
	assert.Equal(t, KindPrerequisite, c.Err().Kind)
	assert.Contains(t, c.Err().Error(), "extension")
}

func TestCoordinator_NoDecryptionCapability(t *testing.T) {
	sgn := newFakeSigner(t)
	sgn.decryption = false
	c := NewCoordinator(sgn, &fakeStore{})

	assert.Equal(t, StateError, c.Open())
	assert.Equal(t, KindPrerequisite, c.Err().Kind)
	assert.Contains(t, c.Err().Error(), "decryption")
}

func TestCoordinator_MalformedTargetIsTerminal(t *testing.T) {
	sgn := newFakeSigner(t)
	c := NewCoordinator(sgn, &fakeStore{})

	require.Equal(t, StateInput, c.Open())
	assert.Equal(t, StateError, c.Submit(context.Background(), "not-a-key"))
	assert.Equal(t, KindValidation, c.Err().Kind)
}

func TestCoordinator_NpubTargetNormalizes(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{
		snapshot: wellFormedSnapshot(sgn),
		result:   &store.MigrationResult{Message: "ok"},
	}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	npub, err := identity.EncodeNpub(targetKey)
	require.NoError(t, err)

	assert.Equal(t, StateConfirm, c.Submit(context.Background(), npub))
	assert.Equal(t, targetKey, c.Target())
}

func TestCoordinator_SameKeyRejectedBeforeDecryption(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{snapshot: wellFormedSnapshot(sgn)}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	assert.Equal(t, StateError, c.Submit(context.Background(), adminKey))
	assert.Equal(t, KindValidation, c.Err().Kind)
	assert.Contains(t, c.Err().Error(), "different")
	assert.Equal(t, 0, sgn.decrypts)
	assert.Equal(t, 0, st.executeCount())
}

func TestCoordinator_PrepareFailure(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{prepareErr: errors.New("boom")}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	assert.Equal(t, StateError, c.Submit(context.Background(), targetKey))
	assert.Equal(t, KindFetch, c.Err().Kind)
}

func TestCoordinator_PairingViolationAbortsBeforeExecute(t *testing.T) {
	sgn := newFakeSigner(t)
	snapshot := wellFormedSnapshot(sgn)
	// Ciphertext with no ephemeral companion.
	snapshot.Users[0].EphemeralPubkeyEmail = ""
	st := &fakeStore{snapshot: snapshot}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	assert.Equal(t, StateError, c.Confirm(context.Background()))

	require.NotNil(t, c.Err())
	assert.Equal(t, KindIntegrity, c.Err().Kind)
	assert.Equal(t, "user-1", c.Err().RecordID)
	assert.Contains(t, c.Err().Error(), "user-1")
	assert.Equal(t, 0, st.executeCount(), "execute must never be called")
	assert.Equal(t, 0, sgn.decrypts, "no decryption after an integrity fault on the first field")
}

func TestCoordinator_LoneEphemeralKeyIsAlsoIntegrityFault(t *testing.T) {
	sgn := newFakeSigner(t)
	snapshot := wellFormedSnapshot(sgn)
	snapshot.FieldValues[0].EncryptedValue = ""
	st := &fakeStore{snapshot: snapshot}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	assert.Equal(t, StateError, c.Confirm(context.Background()))
	assert.Equal(t, KindIntegrity, c.Err().Kind)
	assert.Equal(t, "fv-1", c.Err().RecordID)
	assert.Equal(t, 0, st.executeCount())
}

func TestCoordinator_DecryptDeclineAbortsBeforeExecute(t *testing.T) {
	sgn := newFakeSigner(t)
	snapshot := wellFormedSnapshot(sgn)
	st := &fakeStore{snapshot: snapshot}
	sgn.decryptErr = signer.ErrDecryptDeclined
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	assert.Equal(t, StateError, c.Confirm(context.Background()))
	assert.Equal(t, KindDecrypt, c.Err().Kind)
	assert.Equal(t, "user-1", c.Err().RecordID)
	assert.ErrorIs(t, c.Err(), signer.ErrDecryptDeclined)
	assert.Equal(t, 0, st.executeCount())
}

func TestCoordinator_SignDeclineAbortsBeforeExecute(t *testing.T) {
	sgn := newFakeSigner(t)
	sgn.declineSign = true
	st := &fakeStore{snapshot: wellFormedSnapshot(sgn)}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	assert.Equal(t, StateError, c.Confirm(context.Background()))
	assert.Equal(t, KindSigning, c.Err().Kind)
	assert.Equal(t, 0, st.executeCount())
}

func TestCoordinator_SubmitFailure(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{
		snapshot:   wellFormedSnapshot(sgn),
		executeErr: errors.New("store exploded"),
	}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	assert.Equal(t, StateError, c.Confirm(context.Background()))
	assert.Equal(t, KindSubmit, c.Err().Kind)
	assert.Nil(t, c.Result())
}

func TestCoordinator_SingleFlight(t *testing.T) {
	sgn := newFakeSigner(t)
	gate := make(chan struct{})
	st := &fakeStore{
		snapshot:    wellFormedSnapshot(sgn),
		result:      &store.MigrationResult{Message: "ok", UsersMigrated: 2, FieldValuesMigrated: 1},
		executeGate: gate,
	}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))

	done := make(chan State, 1)
	go func() { done <- c.Confirm(context.Background()) }()

	// Wait until the first attempt is inside Execute, then try again.
	require.Eventually(t, func() bool { return st.executeCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateProgress, c.Confirm(context.Background()), "second call is a no-op")

	close(gate)
	assert.Equal(t, StateComplete, <-done)
	assert.Equal(t, 1, st.executeCount(), "exactly one execution")
}

func TestCoordinator_CloseRefusedDuringProgress(t *testing.T) {
	sgn := newFakeSigner(t)
	gate := make(chan struct{})
	st := &fakeStore{
		snapshot:    wellFormedSnapshot(sgn),
		result:      &store.MigrationResult{Message: "ok"},
		executeGate: gate,
	}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))

	done := make(chan State, 1)
	go func() { done <- c.Confirm(context.Background()) }()
	require.Eventually(t, func() bool { return st.executeCount() == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Close(), ErrBusy)

	close(gate)
	require.Equal(t, StateComplete, <-done)
	assert.NoError(t, c.Close())
}

func TestCoordinator_CloseResetsEverything(t *testing.T) {
	sgn := newFakeSigner(t)
	st := &fakeStore{
		snapshot: wellFormedSnapshot(sgn),
		result:   &store.MigrationResult{Message: "ok", UsersMigrated: 2, FieldValuesMigrated: 1},
	}
	c := NewCoordinator(sgn, st)

	require.Equal(t, StateInput, c.Open())
	require.Equal(t, StateConfirm, c.Submit(context.Background(), targetKey))
	require.Equal(t, StateComplete, c.Confirm(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.Nil(t, c.Snapshot())
	assert.Nil(t, c.Result())
	assert.Nil(t, c.Err())
	assert.Empty(t, c.Target())
}

func TestCoordinator_SubmitOutsideInputIsNoOp(t *testing.T) {
	sgn := newFakeSigner(t)
	c := NewCoordinator(sgn, &fakeStore{})

	assert.Equal(t, StateClosed, c.Submit(context.Background(), targetKey))
}

func TestError_Messages(t *testing.T) {
	e := integrityError("user-9", "email")
	assert.Contains(t, e.Error(), "user-9")
	assert.Contains(t, e.Error(), "email")

	e = submitError(errors.New("409"))
	assert.Contains(t, e.Error(), "no partial changes")

	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "unknown", Kind(99).String())
	assert.Nil(t, AsError(errors.New("plain")))
	assert.NotNil(t, AsError(integrityError("x", "y")))
}
