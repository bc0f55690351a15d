// ABOUTME: Tests for the SQLite record store: snapshots, atomic execute, settings
// ABOUTME: Atomicity is checked by injecting unknown record ids mid-migration

package store

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanctumAI/sanctum-sub000/internal/cipher"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newKeypair(t *testing.T) (pubHex string, scalar []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	scalar, err = identity.DecryptionPrivateKey(priv.Seed())
	require.NoError(t, err)
	return hex.EncodeToString(pub), scalar
}

func seedUser(t *testing.T, s *SQLiteStore, id, email, name, adminPubkey string) {
	t.Helper()
	u := &EncryptedUserRecord{ID: id}
	var err error
	if email != "" {
		u.EncryptedEmail, u.EphemeralPubkeyEmail, err = cipher.Encrypt(email, adminPubkey)
		require.NoError(t, err)
	}
	if name != "" {
		u.EncryptedName, u.EphemeralPubkeyName, err = cipher.Encrypt(name, adminPubkey)
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
}

func TestAdminPubkey_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.AdminPubkey(ctx)
	assert.ErrorIs(t, err, ErrNoAdminIdentity)

	pubkey, _ := newKeypair(t)
	require.NoError(t, s.SetAdminPubkey(ctx, pubkey))

	got, err := s.AdminPubkey(ctx)
	require.NoError(t, err)
	assert.Equal(t, pubkey, got)
}

func TestSnapshot_CountsMatchArrays(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	pubkey, _ := newKeypair(t)
	require.NoError(t, s.SetAdminPubkey(ctx, pubkey))

	seedUser(t, s, "user-1", "a@example.com", "Alice", pubkey)
	seedUser(t, s, "user-2", "", "", pubkey)

	encValue, eph, err := cipher.Encrypt("custom", pubkey)
	require.NoError(t, err)
	require.NoError(t, s.CreateFieldValue(ctx, &EncryptedFieldValueRecord{
		ID: "fv-1", EncryptedValue: encValue, EphemeralPubkey: eph,
	}))

	snapshot, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.NoError(t, snapshot.Validate())
	assert.Equal(t, pubkey, snapshot.AdminPubkey)
	assert.Equal(t, 2, snapshot.UserCount)
	assert.Equal(t, 1, snapshot.FieldValueCount)
	assert.Len(t, snapshot.Users, 2)
	assert.Len(t, snapshot.FieldValues, 1)
}

func TestExecuteMigration_ReencryptsToNewKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	oldPubkey, _ := newKeypair(t)
	newPubkey, newScalar := newKeypair(t)
	require.NoError(t, s.SetAdminPubkey(ctx, oldPubkey))

	seedUser(t, s, "user-1", "a@example.com", "Alice", oldPubkey)

	result, err := s.ExecuteMigration(ctx, newPubkey,
		[]DecryptedUserRecord{{ID: "user-1", Email: "a@example.com", Name: "Alice"}},
		nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UsersMigrated)
	assert.Equal(t, 0, result.FieldValuesMigrated)

	got, err := s.AdminPubkey(ctx)
	require.NoError(t, err)
	assert.Equal(t, newPubkey, got)

	// The re-encrypted email must open under the new key.
	u, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	plaintext, err := cipher.DecryptWithKey(newScalar, u.EncryptedEmail, u.EphemeralPubkeyEmail)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", plaintext)

	audit, err := s.ListMigrationAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, oldPubkey, audit[0].OldPubkey)
	assert.Equal(t, newPubkey, audit[0].NewPubkey)
	assert.Equal(t, 1, audit[0].UsersMigrated)
}

func TestExecuteMigration_UnknownRecordRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	oldPubkey, oldScalar := newKeypair(t)
	newPubkey, _ := newKeypair(t)
	require.NoError(t, s.SetAdminPubkey(ctx, oldPubkey))

	seedUser(t, s, "user-1", "a@example.com", "", oldPubkey)
	before, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)

	_, err = s.ExecuteMigration(ctx, newPubkey,
		[]DecryptedUserRecord{
			{ID: "user-1", Email: "a@example.com"},
			{ID: "ghost", Email: "ghost@example.com"},
		}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")

	// Nothing changed: identity and ciphertext are as before.
	got, err := s.AdminPubkey(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldPubkey, got)

	after, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, before.EncryptedEmail, after.EncryptedEmail)
	plaintext, err := cipher.DecryptWithKey(oldScalar, after.EncryptedEmail, after.EphemeralPubkeyEmail)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", plaintext)
}

func TestExecuteMigration_MissingCoverageAborts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	oldPubkey, _ := newKeypair(t)
	newPubkey, _ := newKeypair(t)
	require.NoError(t, s.SetAdminPubkey(ctx, oldPubkey))

	seedUser(t, s, "user-1", "a@example.com", "", oldPubkey)
	seedUser(t, s, "user-2", "b@example.com", "", oldPubkey)

	// user-2's plaintext is not supplied.
	_, err := s.ExecuteMigration(ctx, newPubkey,
		[]DecryptedUserRecord{{ID: "user-1", Email: "a@example.com"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user-2")

	got, err := s.AdminPubkey(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldPubkey, got)
}

func TestSettings_CRUD(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "SITE_NAME")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, "SITE_NAME", "Sanctum"))
	require.NoError(t, s.SetSetting(ctx, "MAX_SEATS", "10"))
	require.NoError(t, s.SetSetting(ctx, "SITE_NAME", "Sanctum Prod"))

	setting, err := s.GetSetting(ctx, "SITE_NAME")
	require.NoError(t, err)
	assert.Equal(t, "Sanctum Prod", setting.Value)

	all, err := s.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "MAX_SEATS", all[0].Key)
}
