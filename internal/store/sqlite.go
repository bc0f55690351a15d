// ABOUTME: SQLite persistence for encrypted records using modernc.org/sqlite
// ABOUTME: Execute re-encrypts everything in one transaction, all-or-nothing

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SanctumAI/sanctum-sub000/internal/cipher"
)

// ErrNotFound is returned when a requested row doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrNoAdminIdentity is returned before an admin identity has been seeded.
var ErrNoAdminIdentity = errors.New("no admin identity configured")

// SQLiteStore is the server-side encrypted record store.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS admin_identity (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			pubkey TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			encrypted_email TEXT NOT NULL DEFAULT '',
			ephemeral_pubkey_email TEXT NOT NULL DEFAULT '',
			encrypted_name TEXT NOT NULL DEFAULT '',
			ephemeral_pubkey_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS field_values (
			id TEXT PRIMARY KEY,
			encrypted_value TEXT NOT NULL DEFAULT '',
			ephemeral_pubkey TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS migration_audit (
			id TEXT PRIMARY KEY,
			old_pubkey TEXT NOT NULL,
			new_pubkey TEXT NOT NULL,
			users_migrated INTEGER NOT NULL,
			field_values_migrated INTEGER NOT NULL,
			migrated_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// AdminPubkey returns the current admin public key.
func (s *SQLiteStore) AdminPubkey(ctx context.Context) (string, error) {
	var pubkey string
	err := s.db.QueryRowContext(ctx, "SELECT pubkey FROM admin_identity WHERE id = 1").Scan(&pubkey)
	if err == sql.ErrNoRows {
		return "", ErrNoAdminIdentity
	}
	if err != nil {
		return "", fmt.Errorf("querying admin identity: %w", err)
	}
	return pubkey, nil
}

// SetAdminPubkey seeds or replaces the admin identity.
func (s *SQLiteStore) SetAdminPubkey(ctx context.Context, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_identity (id, pubkey, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pubkey = excluded.pubkey, updated_at = excluded.updated_at
	`, pubkey, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("setting admin identity: %w", err)
	}
	return nil
}

// CreateUser inserts an encrypted user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *EncryptedUserRecord) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, encrypted_email, ephemeral_pubkey_email, encrypted_name, ephemeral_pubkey_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.EncryptedEmail, u.EphemeralPubkeyEmail, u.EncryptedName, u.EphemeralPubkeyName,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// CreateFieldValue inserts an encrypted field value record.
func (s *SQLiteStore) CreateFieldValue(ctx context.Context, fv *EncryptedFieldValueRecord) error {
	if fv.ID == "" {
		fv.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_values (id, encrypted_value, ephemeral_pubkey, created_at)
		VALUES (?, ?, ?, ?)
	`, fv.ID, fv.EncryptedValue, fv.EphemeralPubkey, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting field value: %w", err)
	}
	return nil
}

// GetUser retrieves one encrypted user record.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*EncryptedUserRecord, error) {
	var u EncryptedUserRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, encrypted_email, ephemeral_pubkey_email, encrypted_name, ephemeral_pubkey_name
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.EncryptedEmail, &u.EphemeralPubkeyEmail, &u.EncryptedName, &u.EphemeralPubkeyName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// Snapshot builds the immutable prepare response: the admin pubkey plus every
// encrypted record, in primary-key order for reproducible attribution.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*MigrationPrepareResponse, error) {
	adminPubkey, err := s.AdminPubkey(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, encrypted_email, ephemeral_pubkey_email, encrypted_name, ephemeral_pubkey_name
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	snapshot := &MigrationPrepareResponse{AdminPubkey: adminPubkey}
	for rows.Next() {
		var u EncryptedUserRecord
		if err := rows.Scan(&u.ID, &u.EncryptedEmail, &u.EphemeralPubkeyEmail, &u.EncryptedName, &u.EphemeralPubkeyName); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		snapshot.Users = append(snapshot.Users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	fvRows, err := s.db.QueryContext(ctx, `
		SELECT id, encrypted_value, ephemeral_pubkey FROM field_values ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying field values: %w", err)
	}
	defer fvRows.Close()

	for fvRows.Next() {
		var fv EncryptedFieldValueRecord
		if err := fvRows.Scan(&fv.ID, &fv.EncryptedValue, &fv.EphemeralPubkey); err != nil {
			return nil, fmt.Errorf("scanning field value: %w", err)
		}
		snapshot.FieldValues = append(snapshot.FieldValues, fv)
	}
	if err := fvRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating field values: %w", err)
	}

	snapshot.UserCount = len(snapshot.Users)
	snapshot.FieldValueCount = len(snapshot.FieldValues)
	return snapshot, nil
}

// ExecuteMigration re-encrypts the supplied plaintext records to newPubkey
// and swaps the admin identity, all inside one transaction. Any missing or
// surplus record aborts the transaction so no partial migration can commit.
// Callers are responsible for having verified the authorization first.
func (s *SQLiteStore) ExecuteMigration(ctx context.Context, newPubkey string, users []DecryptedUserRecord, fieldValues []DecryptedFieldValueRecord) (*MigrationResult, error) {
	oldPubkey, err := s.AdminPubkey(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	suppliedUsers := make(map[string]bool, len(users))
	usersMigrated := 0
	for _, u := range users {
		suppliedUsers[u.ID] = true
		var encEmail, ephEmail, encName, ephName string
		if u.Email != "" {
			if encEmail, ephEmail, err = cipher.Encrypt(u.Email, newPubkey); err != nil {
				return nil, fmt.Errorf("re-encrypting email for user %s: %w", u.ID, err)
			}
		}
		if u.Name != "" {
			if encName, ephName, err = cipher.Encrypt(u.Name, newPubkey); err != nil {
				return nil, fmt.Errorf("re-encrypting name for user %s: %w", u.ID, err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET encrypted_email = ?, ephemeral_pubkey_email = ?,
				encrypted_name = ?, ephemeral_pubkey_name = ?
			WHERE id = ?
		`, encEmail, ephEmail, encName, ephName, u.ID)
		if err != nil {
			return nil, fmt.Errorf("updating user %s: %w", u.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking update of user %s: %w", u.ID, err)
		}
		if n != 1 {
			return nil, fmt.Errorf("user %s not found, aborting migration", u.ID)
		}
		usersMigrated++
	}

	suppliedValues := make(map[string]bool, len(fieldValues))
	valuesMigrated := 0
	for _, fv := range fieldValues {
		suppliedValues[fv.ID] = true
		var encValue, eph string
		if fv.Value != "" {
			if encValue, eph, err = cipher.Encrypt(fv.Value, newPubkey); err != nil {
				return nil, fmt.Errorf("re-encrypting field value %s: %w", fv.ID, err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE field_values SET encrypted_value = ?, ephemeral_pubkey = ? WHERE id = ?
		`, encValue, eph, fv.ID)
		if err != nil {
			return nil, fmt.Errorf("updating field value %s: %w", fv.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking update of field value %s: %w", fv.ID, err)
		}
		if n != 1 {
			return nil, fmt.Errorf("field value %s not found, aborting migration", fv.ID)
		}
		valuesMigrated++
	}

	// Coverage check: every row still holding ciphertext the caller did not
	// supply would be stranded under the old key, so the whole attempt aborts.
	if missing := s.missingCoverage(ctx, tx, suppliedUsers, suppliedValues); missing != "" {
		return nil, fmt.Errorf("record %s holds ciphertext but no plaintext was supplied, aborting migration", missing)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		"UPDATE admin_identity SET pubkey = ?, updated_at = ? WHERE id = 1", newPubkey, now); err != nil {
		return nil, fmt.Errorf("updating admin identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO migration_audit (id, old_pubkey, new_pubkey, users_migrated, field_values_migrated, migrated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), oldPubkey, newPubkey, usersMigrated, valuesMigrated, now); err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing migration: %w", err)
	}

	s.logger.Info("admin key migration executed",
		"users_migrated", usersMigrated, "field_values_migrated", valuesMigrated)

	return &MigrationResult{
		Message:             "admin key migration complete",
		UsersMigrated:       usersMigrated,
		FieldValuesMigrated: valuesMigrated,
	}, nil
}

// missingCoverage returns the id of the first ciphertext-bearing row the
// caller did not supply plaintext for, or "".
func (s *SQLiteStore) missingCoverage(ctx context.Context, tx *sql.Tx, users, values map[string]bool) string {
	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM users WHERE encrypted_email != '' OR encrypted_name != ''")
	if err != nil {
		return "unknown"
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil && !users[id] {
			return "user " + id
		}
	}

	fvRows, err := tx.QueryContext(ctx, "SELECT id FROM field_values WHERE encrypted_value != ''")
	if err != nil {
		return "unknown"
	}
	defer fvRows.Close()
	for fvRows.Next() {
		var id string
		if fvRows.Scan(&id) == nil && !values[id] {
			return "field value " + id
		}
	}
	return ""
}
