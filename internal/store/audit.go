// ABOUTME: Migration audit entries recording each completed key rotation
// ABOUTME: Written inside the execute transaction; read-only afterwards

package store

import (
	"context"
	"fmt"
	"time"
)

// MigrationAuditEntry records one completed admin key migration.
type MigrationAuditEntry struct {
	ID                  string    `json:"id"`
	OldPubkey           string    `json:"old_pubkey"`
	NewPubkey           string    `json:"new_pubkey"`
	UsersMigrated       int       `json:"users_migrated"`
	FieldValuesMigrated int       `json:"field_values_migrated"`
	MigratedAt          time.Time `json:"migrated_at"`
}

// ListMigrationAudit returns audit entries, newest first.
func (s *SQLiteStore) ListMigrationAudit(ctx context.Context, limit int) ([]MigrationAuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, old_pubkey, new_pubkey, users_migrated, field_values_migrated, migrated_at
		FROM migration_audit ORDER BY migrated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying migration audit: %w", err)
	}
	defer rows.Close()

	var entries []MigrationAuditEntry
	for rows.Next() {
		var e MigrationAuditEntry
		var migratedAt string
		if err := rows.Scan(&e.ID, &e.OldPubkey, &e.NewPubkey, &e.UsersMigrated, &e.FieldValuesMigrated, &migratedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, migratedAt); err == nil {
			e.MigratedAt = parsed
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
