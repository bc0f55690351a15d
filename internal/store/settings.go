// ABOUTME: Key-value settings storage backing the configuration CRUD endpoints
// ABOUTME: Plain strings; encrypted field values live in field_values, not here

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Setting is one configuration key-value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSetting returns a setting by key, or ErrNotFound.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT key, value, updated_at FROM settings WHERE key = ?", key).
		Scan(&setting.Key, &setting.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying setting: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		setting.UpdatedAt = parsed
	}
	return &setting, nil
}

// SetSetting creates or replaces a setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}
	s.logger.Debug("setting updated", "key", key)
	return nil
}

// ListSettings returns all settings in key order.
func (s *SQLiteStore) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var setting Setting
		var updatedAt string
		if err := rows.Scan(&setting.Key, &setting.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			setting.UpdatedAt = parsed
		}
		settings = append(settings, setting)
	}
	return settings, rows.Err()
}
