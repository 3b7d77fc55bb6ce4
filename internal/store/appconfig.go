package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Opaque key-value settings (UI theme and the like). Not interpreted
// by the core; stored alongside the rest for a single durable file.

func (r *Repository) GetConfigValue(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config value: %w", err)
	}
	return value, nil
}

func (r *Repository) SetConfigValue(key, value string) error {
	now := r.now()
	_, err := r.db.Exec(`
		INSERT INTO app_config (key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now, now)
	if err != nil {
		return fmt.Errorf("set config value: %w", err)
	}
	return nil
}
