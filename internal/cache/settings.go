package cache

import (
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore is the key-value persistence surface for configuration
// blobs (account records, active-account set).
type SettingsStore struct {
	db *DB
}

// NewSettingsStore creates a settings store.
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get reads one setting. A missing key is (value "", ok false, nil error).
func (s *SettingsStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.conn.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes one setting, replacing any previous value.
func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %q: %w", key, err)
	}
	return nil
}
