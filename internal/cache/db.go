// Package cache is the persistent row store behind the mailbox core: the
// message-header cache, the outbox send queue, and the key-value settings
// table, all in one SQLite database.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection shared by the stores in this package.
type DB struct {
	conn   *sqlx.DB
	logger *logrus.Logger
}

// Open opens (or creates) the cache database, enables WAL mode and foreign
// keys, and applies the schema.
func Open(dbPath string, logger *logrus.Logger) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Cache initialized")
	return &DB{conn: conn, logger: logger}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
