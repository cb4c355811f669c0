package cache

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// OutboxStore persists the local send queue. Outbox entries never exist on
// any server.
type OutboxStore struct {
	db     *DB
	logger *logrus.Logger
}

// NewOutboxStore creates an outbox store.
func NewOutboxStore(db *DB, logger *logrus.Logger) *OutboxStore {
	return &OutboxStore{db: db, logger: logger}
}

// Enqueue inserts a new entry with status pending and returns its ID.
func (s *OutboxStore) Enqueue(e types.OutboxEntry) (int64, error) {
	if e.Status == "" {
		e.Status = types.OutboxPending
	}
	result, err := s.db.conn.Exec(`
		INSERT INTO outbox (account_id, recipient, subject, status)
		VALUES (?, ?, ?, ?)`,
		e.AccountID, e.Recipient, e.Subject, string(e.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueuing outbox entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading outbox entry id: %w", err)
	}
	return id, nil
}

// LoadAll returns every outbox entry for an account, oldest first.
func (s *OutboxStore) LoadAll(accountID string) ([]types.OutboxEntry, error) {
	rows, err := s.db.conn.Queryx(`
		SELECT id, account_id, recipient, subject, status, created_at
		FROM outbox
		WHERE account_id = ?
		ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var entries []types.OutboxEntry
	for rows.Next() {
		var e types.OutboxEntry
		var status string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Recipient, &e.Subject, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		e.Status = types.OutboxStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetStatus moves an entry to a new send-lifecycle status.
func (s *OutboxStore) SetStatus(id int64, status types.OutboxStatus) error {
	_, err := s.db.conn.Exec(
		"UPDATE outbox SET status = ? WHERE id = ?",
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("updating outbox entry %d: %w", id, err)
	}
	return nil
}

// Delete removes an entry from the queue.
func (s *OutboxStore) Delete(id int64) error {
	_, err := s.db.conn.Exec("DELETE FROM outbox WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting outbox entry %d: %w", id, err)
	}
	return nil
}
