package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// RemoteFetcher pulls the current header state of one folder from the
// server. The session layer provides the implementation.
type RemoteFetcher interface {
	FetchHeaders(accountID, folder string) ([]types.MessageHeader, error)
}

// HeaderStore persists the message-header cache and reconciles it against
// the server on incremental sync.
type HeaderStore struct {
	db      *DB
	fetcher RemoteFetcher
	logger  *logrus.Logger
}

// NewHeaderStore creates a header store. The fetcher may be nil for
// read-only use; IncrementalSync then fails.
func NewHeaderStore(db *DB, fetcher RemoteFetcher, logger *logrus.Logger) *HeaderStore {
	return &HeaderStore{
		db:      db,
		fetcher: fetcher,
		logger:  logger,
	}
}

// UpsertHeaders inserts or refreshes a batch of headers in one transaction.
func (s *HeaderStore) UpsertHeaders(headers []types.MessageHeader) error {
	if len(headers) == 0 {
		return nil
	}

	tx, err := s.db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO headers (account_id, folder, uid, sender, subject, date, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder, uid) DO UPDATE SET
			sender = excluded.sender,
			subject = excluded.subject,
			date = excluded.date,
			flags = excluded.flags,
			cached_at = CURRENT_TIMESTAMP`

	stmt, err := tx.Preparex(query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, h := range headers {
		flagsJSON, err := json.Marshal(h.Flags)
		if err != nil {
			return fmt.Errorf("encoding flags for uid %d: %w", h.UID, err)
		}
		_, err = stmt.Exec(h.AccountID, h.Folder, h.UID, h.From, h.Subject, h.Date.UTC(), string(flagsJSON))
		if err != nil {
			return fmt.Errorf("upserting header %s/%s/%d: %w", h.AccountID, h.Folder, h.UID, err)
		}
	}

	return tx.Commit()
}

// ListHeaders returns the cached headers of a folder, newest first. A
// non-positive limit returns all rows.
func (s *HeaderStore) ListHeaders(accountID, folder string, limit, offset int) ([]types.MessageHeader, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.conn.Queryx(`
		SELECT account_id, folder, uid, sender, subject, date, flags
		FROM headers
		WHERE account_id = ? AND folder = ?
		ORDER BY date DESC, uid DESC
		LIMIT ? OFFSET ?`,
		accountID, folder, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying headers: %w", err)
	}
	defer rows.Close()

	var headers []types.MessageHeader
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// LoadCachedHeaders reads the folder listing from the cache only; it never
// triggers network activity.
func (s *HeaderStore) LoadCachedHeaders(accountID, folder string, limit, offset int) ([]types.MessageHeader, error) {
	return s.ListHeaders(accountID, folder, limit, offset)
}

// DeleteHeader removes one cached header row.
func (s *HeaderStore) DeleteHeader(accountID, folder string, uid uint32) error {
	_, err := s.db.conn.Exec(
		"DELETE FROM headers WHERE account_id = ? AND folder = ? AND uid = ?",
		accountID, folder, uid,
	)
	if err != nil {
		return fmt.Errorf("deleting header %s/%s/%d: %w", accountID, folder, uid, err)
	}
	return nil
}

// SetFlag adds or removes a flag token on the cached rows for the given
// UIDs, so counters derived from the store see the mutation immediately.
func (s *HeaderStore) SetFlag(accountID, folder string, uids []uint32, flag string, add bool) error {
	if len(uids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		SELECT account_id, folder, uid, sender, subject, date, flags
		FROM headers
		WHERE account_id = ? AND folder = ? AND uid IN (?)`,
		accountID, folder, uids,
	)
	if err != nil {
		return fmt.Errorf("building flag query: %w", err)
	}

	rows, err := s.db.conn.Queryx(query, args...)
	if err != nil {
		return fmt.Errorf("querying headers for flag update: %w", err)
	}
	var headers []types.MessageHeader
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return err
		}
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading headers for flag update: %w", err)
	}

	tx, err := s.db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range headers {
		headers[i].SetFlag(flag, add)
		flagsJSON, err := json.Marshal(headers[i].Flags)
		if err != nil {
			return fmt.Errorf("encoding flags for uid %d: %w", headers[i].UID, err)
		}
		_, err = tx.Exec(
			"UPDATE headers SET flags = ? WHERE account_id = ? AND folder = ? AND uid = ?",
			string(flagsJSON), accountID, folder, headers[i].UID,
		)
		if err != nil {
			return fmt.Errorf("updating flags for uid %d: %w", headers[i].UID, err)
		}
	}

	return tx.Commit()
}

// UnreadCount counts cached headers in a folder that lack the \Seen flag.
// The match is against the complete JSON-encoded token, quotes included, so
// flags that merely share the prefix do not count as read.
func (s *HeaderStore) UnreadCount(accountID, folder string) (int, error) {
	token, err := json.Marshal(types.FlagSeen)
	if err != nil {
		return 0, fmt.Errorf("encoding flag token: %w", err)
	}

	var count int
	err = s.db.conn.Get(&count, `
		SELECT COUNT(*) FROM headers
		WHERE account_id = ? AND folder = ? AND instr(flags, ?) = 0`,
		accountID, folder, string(token),
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread headers: %w", err)
	}
	return count, nil
}

// IncrementalSync reconciles the cached headers of the given folders
// against the server. A nil folder list syncs every folder already present
// in the cache, or INBOX when the cache is empty. Per-folder failures are
// logged and the remaining folders still sync; the first failure is
// returned.
func (s *HeaderStore) IncrementalSync(accountID string, folders []string) error {
	if s.fetcher == nil {
		return fmt.Errorf("incremental sync for account %s: no remote fetcher configured", accountID)
	}

	if len(folders) == 0 {
		cached, err := s.cachedFolders(accountID)
		if err != nil {
			return err
		}
		folders = cached
		if len(folders) == 0 {
			folders = []string{"INBOX"}
		}
	}

	var firstErr error
	for _, folder := range folders {
		if err := s.syncFolder(accountID, folder); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"account": accountID,
				"folder":  folder,
			}).Warn("Failed to sync folder")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

// syncFolder fetches one folder's headers and replaces the cached rows:
// fetched headers are upserted and rows for UIDs the server no longer
// reports are pruned.
func (s *HeaderStore) syncFolder(accountID, folder string) error {
	headers, err := s.fetcher.FetchHeaders(accountID, folder)
	if err != nil {
		return err
	}

	if err := s.UpsertHeaders(headers); err != nil {
		return err
	}

	if len(headers) == 0 {
		_, err := s.db.conn.Exec(
			"DELETE FROM headers WHERE account_id = ? AND folder = ?",
			accountID, folder,
		)
		if err != nil {
			return fmt.Errorf("pruning emptied folder: %w", err)
		}
		return nil
	}

	uids := make([]uint32, len(headers))
	for i, h := range headers {
		uids[i] = h.UID
	}
	query, args, err := sqlx.In(
		"DELETE FROM headers WHERE account_id = ? AND folder = ? AND uid NOT IN (?)",
		accountID, folder, uids,
	)
	if err != nil {
		return fmt.Errorf("building prune query: %w", err)
	}
	if _, err := s.db.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("pruning stale headers: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account": accountID,
		"folder":  folder,
		"count":   len(headers),
	}).Info("Synced folder")
	return nil
}

func (s *HeaderStore) cachedFolders(accountID string) ([]string, error) {
	var folders []string
	err := s.db.conn.Select(&folders,
		"SELECT DISTINCT folder FROM headers WHERE account_id = ?", accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing cached folders: %w", err)
	}
	return folders, nil
}

func scanHeader(rows *sqlx.Rows) (types.MessageHeader, error) {
	var (
		h         types.MessageHeader
		sender    sql.NullString
		subject   sql.NullString
		date      sql.NullTime
		flagsJSON string
	)

	err := rows.Scan(&h.AccountID, &h.Folder, &h.UID, &sender, &subject, &date, &flagsJSON)
	if err != nil {
		return types.MessageHeader{}, fmt.Errorf("scanning header row: %w", err)
	}

	h.From = sender.String
	h.Subject = subject.String
	if date.Valid {
		h.Date = date.Time
	}
	if flagsJSON != "" {
		if err := json.Unmarshal([]byte(flagsJSON), &h.Flags); err != nil {
			return types.MessageHeader{}, fmt.Errorf("decoding flags: %w", err)
		}
	}
	return h, nil
}
