package imap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/pkg/types"
)

// AccountSource yields read-only account snapshots, one per operation.
type AccountSource interface {
	Account(id string) (*config.Account, error)
}

// CredentialSource yields the stored password for an account.
type CredentialSource interface {
	Password(accountID string) (string, error)
}

// SessionManager opens short-lived sessions: one operation or one batch
// group per session, torn down on every exit path.
type SessionManager struct {
	dialer   Dialer
	accounts AccountSource
	creds    CredentialSource
	logger   *logrus.Logger
}

// NewSessionManager creates a session manager. A nil dialer falls back to
// the network transport.
func NewSessionManager(dialer Dialer, accounts AccountSource, creds CredentialSource, logger *logrus.Logger) *SessionManager {
	if dialer == nil {
		dialer = NetDialer{}
	}
	return &SessionManager{
		dialer:   dialer,
		accounts: accounts,
		creds:    creds,
		logger:   logger,
	}
}

// WithSession resolves the account, opens and authenticates a connection,
// selects the folder (EXAMINE when readOnly), runs work, then logs out
// best-effort. The transport is closed on every exit path. Any stage
// failure aborts the remaining stages and propagates typed.
func (m *SessionManager) WithSession(accountID, folder string, readOnly bool, work func(*Session) error) error {
	acct, err := m.accounts.Account(accountID)
	if err != nil {
		return err
	}

	conn, err := m.dialer.Dial(DialConfig{
		Host:           acct.Host,
		Port:           acct.Port,
		TLS:            acct.Encryption == config.EncryptionSSL,
		SNIHost:        acct.Host,
		ConnectTimeout: acct.ConnectTimeout(),
		CommandTimeout: acct.CommandTimeout(),
	})
	if err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("connecting to %s:%d", acct.Host, acct.Port), Err: err}
	}
	defer conn.Close()

	sess := &Session{
		conn:        conn,
		idleTimeout: acct.IdleTimeout(),
		logger: m.logger.WithFields(logrus.Fields{
			"account": acct.Name,
			"folder":  folder,
		}),
	}

	if err := sess.greeting(); err != nil {
		return err
	}
	if acct.Encryption == config.EncryptionStartTLS {
		if err := sess.StartTLS(acct.Host); err != nil {
			return err
		}
	}

	password, err := m.creds.Password(accountID)
	if err != nil || password == "" {
		return &AuthError{Reason: "no stored credential for " + acct.Username, Err: err}
	}
	if err := sess.Login(acct.Username, password); err != nil {
		return err
	}

	if readOnly {
		err = sess.Examine(folder)
	} else {
		err = sess.Select(folder)
	}
	if err != nil {
		return err
	}

	if err := work(sess); err != nil {
		return err
	}

	if err := sess.Logout(); err != nil {
		sess.logger.WithError(err).Debug("Logout failed")
	}
	return nil
}

// StoreFlags opens one session and issues a single mutate-flags command
// covering all given UIDs.
func (m *SessionManager) StoreFlags(accountID, folder string, uids []uint32, flag string, add bool) error {
	return m.WithSession(accountID, folder, false, func(s *Session) error {
		return s.StoreFlags(uids, flag, add)
	})
}

// DeleteMessages flags the given UIDs \Deleted and then compacts
// best-effort. The compaction outcome never surfaces; the deletion mark is
// already on the server when it runs.
func (m *SessionManager) DeleteMessages(accountID, folder string, uids []uint32) error {
	return m.WithSession(accountID, folder, false, func(s *Session) error {
		if err := s.StoreFlags(uids, types.FlagDeleted, true); err != nil {
			return err
		}
		s.ExpungeDeleted(uids)
		return nil
	})
}

// FetchHeaders pulls the current header state of a folder in a read-only
// session.
func (m *SessionManager) FetchHeaders(accountID, folder string) ([]types.MessageHeader, error) {
	var headers []types.MessageHeader
	err := m.WithSession(accountID, folder, true, func(s *Session) error {
		fetched, err := s.FetchHeaders()
		if err != nil {
			return err
		}
		headers = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range headers {
		headers[i].AccountID = accountID
		headers[i].Folder = folder
	}
	return headers, nil
}

// ListMailboxes returns the mailbox names the server advertises for an
// account.
func (m *SessionManager) ListMailboxes(accountID string) ([]string, error) {
	var names []string
	err := m.WithSession(accountID, "INBOX", true, func(s *Session) error {
		listed, err := s.ListMailboxes()
		if err != nil {
			return err
		}
		names = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
