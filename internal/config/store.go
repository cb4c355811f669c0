package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/internal/events"
)

// Fixed keys under which account state is persisted in the settings store.
const (
	KeyAccounts       = "accounts"
	KeyActiveAccounts = "active_accounts"
)

// ErrAccountNotFound is returned when an operation references an account ID
// that is not in the stored list.
var ErrAccountNotFound = errors.New("account not found")

// DecodeError reports malformed persisted configuration. Reads treat it as
// non-fatal and degrade to an empty default.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding setting %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Settings is the key-value persistence surface the store writes through.
type Settings interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Store reads and writes the account list and the active-account set as
// JSON blobs under fixed settings keys. Every successful write broadcasts
// an AccountListChanged event.
type Store struct {
	settings Settings
	bus      *events.Bus
	logger   *logrus.Logger
}

// NewStore creates an account store over the given settings backend.
func NewStore(settings Settings, bus *events.Bus, logger *logrus.Logger) *Store {
	return &Store{
		settings: settings,
		bus:      bus,
		logger:   logger,
	}
}

// Accounts returns the stored account list. Missing or undecodable data
// yields an empty list; the decode failure is logged, never surfaced.
func (s *Store) Accounts() []Account {
	raw, ok, err := s.settings.Get(KeyAccounts)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read stored accounts")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var accounts []Account
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		s.logger.WithError(&DecodeError{Key: KeyAccounts, Err: err}).
			Warn("Discarding undecodable account list")
		return nil
	}
	return accounts
}

// Account looks up a single account by ID.
func (s *Store) Account(id string) (*Account, error) {
	for _, a := range s.Accounts() {
		if a.ID == id {
			acct := a
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
}

// SaveAccounts replaces the stored account list. Records without an ID are
// assigned one.
func (s *Store) SaveAccounts(accounts []Account) error {
	for i := range accounts {
		if accounts[i].ID == "" {
			accounts[i].ID = uuid.New().String()
		}
	}

	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}
	if err := s.settings.Set(KeyAccounts, string(data)); err != nil {
		return fmt.Errorf("storing accounts: %w", err)
	}

	s.bus.Publish(events.Event{Type: events.AccountListChanged})
	return nil
}

// AddAccount appends one account to the stored list and returns the stored
// record (with its assigned ID).
func (s *Store) AddAccount(a Account) (*Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	accounts := append(s.Accounts(), a)
	if err := s.SaveAccounts(accounts); err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAccountIDs returns the set of account IDs currently enabled for
// syncing. Reads are lenient like Accounts.
func (s *Store) ActiveAccountIDs() map[string]bool {
	raw, ok, err := s.settings.Get(KeyActiveAccounts)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read active account set")
		return map[string]bool{}
	}
	if !ok || raw == "" {
		return map[string]bool{}
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.WithError(&DecodeError{Key: KeyActiveAccounts, Err: err}).
			Warn("Discarding undecodable active account set")
		return map[string]bool{}
	}

	active := make(map[string]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}
	return active
}

// SetActiveAccountIDs replaces the active-account set.
func (s *Store) SetActiveAccountIDs(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding active account set: %w", err)
	}
	if err := s.settings.Set(KeyActiveAccounts, string(data)); err != nil {
		return fmt.Errorf("storing active account set: %w", err)
	}

	s.bus.Publish(events.Event{Type: events.AccountListChanged})
	return nil
}
