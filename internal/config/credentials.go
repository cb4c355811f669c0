package config

import (
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "kestrel"

// Keyring stores account passwords in the platform credential store,
// keyed by account ID.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring, falling back to an encrypted file
// backend under fileDir on platforms without a native store.
func OpenKeyring(fileDir string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("kestrel-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// Password retrieves the stored password for an account.
func (k *Keyring) Password(accountID string) (string, error) {
	item, err := k.ring.Get(accountID)
	if err != nil {
		return "", fmt.Errorf("getting credential for account %s: %w", accountID, err)
	}
	return string(item.Data), nil
}

// SetPassword stores the password for an account.
func (k *Keyring) SetPassword(accountID, password string) error {
	err := k.ring.Set(keyring.Item{
		Key:  accountID,
		Data: []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting credential for account %s: %w", accountID, err)
	}
	return nil
}

// DeletePassword removes the stored password for an account.
func (k *Keyring) DeletePassword(accountID string) error {
	if err := k.ring.Remove(accountID); err != nil {
		return fmt.Errorf("deleting credential for account %s: %w", accountID, err)
	}
	return nil
}
