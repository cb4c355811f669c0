package config

import (
	"time"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// Encryption selects how the transport is secured.
type Encryption string

const (
	EncryptionSSL      Encryption = "ssl"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionNone     Encryption = "none"
)

// Default per-stage timeouts, applied when an account record carries zero.
const (
	defaultConnectTimeout = 15 * time.Second
	defaultCommandTimeout = 30 * time.Second
	defaultIdleTimeout    = 30 * time.Second
)

// Account is one stored mail account record. Operations consume it as a
// read-only snapshot; the password is never part of the record and lives in
// the credential store keyed by account ID.
type Account struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Encryption Encryption `json:"encryption"`
	Username   string     `json:"username"`

	// Folders maps abstract categories to account-specific folder paths.
	Folders map[types.Category]string `json:"folders,omitempty"`

	ConnectTimeoutSecs int `json:"connect_timeout_secs,omitempty"`
	CommandTimeoutSecs int `json:"command_timeout_secs,omitempty"`
	IdleTimeoutSecs    int `json:"idle_timeout_secs,omitempty"`
}

func (a *Account) ConnectTimeout() time.Duration {
	return secondsOr(a.ConnectTimeoutSecs, defaultConnectTimeout)
}

func (a *Account) CommandTimeout() time.Duration {
	return secondsOr(a.CommandTimeoutSecs, defaultCommandTimeout)
}

func (a *Account) IdleTimeout() time.Duration {
	return secondsOr(a.IdleTimeoutSecs, defaultIdleTimeout)
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
