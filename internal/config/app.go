package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// App is the top-level application configuration, read from an optional
// config file with KESTREL_-prefixed environment overrides.
type App struct {
	CachePath      string `mapstructure:"cache_path"`
	CredentialDir  string `mapstructure:"credential_dir"`
	LogLevel       string `mapstructure:"log_level"`
	PageSize       int    `mapstructure:"page_size"`
	SyncPacingSecs int    `mapstructure:"sync_pacing_secs"`
}

// DefaultConfigPath returns ~/.config/kestrel/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kestrel")
}

// LoadApp reads the application configuration. A missing config file is not
// an error; defaults apply.
func LoadApp(path string) (*App, error) {
	v := viper.New()
	v.SetDefault("cache_path", filepath.Join(configDir(), "cache.db"))
	v.SetDefault("credential_dir", filepath.Join(configDir(), "credentials"))
	v.SetDefault("log_level", "info")
	v.SetDefault("page_size", 200)
	v.SetDefault("sync_pacing_secs", 2)
	v.SetEnvPrefix("KESTREL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("reading config file: %w", err)
				}
			}
		}
	}

	var app App
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &app, nil
}
