package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kirsle/configdir"

	"github.com/waabox/devicelink/internal/auth"
)

// GitHubConfig identifies the OAuth app and the GitHub instance to talk to.
// BaseURL and APIURL are empty for github.com.
type GitHubConfig struct {
	ClientID string `toml:"client_id"`
	Scope    string `toml:"scope"`
	BaseURL  string `toml:"base_url"`
	APIURL   string `toml:"api_url"`
}

// PollingConfig overrides the poller's limits. Zero values keep the defaults.
type PollingConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxAttempts     int `toml:"max_attempts"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

// StoreConfig selects where the token is persisted.
type StoreConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	Service string `toml:"service"`
}

// BridgeConfig locates the daemon socket.
type BridgeConfig struct {
	Socket string `toml:"socket"`
}

// LogConfig controls the logger built at startup.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Config holds all devicelink configuration.
type Config struct {
	GitHub  GitHubConfig  `toml:"github"`
	Polling PollingConfig `toml:"polling"`
	Store   StoreConfig   `toml:"store"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Log     LogConfig     `toml:"log"`
}

const (
	appName        = "devicelink"
	defaultService = "devicelink"
	defaultLevel   = "info"
)

// PollerConfig converts the polling section into auth.PollerConfig.
func (c Config) PollerConfig() auth.PollerConfig {
	return auth.PollerConfig{
		MinInterval: time.Duration(c.Polling.IntervalSeconds) * time.Second,
		MaxAttempts: c.Polling.MaxAttempts,
		Timeout:     time.Duration(c.Polling.TimeoutSeconds) * time.Second,
	}
}

// StoreServiceOrDefault returns the keyring service name.
func (c Config) StoreServiceOrDefault() string {
	if c.Store.Service != "" {
		return c.Store.Service
	}
	return defaultService
}

// SocketPathOrDefault returns the daemon socket path, under the user cache directory when unset.
func (c Config) SocketPathOrDefault() string {
	if c.Bridge.Socket != "" {
		return c.Bridge.Socket
	}
	return filepath.Join(configdir.LocalCache(appName), "daemon.sock")
}

// LogLevelOrDefault returns Log.Level if set, otherwise "info".
func (c Config) LogLevelOrDefault() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	return defaultLevel
}

// Validate reports configuration that makes connecting impossible.
func (c Config) Validate() error {
	if c.GitHub.ClientID == "" {
		return fmt.Errorf("github.client_id is not set (config file or DEVICELINK_CLIENT_ID)")
	}
	switch c.Store.Backend {
	case "", "file", "keyring":
	default:
		return fmt.Errorf("unknown store.backend %q (want file or keyring)", c.Store.Backend)
	}
	if c.Polling.IntervalSeconds < 0 || c.Polling.MaxAttempts < 0 || c.Polling.TimeoutSeconds < 0 {
		return fmt.Errorf("polling values must not be negative")
	}
	return nil
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - DEVICELINK_CLIENT_ID  overrides github.client_id
//   - DEVICELINK_SCOPE      overrides github.scope
//   - DEVICELINK_GITHUB_URL overrides github.base_url
//   - DEVICELINK_API_URL    overrides github.api_url
//   - DEVICELINK_STORE      overrides store.backend
//   - DEVICELINK_SOCKET     overrides bridge.socket
//   - DEVICELINK_LOG_LEVEL  overrides log.level
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the devicelink config file.
func DefaultConfigPath() string {
	return filepath.Join(configdir.LocalConfig(appName), "config.toml")
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"DEVICELINK_CLIENT_ID", &cfg.GitHub.ClientID},
		{"DEVICELINK_SCOPE", &cfg.GitHub.Scope},
		{"DEVICELINK_GITHUB_URL", &cfg.GitHub.BaseURL},
		{"DEVICELINK_API_URL", &cfg.GitHub.APIURL},
		{"DEVICELINK_STORE", &cfg.Store.Backend},
		{"DEVICELINK_SOCKET", &cfg.Bridge.Socket},
		{"DEVICELINK_LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
