// Package config reads and writes the global ~/.lensdm/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a TOML string such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.lensdm/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Account        Account   `toml:"account"`
	Network        Network   `toml:"network"`
	Ingestion      Ingestion `toml:"ingestion"`
	Daemon         Daemon    `toml:"daemon"`
}

// Account is the signed-in profile.
type Account struct {
	ProfileID string `toml:"profile_id"`
	Address   string `toml:"address"`
}

// Network locates the remote collaborators.
type Network struct {
	MessagingURL   string   `toml:"messaging_url"`
	DirectoryURL   string   `toml:"directory_url"`
	NamingURL      string   `toml:"naming_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Ingestion bounds the progressive fetch.
type Ingestion struct {
	BatchTimeout Duration `toml:"batch_timeout"`
	MaxAttempts  int      `toml:"max_attempts"`
	BaseBackoff  Duration `toml:"base_backoff"`
	MaxBackoff   Duration `toml:"max_backoff"`
}

// Daemon configures the per-session daemon.
type Daemon struct {
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string   `toml:"metrics_addr"`
	PersistTab  bool     `toml:"persist_tab"`
	AuthTimeout Duration `toml:"auth_timeout"`
	// LogLevel is a zap level name; empty means info.
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used for missing values.
func Default() *Config {
	return &Config{
		Network: Network{
			MessagingURL:   "http://127.0.0.1:8700",
			DirectoryURL:   "http://127.0.0.1:8701",
			NamingURL:      "http://127.0.0.1:8702",
			RequestTimeout: Duration{10 * time.Second},
		},
		Ingestion: Ingestion{
			BatchTimeout: Duration{15 * time.Second},
			MaxAttempts:  5,
			BaseBackoff:  Duration{500 * time.Millisecond},
			MaxBackoff:   Duration{30 * time.Second},
		},
		Daemon: Daemon{
			AuthTimeout: Duration{2 * time.Minute},
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads path and fills every missing value from Default. A
// missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	setString(&c.Network.MessagingURL, d.Network.MessagingURL)
	setString(&c.Network.DirectoryURL, d.Network.DirectoryURL)
	setString(&c.Network.NamingURL, d.Network.NamingURL)
	setDuration(&c.Network.RequestTimeout, d.Network.RequestTimeout)
	setDuration(&c.Ingestion.BatchTimeout, d.Ingestion.BatchTimeout)
	setDuration(&c.Ingestion.BaseBackoff, d.Ingestion.BaseBackoff)
	setDuration(&c.Ingestion.MaxBackoff, d.Ingestion.MaxBackoff)
	setDuration(&c.Daemon.AuthTimeout, d.Daemon.AuthTimeout)
	if c.Ingestion.MaxAttempts == 0 {
		c.Ingestion.MaxAttempts = d.Ingestion.MaxAttempts
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDuration(v *Duration, def Duration) {
	if v.Duration == 0 {
		*v = def
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Ingestion.MaxAttempts < 1 {
		return fmt.Errorf("ingestion.max_attempts must be at least 1, got %d", c.Ingestion.MaxAttempts)
	}
	if c.Ingestion.MaxBackoff.Duration < c.Ingestion.BaseBackoff.Duration {
		return fmt.Errorf("ingestion.max_backoff (%s) is below base_backoff (%s)", c.Ingestion.MaxBackoff, c.Ingestion.BaseBackoff)
	}
	for name, d := range map[string]Duration{
		"network.request_timeout": c.Network.RequestTimeout,
		"ingestion.batch_timeout": c.Ingestion.BatchTimeout,
		"daemon.auth_timeout":     c.Daemon.AuthTimeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
