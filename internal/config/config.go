package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pinvault.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level"` // "debug", "info", "warn" or "error"
	SecretStore SecretStoreConfig `toml:"secret_store"`
	Database    DatabaseConfig    `toml:"database"`
	Session     SessionConfig     `toml:"session"`
	KDF         KDFConfig         `toml:"kdf"`
	Biometric   BiometricConfig   `toml:"biometric"`
}

// SecretStoreConfig selects where the master secret and flags are kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SecretStoreConfig struct {
	Type    string `toml:"type"`              // "keyring" or "memory"
	Service string `toml:"service,omitempty"` // keyring namespace, only used for type=keyring
}

// DatabaseConfig represents configuration for the credential database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SessionConfig holds the lock policy.
type SessionConfig struct {
	AutoLock        Duration `toml:"auto_lock"`        // inactivity window; "0s" disables auto-lock
	MaxAttempts     int      `toml:"max_attempts"`     // failed PINs before lockout
	LockoutCooldown Duration `toml:"lockout_cooldown"` // how long a lockout lasts
	MinPINLength    int      `toml:"min_pin_length"`
}

// KDFConfig holds the Argon2id cost parameters.
type KDFConfig struct {
	Type      string `toml:"type"` // "argon2id" (default)
	Time      uint32 `toml:"time"`
	MemoryKiB uint32 `toml:"memory_kib"`
	Threads   uint8  `toml:"threads"`
}

// BiometricConfig selects the biometric authenticator.
type BiometricConfig struct {
	Type string `toml:"type"` // "none" (default)
}

// Duration is a time.Duration stored in TOML as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

const (
	DefaultService         = "pinvault"
	DefaultAutoLock        = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultLockoutCooldown = 30 * time.Second
	DefaultMinPINLength    = 4
)

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		SecretStore: SecretStoreConfig{
			Type:    "keyring",
			Service: DefaultService,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Session: SessionConfig{
			AutoLock:        Duration{DefaultAutoLock},
			LockoutCooldown: Duration{DefaultLockoutCooldown},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in settings left empty in a config file. AutoLock is
// not touched since "0s" is meaningful; Read defaults it only when absent.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SecretStore.Type == "" {
		c.SecretStore.Type = "keyring"
	}
	if c.SecretStore.Service == "" {
		c.SecretStore.Service = DefaultService
	}
	if c.Session.MaxAttempts == 0 {
		c.Session.MaxAttempts = DefaultMaxAttempts
	}
	if c.Session.LockoutCooldown.Duration == 0 {
		c.Session.LockoutCooldown = Duration{DefaultLockoutCooldown}
	}
	if c.Session.MinPINLength == 0 {
		c.Session.MinPINLength = DefaultMinPINLength
	}
	if c.KDF.Type == "" {
		c.KDF.Type = "argon2id"
	}
	if c.KDF.Time == 0 {
		c.KDF.Time = 3
	}
	if c.KDF.MemoryKiB == 0 {
		c.KDF.MemoryKiB = 64 * 1024
	}
	if c.KDF.Threads == 0 {
		c.KDF.Threads = 2
	}
	if c.Biometric.Type == "" {
		c.Biometric.Type = "none"
	}
}

// Validate checks the lock policy for values that would weaken or break it,
// and the log level.
func (c *Config) Validate() error {
	s := c.Session
	if s.AutoLock.Duration < 0 {
		return fmt.Errorf("session.auto_lock must not be negative")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1")
	}
	if s.LockoutCooldown.Duration <= 0 {
		return fmt.Errorf("session.lockout_cooldown must be positive")
	}
	if s.MinPINLength < 4 || s.MinPINLength > 12 {
		return fmt.Errorf("session.min_pin_length must be between 4 and 12")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if !md.IsDefined("session", "auto_lock") {
		cfg.Session.AutoLock = Duration{DefaultAutoLock}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
