package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:     "/home/user/.local/share/pinvault",
		LogDir:      "/home/user/.local/share/pinvault/log",
		LogLevel:    "debug",
		SecretStore: SecretStoreConfig{Type: "memory", Service: "pv-test"},
		Database:    DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/pinvault/db"},
		Session: SessionConfig{
			AutoLock:        Duration{45 * time.Second},
			MaxAttempts:     5,
			LockoutCooldown: Duration{2 * time.Minute},
			MinPINLength:    6,
		},
		KDF:       KDFConfig{Type: "argon2id", Time: 2, MemoryKiB: 1024, Threads: 1},
		Biometric: BiometricConfig{Type: "none"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	require.NoError(t, m.Write(&buf, original))
	assert.Contains(t, buf.String(), `auto_lock = "45s"`)

	got, err := m.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	got, err := m.Read(strings.NewReader("base_dir = \"/data\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", got.LogLevel)
	assert.Equal(t, SecretStoreConfig{Type: "keyring", Service: DefaultService}, got.SecretStore)
	assert.Equal(t, DefaultAutoLock, got.Session.AutoLock.Duration)
	assert.Equal(t, DefaultMaxAttempts, got.Session.MaxAttempts)
	assert.Equal(t, DefaultLockoutCooldown, got.Session.LockoutCooldown.Duration)
	assert.Equal(t, KDFConfig{Type: "argon2id", Time: 3, MemoryKiB: 64 * 1024, Threads: 2}, got.KDF)
	assert.Equal(t, "none", got.Biometric.Type)
}

func TestManager_Read_KeepsDisabledAutoLock(t *testing.T) {
	m := &Manager{}
	got, err := m.Read(strings.NewReader("[session]\nauto_lock = \"0s\"\n"))
	require.NoError(t, err)
	assert.Zero(t, got.Session.AutoLock.Duration)
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[session]\nauto_lock = \"soon\"\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "auto-lock disabled", mutate: func(c *Config) { c.Session.AutoLock = Duration{} }},
		{name: "negative auto-lock", mutate: func(c *Config) { c.Session.AutoLock = Duration{-time.Second} }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Session.MaxAttempts = 0 }, wantErr: true},
		{name: "zero cooldown", mutate: func(c *Config) { c.Session.LockoutCooldown = Duration{} }, wantErr: true},
		{name: "short pin", mutate: func(c *Config) { c.Session.MinPINLength = 3 }, wantErr: true},
		{name: "long pin", mutate: func(c *Config) { c.Session.MinPINLength = 13 }, wantErr: true},
		{name: "warn level", mutate: func(c *Config) { c.LogLevel = "warn" }},
		{name: "unknown level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Level(t *testing.T) {
	cfg := NewConfig("/data")
	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)

	cfg.LogLevel = "DEBUG"
	l, err = cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/pinvault")

	assert.Equal(t, "/data/pinvault", cfg.BaseDir)
	assert.Equal(t, "/data/pinvault/log", cfg.LogDir)
	assert.Equal(t, DatabaseConfig{Type: "sqlite", DataDir: "/data/pinvault/db"}, cfg.Database)
	assert.Equal(t, "keyring", cfg.SecretStore.Type)
	assert.Equal(t, DefaultAutoLock, cfg.Session.AutoLock.Duration)
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pinvault.toml")

		require.NoError(t, Init(path, NewConfig(dir)))

		info, err := os.Stat(path)
		require.NoError(t, err, "config file not created")
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pinvault.toml")
		cfg := NewConfig(dir)

		require.NoError(t, Init(path, cfg))
		assert.ErrorContains(t, Init(path, cfg), "already exists")
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pinvault.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		require.NoError(t, Init(path, cfg))

		got, err := ReadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "memory", got.Database.Type)
		assert.Equal(t, dir, got.BaseDir)
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/pinvault.toml")
		assert.Error(t, err)
	})
}
