package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"pinvault/internal/config"
	"pinvault/internal/pv"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.SecretStore.Type = "memory"
	cfg.KDF = config.KDFConfig{Type: "argon2id", Time: 1, MemoryKiB: 64, Threads: 1}
	return cfg
}

func newTestApp(t *testing.T) *PVApp {
	t.Helper()
	a, err := NewPVApp(newTestConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewPVApp_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.Config)
	}{
		{"max attempts", func(c *config.Config) { c.Session.MaxAttempts = 0 }},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.edit(cfg)
			_, err := NewPVApp(cfg, "test")
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestNewPVApp_UnknownBackends(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.Config)
	}{
		{"secret store", func(c *config.Config) { c.SecretStore.Type = "vault" }},
		{"kdf", func(c *config.Config) { c.KDF.Type = "scrypt" }},
		{"biometric", func(c *config.Config) { c.Biometric.Type = "face" }},
		{"database", func(c *config.Config) { c.Database.Type = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.edit(cfg)
			_, err := NewPVApp(cfg, "test")
			assert.Error(t, err)
		})
	}
}

func TestPVApp_Workflow(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	require.Equal(t, pv.StateNeedsSetup, a.Status().State)
	require.NoError(t, a.Setup("2468"))
	_, err := a.List(ctx, "")
	require.ErrorIs(t, err, pv.ErrLocked)
	require.NoError(t, a.Unlock(ctx, "2468"))

	c, err := a.Add(ctx, pv.CredentialInput{Service: "Gmail", Username: "user@gmail.com", Password: "s3cret!!"})
	require.NoError(t, err)
	_, err = a.Add(ctx, pv.CredentialInput{Service: "GitHub", Username: "octocat", Password: "passw0rd"})
	require.NoError(t, err)
	_, err = a.Add(ctx, pv.CredentialInput{Service: "Short", Username: "u", Password: "pw"})
	require.ErrorIs(t, err, pv.ErrInvalidCredential)

	list, err := a.List(ctx, "gmail")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s3cret!!", list[0].Password)

	notes := "work"
	_, err = a.Edit(ctx, c.ID, pv.CredentialPatch{Notes: &notes})
	require.NoError(t, err)
	got, err := a.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", got.Notes)

	require.NoError(t, a.ChangePIN(ctx, "2468", "13579"))
	a.Lock()
	require.NoError(t, a.Unlock(ctx, "13579"), "unlock with the new PIN")

	require.NoError(t, a.Remove(ctx, c.ID))
	list, err = a.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, a.Reset(ctx))
	assert.Equal(t, pv.StateNeedsSetup, a.Status().State)
}

func TestPVApp_BiometricUnsupported(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	unavailable := &pv.BiometricError{Kind: pv.BiometricUnavailable}
	require.NoError(t, a.Setup("2468"))
	require.NoError(t, a.Unlock(ctx, "2468"))

	assert.ErrorIs(t, a.EnableBiometric(ctx), unavailable)
	assert.False(t, a.Status().BiometricEnabled)
	require.NoError(t, a.DisableBiometric(ctx))

	a.Lock()
	assert.ErrorIs(t, a.UnlockBiometric(ctx), unavailable)
}

func TestPVApp_PersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.SecretStore.Type = "keyring"
	cfg.SecretStore.Service = "pinvault-test-" + strings.ReplaceAll(t.Name(), "/", "-")
	keyring.MockInit()

	a, err := NewPVApp(cfg, "first")
	require.NoError(t, err)
	require.NoError(t, a.Setup("2468"))
	require.NoError(t, a.Unlock(ctx, "2468"))
	_, err = a.Add(ctx, pv.CredentialInput{Service: "Gmail", Username: "u", Password: "s3cret!!"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := NewPVApp(cfg, "second")
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, pv.StateLocked, b.Status().State)
	require.NoError(t, b.Unlock(ctx, "2468"))
	list, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s3cret!!", list[0].Password)

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	require.NoError(t, err, "log file written")
	assert.Contains(t, string(data), "-first msg=\"app started\"")
	assert.Contains(t, string(data), "-second msg=\"app started\"")
	assert.NotContains(t, string(data), "s3cret!!")
}

func TestPVApp_AutoLock(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Session.AutoLock = config.Duration{Duration: 50 * time.Millisecond}

	a, err := NewPVApp(cfg, "test")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Setup("2468"))
	require.NoError(t, a.Unlock(ctx, "2468"))

	assert.Eventually(t, func() bool { return !a.Session().IsUnlocked() }, 5*time.Second, 10*time.Millisecond,
		"session still unlocked after auto-lock window")
}
