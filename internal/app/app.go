package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"pinvault/internal/biometric"
	"pinvault/internal/config"
	"pinvault/internal/database"
	"pinvault/internal/encryption"
	"pinvault/internal/pv"
	"pinvault/internal/secretstore"
)

// PVApp is the application layer between the CLI and the session and vault.
// It constructs all dependencies from config, exposes the operations the
// CLI needs, and owns the lifecycle of the database and log file.
type PVApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	session *pv.Session
	vault   *pv.Vault
	logger  pv.Logger
	logFile *os.File
}

// NewPVApp creates a fully wired PVApp from the given config.
// command identifies the CLI command being run and is logged with each line.
// The caller must call Close when done.
func NewPVApp(cfg *config.Config, command string) (*PVApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := secretstore.NewSecretStoreFromConfig(cfg.SecretStore)
	if err != nil {
		return nil, fmt.Errorf("creating secret store: %w", err)
	}

	kdf, err := encryption.NewKeyDeriverFromConfig(cfg.KDF)
	if err != nil {
		return nil, fmt.Errorf("creating key deriver: %w", err)
	}

	bio, err := biometric.NewAuthenticatorFromConfig(cfg.Biometric)
	if err != nil {
		return nil, fmt.Errorf("creating biometric authenticator: %w", err)
	}

	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + command
	logger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	session, err := pv.NewSession(store, kdf, encryption.NewAgeKeyWrapper(), bio, pv.RealClock{}, log, sessionConfig(cfg.Session))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("opening session: %w", err)
	}

	vault := pv.NewVault(db, session, encryption.NewXChaChaCipher(), pv.RealClock{}, pv.UUIDGenerator{}, log)
	log.Info("app started", "command", command, "secret_store", cfg.SecretStore.Type, "database", cfg.Database.Type)

	return &PVApp{
		cfg:     cfg,
		db:      db,
		session: session,
		vault:   vault,
		logger:  log,
		logFile: logFile,
	}, nil
}

func sessionConfig(c config.SessionConfig) pv.SessionConfig {
	return pv.SessionConfig{
		AutoLockTimeout: c.AutoLock.Duration,
		MaxAttempts:     c.MaxAttempts,
		LockoutCooldown: c.LockoutCooldown.Duration,
		MinPINLength:    c.MinPINLength,
	}
}

// Session returns the authentication session, for callers that drive
// activity, pause and background notifications directly.
func (a *PVApp) Session() *pv.Session {
	return a.session
}

// Status returns a snapshot of the session.
func (a *PVApp) Status() pv.SessionStatus {
	return a.session.Status()
}

// Setup creates the master secret for pin. The session stays locked.
func (a *PVApp) Setup(pin string) error {
	return a.session.CompleteSetup(pin)
}

// Unlock unlocks with pin.
func (a *PVApp) Unlock(ctx context.Context, pin string) error {
	return a.session.UnlockWithPIN(ctx, pin)
}

// UnlockBiometric unlocks with a biometric check.
func (a *PVApp) UnlockBiometric(ctx context.Context) error {
	return a.session.UnlockWithBiometric(ctx)
}

// Lock locks the session.
func (a *PVApp) Lock() {
	a.session.Lock()
}

// List returns credentials matching filter, newest first. An empty filter
// returns everything.
func (a *PVApp) List(ctx context.Context, filter string) ([]*pv.Credential, error) {
	a.session.NotifyActivity()
	if filter == "" {
		return a.vault.List(ctx)
	}
	return a.vault.Search(ctx, filter)
}

// Get returns one credential by id.
func (a *PVApp) Get(ctx context.Context, id string) (*pv.Credential, error) {
	a.session.NotifyActivity()
	return a.vault.Get(ctx, id)
}

// Add stores a new credential.
func (a *PVApp) Add(ctx context.Context, in pv.CredentialInput) (*pv.Credential, error) {
	a.session.NotifyActivity()
	return a.vault.Create(ctx, in)
}

// Edit applies patch to the credential with id.
func (a *PVApp) Edit(ctx context.Context, id string, patch pv.CredentialPatch) (*pv.Credential, error) {
	a.session.NotifyActivity()
	return a.vault.Update(ctx, id, patch)
}

// Remove deletes the credential with id.
func (a *PVApp) Remove(ctx context.Context, id string) error {
	a.session.NotifyActivity()
	return a.vault.Delete(ctx, id)
}

// EnableBiometric opts in to biometric unlock.
func (a *PVApp) EnableBiometric(ctx context.Context) error {
	return a.session.EnableBiometric(ctx)
}

// DisableBiometric removes the biometric opt-in.
func (a *PVApp) DisableBiometric(ctx context.Context) error {
	return a.session.DisableBiometric(ctx)
}

// ChangePIN replaces the master PIN and re-encrypts every credential.
func (a *PVApp) ChangePIN(ctx context.Context, current, next string) error {
	return a.session.ChangePIN(ctx, current, next, a.vault)
}

// Reset erases every credential and the master secret.
func (a *PVApp) Reset(ctx context.Context) error {
	return a.session.Reset(ctx, a.vault)
}

// Close locks the session and closes all resources.
func (a *PVApp) Close() error {
	var firstErr error

	if err := a.session.Close(); err != nil {
		firstErr = fmt.Errorf("closing session: %w", err)
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("app closed")
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
