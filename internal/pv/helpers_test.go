package pv_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pinvault/internal/database"
	"pinvault/internal/encryption"
	"pinvault/internal/pv"
	"pinvault/internal/secretstore"
	"pinvault/internal/testutil"
)

const (
	testPIN  = "1234"
	wrongPIN = "9999"
)

// env wires a Session and Vault over in-memory backends.
type env struct {
	t       *testing.T
	store   *secretstore.MemoryStore
	db      *database.SQLiteDatabase
	clock   *testutil.StubClock
	bio     *testutil.StubAuthenticator
	kdf     pv.KeyDeriver
	cfg     pv.SessionConfig
	session *pv.Session
	vault   *pv.Vault
}

type envOption func(*env)

func withKDF(kdf pv.KeyDeriver) envOption {
	return func(e *env) { e.kdf = kdf }
}

func withConfig(cfg pv.SessionConfig) envOption {
	return func(e *env) { e.cfg = cfg }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := &env{
		t:     t,
		store: secretstore.NewMemoryStore(),
		db:    testutil.NewTestDatabase(t),
		clock: testutil.FixedClock(),
		bio:   testutil.NewStubAuthenticator(),
		kdf:   testutil.FastKDF(),
		cfg:   pv.DefaultSessionConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.session = e.open()
	return e
}

// open builds a new Session over the env's store, as after a restart, and
// points the vault at it.
func (e *env) open() *pv.Session {
	e.t.Helper()
	s, err := pv.NewSession(e.store, e.kdf, encryption.NewAgeKeyWrapper(), e.bio, e.clock, pv.NewNopLogger(), e.cfg)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { s.Close() })
	e.vault = pv.NewVault(e.db, s, encryption.NewXChaChaCipher(), e.clock, testutil.NewStubIDGenerator(), pv.NewNopLogger())
	return s
}

// restart closes the current session and opens a new one.
func (e *env) restart() {
	e.t.Helper()
	require.NoError(e.t, e.session.Close())
	e.session = e.open()
}

// unlocked returns an env that is set up with testPIN and unlocked.
func unlocked(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := newEnv(t, opts...)
	require.NoError(t, e.session.CompleteSetup(testPIN))
	require.NoError(t, e.session.UnlockWithPIN(context.Background(), testPIN))
	return e
}

// recorder collects transitions published by a session.
type recorder struct {
	mu     sync.Mutex
	events []pv.Transition
}

func record(s *pv.Session) (*recorder, func()) {
	r := &recorder{}
	stop := s.Subscribe(func(tr pv.Transition) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, tr)
	})
	return r, stop
}

func (r *recorder) reasons() []pv.TransitionReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pv.TransitionReason, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Reason
	}
	return out
}

func requireAuthError(t *testing.T, err error, kind pv.AuthErrorKind) *pv.AuthError {
	t.Helper()
	var ae *pv.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, kind, ae.Kind, "AuthError kind")
	return ae
}

func requireBiometricError(t *testing.T, err error, kind pv.BiometricErrorKind) {
	t.Helper()
	var be *pv.BiometricError
	require.ErrorAs(t, err, &be)
	require.Equal(t, kind, be.Kind, "BiometricError kind")
}

func ptr[T any](v T) *T { return &v }
