package pv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/semaphore"
)

// Secret store keys.
const (
	MasterSecretKey        = "masterSecretHash"
	AuthAttemptsKey        = "authAttempts"
	BiometricEnabledKey    = "biometricEnabled"
	BiometricRecipientKey  = "biometricRecipient"
	BiometricWrappedKeyKey = "biometricWrappedKey"
)

// MaxPINLength bounds the PIN accepted at setup and change.
const MaxPINLength = 12

// SessionState is the authentication state.
type SessionState int

const (
	StateNeedsSetup SessionState = iota + 1
	StateLocked
	StateUnlocked
	StateLockedOut
)

func (s SessionState) String() string {
	switch s {
	case StateNeedsSetup:
		return "needs-setup"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateLockedOut:
		return "locked-out"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// TransitionReason names what caused a state change.
type TransitionReason string

const (
	ReasonSetup          TransitionReason = "setup"
	ReasonPIN            TransitionReason = "pin"
	ReasonBiometric      TransitionReason = "biometric"
	ReasonExplicit       TransitionReason = "explicit"
	ReasonTimeout        TransitionReason = "timeout"
	ReasonBackground     TransitionReason = "background"
	ReasonLockout        TransitionReason = "lockout"
	ReasonLockoutExpired TransitionReason = "lockout-expired"
	ReasonReset          TransitionReason = "reset"
	ReasonClosed         TransitionReason = "closed"
)

// Transition is delivered to subscribers after every state change.
type Transition struct {
	From   SessionState
	To     SessionState
	Reason TransitionReason
	At     time.Time
}

// SessionConfig holds the session's policy knobs.
type SessionConfig struct {
	AutoLockTimeout time.Duration
	MaxAttempts     int
	LockoutCooldown time.Duration
	MinPINLength    int
}

// DefaultSessionConfig returns the stock policy: 30s auto-lock, lockout after
// 3 failures for 30s, 4-digit minimum PIN.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AutoLockTimeout: 30 * time.Second,
		MaxAttempts:     3,
		LockoutCooldown: 30 * time.Second,
		MinPINLength:    4,
	}
}

// SessionStatus is a point-in-time snapshot of the session.
type SessionStatus struct {
	State            SessionState
	Attempts         int
	LockedUntil      time.Time
	AutoLockDeadline time.Time
	AutoLockPaused   bool
	BiometricEnabled bool
}

// Rekeyer re-encrypts stored credentials from one WorkingKey to another.
// commit runs inside the rekey transaction; if it fails nothing changes.
type Rekeyer interface {
	Rekey(ctx context.Context, oldKey, newKey []byte, commit func() error) error
}

// Resetter discards every stored credential.
type Resetter interface {
	Reset(ctx context.Context) error
}

type masterSecret struct {
	Hash []byte `json:"hash"`
	Salt []byte `json:"salt"`
}

type attemptRecord struct {
	Attempts    int       `json:"attempts"`
	LockedUntil time.Time `json:"lockedUntil,omitzero"`
}

// Session is the authentication state machine. It owns the WorkingKey for
// as long as it is unlocked and is the only way to reach it.
//
// State changes happen under mu. Key derivation and biometric prompts run
// outside mu; the unlocking semaphore keeps them from overlapping.
type Session struct {
	store   SecretStore
	kdf     KeyDeriver
	wrapper KeyWrapper
	bio     BiometricAuthenticator
	clock   Clock
	logger  Logger
	cfg     SessionConfig

	unlocking *semaphore.Weighted
	autoLock  *AutoLockTimer

	mu           sync.RWMutex
	state        SessionState
	master       *masterSecret
	attempts     int
	lockedUntil  time.Time
	lockoutTimer Timer
	key          *memguard.LockedBuffer
	epoch        uint64
	background   bool
	bioEnabled   bool
	closed       bool
	pending      []Transition

	subsMu  sync.Mutex
	subs    map[int]func(Transition)
	nextSub int
}

// NewSession loads the master secret and attempt record from store to decide
// the initial state. A store failure is returned as a *StorageError and is
// never taken to mean "not set up".
func NewSession(store SecretStore, kdf KeyDeriver, wrapper KeyWrapper, bio BiometricAuthenticator, clock Clock, logger Logger, cfg SessionConfig) (*Session, error) {
	s := &Session{
		store:     store,
		kdf:       kdf,
		wrapper:   wrapper,
		bio:       bio,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		unlocking: semaphore.NewWeighted(1),
		subs:      make(map[int]func(Transition)),
	}
	s.autoLock = NewAutoLockTimer(clock, s.autoLockExpired)

	master, err := s.loadMaster()
	if err != nil {
		return nil, err
	}
	if master == nil {
		s.state = StateNeedsSetup
		logger.Info("session initialized", "state", s.state)
		return s, nil
	}
	s.master = master
	s.state = StateLocked

	rec, err := s.loadAttempts()
	if err != nil {
		return nil, err
	}
	s.attempts = rec.Attempts
	if rec.LockedUntil.After(clock.Now()) {
		s.state = StateLockedOut
		s.lockedUntil = rec.LockedUntil
		s.scheduleLockoutExpiry()
	}

	enabled, err := store.Get(BiometricEnabledKey)
	if err != nil {
		return nil, storageErr("read biometric flag", err)
	}
	s.bioEnabled = string(enabled) == "true"

	logger.Info("session initialized", "state", s.state, "attempts", s.attempts)
	return s, nil
}

// NeedsSetup reports whether no master secret exists yet.
func (s *Session) NeedsSetup() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateNeedsSetup
}

// IsUnlocked reports whether vault operations are currently allowed.
func (s *Session) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateUnlocked
}

// State returns the current state, reverting an expired lockout first.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.unlockAndPublish()
	s.refreshLockoutLocked()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.unlockAndPublish()
	s.refreshLockoutLocked()

	st := SessionStatus{
		State:            s.state,
		Attempts:         s.attempts,
		AutoLockPaused:   s.autoLock.Paused(),
		BiometricEnabled: s.bioEnabled,
	}
	if s.state == StateLockedOut {
		st.LockedUntil = s.lockedUntil
	}
	if d, ok := s.autoLock.Deadline(); ok {
		st.AutoLockDeadline = d
	}
	return st
}

// CompleteSetup derives and persists the master secret for pin. It does not
// unlock: the session moves to Locked and the user authenticates normally.
func (s *Session) CompleteSetup(pin string) error {
	if err := s.validatePIN(pin); err != nil {
		return err
	}
	if !s.unlocking.TryAcquire(1) {
		return ErrBusy
	}
	defer s.unlocking.Release(1)

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateNeedsSetup {
		return ErrAlreadySetUp
	}

	salt, err := s.kdf.NewSalt()
	if err != nil {
		return &CryptoError{Op: "generate salt", Err: err}
	}
	hash, key, err := s.kdf.Derive(pin, salt)
	if err != nil {
		return &CryptoError{Op: "derive key", Err: err}
	}
	memguard.WipeBytes(key)

	s.mu.Lock()
	defer s.unlockAndPublish()
	if s.state != StateNeedsSetup {
		return ErrAlreadySetUp
	}

	master := &masterSecret{Hash: hash, Salt: salt}
	if err := s.putMaster(master); err != nil {
		return err
	}
	if err := s.store.Delete(AuthAttemptsKey); err != nil {
		s.logger.Warn("clearing attempt record failed", "error", err)
	}
	s.master = master
	s.attempts = 0
	s.transitionLocked(StateLocked, ReasonSetup)
	s.logger.Info("master secret created")
	return nil
}

// UnlockWithPIN verifies pin and unlocks. A rejected PIN is reported as an
// *AuthError: AuthMismatch carries the attempt number, AuthTooManyAttempts
// the end of the lockout. Already unlocked is a no-op.
func (s *Session) UnlockWithPIN(ctx context.Context, pin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.unlocking.TryAcquire(1) {
		return ErrBusy
	}
	defer s.unlocking.Release(1)

	s.mu.Lock()
	s.refreshLockoutLocked()
	if err := s.unlockableLocked(); err != nil || s.state == StateUnlocked {
		s.unlockAndPublish()
		return err
	}
	salt, hash := s.master.Salt, s.master.Hash
	s.unlockAndPublish()

	key, ok, err := s.kdf.Verify(pin, salt, hash)
	if err != nil {
		return &CryptoError{Op: "derive key", Err: err}
	}

	s.mu.Lock()
	defer s.unlockAndPublish()

	if s.closed {
		memguard.WipeBytes(key)
		return ErrLocked
	}
	if !ok {
		return s.recordFailureLocked()
	}
	if err := s.unlockableLocked(); err != nil || s.state == StateUnlocked {
		memguard.WipeBytes(key)
		return err
	}
	return s.installKeyLocked(key, ReasonPIN)
}

// UnlockWithBiometric unlocks with a biometric assertion. The user must have
// opted in with EnableBiometric and the device must report enrolled hardware.
// Biometric failures do not count as PIN attempts.
func (s *Session) UnlockWithBiometric(ctx context.Context) error {
	if !s.unlocking.TryAcquire(1) {
		return ErrBusy
	}
	defer s.unlocking.Release(1)

	s.mu.Lock()
	s.refreshLockoutLocked()
	if err := s.unlockableLocked(); err != nil || s.state == StateUnlocked {
		s.unlockAndPublish()
		return err
	}
	enabled := s.bioEnabled
	s.unlockAndPublish()

	if !enabled {
		return &BiometricError{Kind: BiometricUnavailable, Err: errors.New("biometric unlock not enabled")}
	}
	if err := s.checkCapability(ctx); err != nil {
		return err
	}
	wrapped, err := s.store.Get(BiometricWrappedKeyKey)
	if err != nil {
		return storageErr("read wrapped key", err)
	}
	if wrapped == nil {
		return &BiometricError{Kind: BiometricUnavailable, Err: errors.New("wrapped key missing")}
	}
	identity, err := s.bio.Release(ctx, "Unlock your vault")
	if err != nil {
		return s.biometricErr(err)
	}
	key, err := s.wrapper.Unwrap(string(identity), wrapped)
	memguard.WipeBytes(identity)
	if err != nil {
		return &CryptoError{Op: "unwrap key", Err: err}
	}

	s.mu.Lock()
	defer s.unlockAndPublish()
	if err := s.unlockableLocked(); err != nil || s.state == StateUnlocked {
		memguard.WipeBytes(key)
		return err
	}
	return s.installKeyLocked(key, ReasonBiometric)
}

// Lock discards the WorkingKey and cancels the auto-lock timer.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.unlockAndPublish()
	if s.state == StateUnlocked {
		s.lockLocked(ReasonExplicit)
	}
}

// OnBackground locks immediately, regardless of the remaining auto-lock budget.
func (s *Session) OnBackground() {
	s.mu.Lock()
	defer s.unlockAndPublish()
	s.background = true
	s.autoLock.Cancel()
	if s.state == StateUnlocked {
		s.lockLocked(ReasonBackground)
	}
}

// OnForeground re-evaluates lockout expiry and, if still unlocked and not
// paused, starts a fresh auto-lock window.
func (s *Session) OnForeground() {
	s.mu.Lock()
	defer s.unlockAndPublish()
	s.background = false
	s.refreshLockoutLocked()
	if s.state == StateUnlocked && !s.autoLock.Paused() {
		s.autoLock.Start(s.cfg.AutoLockTimeout)
	}
}

// NotifyActivity rearms the auto-lock window after user interaction.
func (s *Session) NotifyActivity() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateUnlocked {
		s.autoLock.Reset()
	}
}

// PauseAutoLock suspends auto-lock while transient UI holds the session open.
func (s *Session) PauseAutoLock() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateUnlocked {
		s.autoLock.Pause()
	}
}

// ResumeAutoLock restarts auto-lock with a full window.
func (s *Session) ResumeAutoLock() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateUnlocked {
		s.autoLock.Resume()
	}
}

// WithKey calls fn with the WorkingKey. fn must not retain the slice.
// It returns ErrLocked unless the session is unlocked.
func (s *Session) WithKey(fn func(key []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateUnlocked || s.key == nil {
		return ErrLocked
	}
	return fn(s.key.Bytes())
}

// Lease returns a KeyProvider bound to the current unlock. It stops working
// at the next lock, even if the session is unlocked again later.
func (s *Session) Lease() (*KeyLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateUnlocked {
		return nil, ErrLocked
	}
	return &KeyLease{s: s, epoch: s.epoch}, nil
}

// KeyLease is a KeyProvider valid for a single unlock.
type KeyLease struct {
	s     *Session
	epoch uint64
}

func (l *KeyLease) WithKey(fn func(key []byte) error) error {
	s := l.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateUnlocked || s.key == nil || s.epoch != l.epoch {
		return ErrLocked
	}
	return fn(s.key.Bytes())
}

var (
	_ KeyProvider = (*Session)(nil)
	_ KeyProvider = (*KeyLease)(nil)
)

// BiometricEnabled reports whether the user has opted in to biometric unlock.
func (s *Session) BiometricEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bioEnabled
}

// EnableBiometric opts in to biometric unlock. It requires an unlocked
// session. A fresh identity is enrolled with the authenticator, which prompts
// the user; the secret store receives only its recipient and the WorkingKey
// wrapped to it.
func (s *Session) EnableBiometric(ctx context.Context) error {
	if !s.IsUnlocked() {
		return ErrLocked
	}
	if err := s.checkCapability(ctx); err != nil {
		return err
	}
	identity, recipient, err := s.wrapper.NewIdentity()
	if err != nil {
		return &CryptoError{Op: "generate identity", Err: err}
	}
	secret := []byte(identity)
	err = s.bio.Enroll(ctx, "Enable biometric unlock", secret)
	memguard.WipeBytes(secret)
	if err != nil {
		return s.biometricErr(err)
	}

	s.mu.Lock()
	defer s.unlockAndPublish()
	if err := s.storeWrappedLocked(recipient); err != nil {
		if cerr := s.clearBiometricLocked(ctx); cerr != nil {
			s.logger.Error("clearing biometric keys failed", "error", cerr)
		}
		return err
	}
	s.bioEnabled = true
	s.logger.Info("biometric unlock enabled")
	return nil
}

func (s *Session) storeWrappedLocked(recipient string) error {
	if s.state != StateUnlocked {
		return ErrLocked
	}
	wrapped, err := s.wrapper.Wrap(recipient, s.key.Bytes())
	if err != nil {
		return &CryptoError{Op: "wrap key", Err: err}
	}
	if err := s.store.Put(BiometricRecipientKey, []byte(recipient)); err != nil {
		return storageErr("write biometric recipient", err)
	}
	if err := s.store.Put(BiometricWrappedKeyKey, wrapped); err != nil {
		return storageErr("write wrapped key", err)
	}
	return storageErr("write biometric flag", s.store.Put(BiometricEnabledKey, []byte("true")))
}

// DisableBiometric removes the biometric opt-in, the wrapped key and the
// authenticator's enrolled identity.
func (s *Session) DisableBiometric(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlockAndPublish()
	if err := s.clearBiometricLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("biometric unlock disabled")
	return nil
}

// ChangePIN replaces the master secret while unlocked. Every credential is
// re-encrypted under the new WorkingKey in the same transaction that
// persists the new master secret. A wrong current PIN is reported as
// AuthMismatch but does not count toward lockout.
func (s *Session) ChangePIN(ctx context.Context, current, next string, rekeyer Rekeyer) error {
	if err := s.validatePIN(next); err != nil {
		return err
	}
	if !s.unlocking.TryAcquire(1) {
		return ErrBusy
	}
	defer s.unlocking.Release(1)

	s.mu.RLock()
	if s.state != StateUnlocked {
		s.mu.RUnlock()
		return ErrLocked
	}
	old := s.master
	epoch := s.epoch
	s.mu.RUnlock()

	curKey, ok, err := s.kdf.Verify(current, old.Salt, old.Hash)
	if err != nil {
		return &CryptoError{Op: "derive key", Err: err}
	}
	memguard.WipeBytes(curKey)
	if !ok {
		return &AuthError{Kind: AuthMismatch}
	}

	salt, err := s.kdf.NewSalt()
	if err != nil {
		return &CryptoError{Op: "generate salt", Err: err}
	}
	hash, newKey, err := s.kdf.Derive(next, salt)
	if err != nil {
		return &CryptoError{Op: "derive key", Err: err}
	}
	defer memguard.WipeBytes(newKey)

	s.mu.Lock()
	defer s.unlockAndPublish()
	if s.state != StateUnlocked || s.epoch != epoch {
		return ErrLocked
	}

	master := &masterSecret{Hash: hash, Salt: salt}
	committed := false
	commit := func() error {
		if err := s.putMaster(master); err != nil {
			return err
		}
		committed = true
		return nil
	}
	if err := rekeyer.Rekey(ctx, s.key.Bytes(), newKey, commit); err != nil {
		if committed {
			if rerr := s.putMaster(old); rerr != nil {
				s.logger.Error("restoring master secret failed", "error", rerr)
			}
		}
		return err
	}

	s.master = master
	s.key.Destroy()
	s.key = memguard.NewBufferFromBytes(append([]byte(nil), newKey...))
	s.key.Freeze()
	s.autoLock.Reset()

	if s.bioEnabled {
		if err := s.rewrapLocked(); err != nil {
			s.logger.Warn("rewrapping biometric key failed, disabling biometric unlock", "error", err)
			if cerr := s.clearBiometricLocked(ctx); cerr != nil {
				s.logger.Error("clearing biometric keys failed", "error", cerr)
			}
		}
	}
	s.logger.Info("master PIN changed")
	return nil
}

// Reset discards every credential via resetter and then the master secret,
// attempt record and biometric keys. It works from any state and leaves the
// session in NeedsSetup.
func (s *Session) Reset(ctx context.Context, resetter Resetter) error {
	if !s.unlocking.TryAcquire(1) {
		return ErrBusy
	}
	defer s.unlocking.Release(1)

	s.mu.Lock()
	defer s.unlockAndPublish()

	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	if err := s.clearBiometricLocked(ctx); err != nil {
		return err
	}
	if err := s.store.Delete(AuthAttemptsKey); err != nil {
		return storageErr("delete attempt record", err)
	}
	if err := s.store.Delete(MasterSecretKey); err != nil {
		return storageErr("delete master secret", err)
	}

	s.autoLock.Cancel()
	s.stopLockoutTimerLocked()
	s.dropKeyLocked()
	s.master = nil
	s.attempts = 0
	s.lockedUntil = time.Time{}
	s.transitionLocked(StateNeedsSetup, ReasonReset)
	s.logger.Warn("vault reset")
	return nil
}

// Subscribe registers fn for every future transition. fn runs after the
// session's lock is released, in transition order. The returned function
// unsubscribes.
func (s *Session) Subscribe(fn func(Transition)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// Close locks the session and stops its timers.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.unlockAndPublish()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopLockoutTimerLocked()
	s.autoLock.Cancel()
	if s.state == StateUnlocked {
		s.lockLocked(ReasonClosed)
	}
	return nil
}

// unlockableLocked returns the error an unlock attempt gets in the current
// state, or nil if it may proceed.
func (s *Session) unlockableLocked() error {
	switch {
	case s.closed:
		return ErrLocked
	case s.state == StateNeedsSetup:
		return &AuthError{Kind: AuthNotSetUp}
	case s.state == StateLockedOut:
		return &AuthError{Kind: AuthTooManyAttempts, Attempt: s.attempts, Until: s.lockedUntil}
	case s.background:
		return ErrBackgrounded
	}
	return nil
}

func (s *Session) recordFailureLocked() error {
	s.attempts++
	now := s.clock.Now()
	rec := attemptRecord{Attempts: s.attempts}

	var result error = &AuthError{Kind: AuthMismatch, Attempt: s.attempts}
	if s.cfg.MaxAttempts > 0 && s.attempts >= s.cfg.MaxAttempts {
		s.lockedUntil = now.Add(s.cfg.LockoutCooldown)
		rec.LockedUntil = s.lockedUntil
		s.transitionLocked(StateLockedOut, ReasonLockout)
		s.scheduleLockoutExpiry()
		result = &AuthError{Kind: AuthTooManyAttempts, Attempt: s.attempts, Until: s.lockedUntil}
		s.logger.Warn("too many failed attempts", "attempts", s.attempts, "until", s.lockedUntil)
	} else {
		s.logger.Warn("incorrect PIN", "attempt", s.attempts)
	}

	if err := s.saveAttempts(rec); err != nil {
		s.logger.Error("persisting attempt record failed", "attempts", s.attempts, "error", err)
		return errors.Join(result, err)
	}
	return result
}

// installKeyLocked takes ownership of key, which is wiped. The persisted
// attempt count is cleared first; if that fails the session stays locked.
func (s *Session) installKeyLocked(key []byte, reason TransitionReason) error {
	if err := s.clearAttemptsLocked(); err != nil {
		memguard.WipeBytes(key)
		return err
	}
	s.dropKeyLocked()
	s.key = memguard.NewBufferFromBytes(key)
	s.key.Freeze()
	s.epoch++
	s.attempts = 0
	s.transitionLocked(StateUnlocked, reason)
	s.autoLock.Start(s.cfg.AutoLockTimeout)
	s.logger.Info("session unlocked", "method", string(reason))
	return nil
}

// clearAttemptsLocked removes the attempt record, falling back to writing a
// zero count when the delete fails.
func (s *Session) clearAttemptsLocked() error {
	if s.attempts == 0 {
		return nil
	}
	derr := s.store.Delete(AuthAttemptsKey)
	if derr == nil {
		return nil
	}
	s.logger.Warn("deleting attempt record failed, overwriting", "error", derr)
	if err := s.saveAttempts(attemptRecord{}); err != nil {
		return &StorageError{Op: "clear attempt record", Err: errors.Join(derr, err)}
	}
	return nil
}

// lockLocked moves to Locked, cancels the auto-lock timer and destroys the key.
func (s *Session) lockLocked(reason TransitionReason) {
	s.autoLock.Cancel()
	s.dropKeyLocked()
	s.epoch++
	s.transitionLocked(StateLocked, reason)
	s.logger.Info("session locked", "reason", string(reason))
}

func (s *Session) dropKeyLocked() {
	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
}

func (s *Session) autoLockExpired() {
	s.mu.Lock()
	defer s.unlockAndPublish()
	if !s.autoLock.takeExpiry() {
		return
	}
	if s.state == StateUnlocked {
		s.lockLocked(ReasonTimeout)
	}
}

func (s *Session) scheduleLockoutExpiry() {
	s.stopLockoutTimerLocked()
	d := s.lockedUntil.Sub(s.clock.Now())
	s.lockoutTimer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.unlockAndPublish()
		s.refreshLockoutLocked()
	})
}

func (s *Session) stopLockoutTimerLocked() {
	if s.lockoutTimer != nil {
		s.lockoutTimer.Stop()
		s.lockoutTimer = nil
	}
}

// refreshLockoutLocked reverts an elapsed lockout to Locked. The attempt
// count is kept, so the next failure locks out again.
func (s *Session) refreshLockoutLocked() {
	if s.state != StateLockedOut || s.clock.Now().Before(s.lockedUntil) {
		return
	}
	s.lockedUntil = time.Time{}
	s.stopLockoutTimerLocked()
	s.transitionLocked(StateLocked, ReasonLockoutExpired)
	s.logger.Info("lockout expired", "attempts", s.attempts)
}

func (s *Session) transitionLocked(to SessionState, reason TransitionReason) {
	s.pending = append(s.pending, Transition{
		From:   s.state,
		To:     to,
		Reason: reason,
		At:     s.clock.Now(),
	})
	s.state = to
}

// unlockAndPublish releases mu and then delivers queued transitions.
func (s *Session) unlockAndPublish() {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	subs := make([]func(Transition), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (s *Session) validatePIN(pin string) error {
	if len(pin) < s.cfg.MinPINLength || len(pin) > MaxPINLength {
		return fmt.Errorf("%w: must be %d to %d digits", ErrInvalidPIN, s.cfg.MinPINLength, MaxPINLength)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: must contain only digits", ErrInvalidPIN)
		}
	}
	return nil
}

func (s *Session) checkCapability(ctx context.Context) error {
	c, err := s.bio.Capability(ctx)
	if err != nil {
		return &BiometricError{Kind: BiometricFailed, Err: err}
	}
	if !c.Hardware {
		return &BiometricError{Kind: BiometricUnavailable}
	}
	if !c.Enrolled {
		return &BiometricError{Kind: BiometricNotEnrolled}
	}
	return nil
}

// biometricErr logs an authenticator failure and normalizes it to a
// *BiometricError.
func (s *Session) biometricErr(err error) error {
	var be *BiometricError
	if errors.As(err, &be) {
		if be.Kind != BiometricCancelled {
			s.logger.Warn("biometric check failed", "kind", be.Kind.String())
		}
		return err
	}
	s.logger.Warn("biometric check failed", "error", err)
	return &BiometricError{Kind: BiometricFailed, Err: err}
}

// rewrapLocked wraps the current key to the stored recipient. It needs no
// biometric prompt because wrapping only uses the public half.
func (s *Session) rewrapLocked() error {
	recipient, err := s.store.Get(BiometricRecipientKey)
	if err != nil {
		return storageErr("read biometric recipient", err)
	}
	if recipient == nil {
		return errors.New("biometric recipient missing")
	}
	wrapped, err := s.wrapper.Wrap(string(recipient), s.key.Bytes())
	if err != nil {
		return &CryptoError{Op: "wrap key", Err: err}
	}
	return storageErr("write wrapped key", s.store.Put(BiometricWrappedKeyKey, wrapped))
}

func (s *Session) clearBiometricLocked(ctx context.Context) error {
	for _, k := range []string{BiometricEnabledKey, BiometricWrappedKeyKey, BiometricRecipientKey} {
		if err := s.store.Delete(k); err != nil {
			return storageErr("delete "+k, err)
		}
	}
	s.bioEnabled = false
	if err := s.bio.Forget(ctx); err != nil {
		s.logger.Warn("discarding biometric enrollment failed", "error", err)
	}
	return nil
}

func (s *Session) loadMaster() (*masterSecret, error) {
	data, err := s.store.Get(MasterSecretKey)
	if err != nil {
		return nil, storageErr("read master secret", err)
	}
	if data == nil {
		return nil, nil
	}
	var m masterSecret
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &StorageError{Op: "decode master secret", Err: err}
	}
	if len(m.Hash) == 0 || len(m.Salt) == 0 {
		return nil, &StorageError{Op: "decode master secret", Err: errors.New("empty hash or salt")}
	}
	return &m, nil
}

func (s *Session) putMaster(m *masterSecret) error {
	data, err := json.Marshal(m)
	if err != nil {
		return &StorageError{Op: "encode master secret", Err: err}
	}
	return storageErr("write master secret", s.store.Put(MasterSecretKey, data))
}

func (s *Session) loadAttempts() (attemptRecord, error) {
	var rec attemptRecord
	data, err := s.store.Get(AuthAttemptsKey)
	if err != nil {
		return rec, storageErr("read attempt record", err)
	}
	if data == nil {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, &StorageError{Op: "decode attempt record", Err: err}
	}
	return rec, nil
}

func (s *Session) saveAttempts(rec attemptRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "encode attempt record", Err: err}
	}
	return storageErr("write attempt record", s.store.Put(AuthAttemptsKey, data))
}
