package pv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by vault operations on an unknown credential id.
	ErrNotFound = errors.New("credential not found")
	// ErrLocked is returned by vault operations while the session is not unlocked.
	ErrLocked = errors.New("vault is locked")
	// ErrBusy is returned when another unlock attempt is already in flight.
	ErrBusy = errors.New("unlock already in progress")
	// ErrAlreadySetUp is returned by CompleteSetup once a master secret exists.
	ErrAlreadySetUp = errors.New("master secret already set up")
	// ErrInvalidPIN is returned when a new PIN does not satisfy the PIN format.
	ErrInvalidPIN = errors.New("invalid PIN format")
	// ErrInvalidCredential is returned when required credential fields are empty.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrBackgrounded is returned when an unlock completes after the app went to
	// the background. The derived key is discarded.
	ErrBackgrounded = errors.New("app moved to background during unlock")
)

// StorageError reports a secret store or database failure. The message names
// only the failed operation; the cause is kept for logs through Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage failure: " + e.Op }

func (e *StorageError) Unwrap() error { return e.Err }

// CryptoError reports a key derivation failure or a ciphertext that failed
// authentication. A failed decrypt means tampering or corruption.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return "crypto failure: " + e.Op }

func (e *CryptoError) Unwrap() error { return e.Err }

// AuthErrorKind classifies an AuthError.
type AuthErrorKind int

const (
	AuthMismatch AuthErrorKind = iota + 1
	AuthTooManyAttempts
	AuthNotSetUp
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthMismatch:
		return "mismatch"
	case AuthTooManyAttempts:
		return "too many attempts"
	case AuthNotSetUp:
		return "not set up"
	default:
		return fmt.Sprintf("AuthErrorKind(%d)", int(k))
	}
}

// AuthError is the typed outcome of a rejected unlock.
// Attempt is set for AuthMismatch, Until for AuthTooManyAttempts.
type AuthError struct {
	Kind    AuthErrorKind
	Attempt int
	Until   time.Time
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthMismatch:
		return fmt.Sprintf("incorrect PIN (attempt %d)", e.Attempt)
	case AuthTooManyAttempts:
		return fmt.Sprintf("too many attempts, locked until %s", e.Until.Format(time.RFC3339))
	case AuthNotSetUp:
		return "master PIN has not been set up"
	default:
		return "authentication failed"
	}
}

// Is lets errors.Is match on kind: errors.Is(err, &AuthError{Kind: AuthMismatch}).
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// BiometricErrorKind classifies a BiometricError.
type BiometricErrorKind int

const (
	BiometricUnavailable BiometricErrorKind = iota + 1
	BiometricNotEnrolled
	BiometricCancelled
	BiometricFailed
)

func (k BiometricErrorKind) String() string {
	switch k {
	case BiometricUnavailable:
		return "unavailable"
	case BiometricNotEnrolled:
		return "not enrolled"
	case BiometricCancelled:
		return "cancelled"
	case BiometricFailed:
		return "failed"
	default:
		return fmt.Sprintf("BiometricErrorKind(%d)", int(k))
	}
}

// BiometricError reports why a biometric unlock did not happen.
// BiometricCancelled is expected to fall back to PIN entry silently.
type BiometricError struct {
	Kind BiometricErrorKind
	Err  error
}

func (e *BiometricError) Error() string { return "biometric " + e.Kind.String() }

func (e *BiometricError) Unwrap() error { return e.Err }

func (e *BiometricError) Is(target error) bool {
	t, ok := target.(*BiometricError)
	return ok && t.Kind == e.Kind
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
