package testutil

import (
	"bytes"
	"context"
	"sync"

	"pinvault/internal/pv"
)

// StubAuthenticator is a scripted BiometricAuthenticator. It keeps the
// enrolled secret in memory, standing in for a platform keystore.
type StubAuthenticator struct {
	mu     sync.Mutex
	cap    pv.Capability
	err    error
	calls  int
	secret []byte
}

var _ pv.BiometricAuthenticator = (*StubAuthenticator)(nil)

// NewStubAuthenticator returns an authenticator with enrolled hardware that
// accepts every prompt.
func NewStubAuthenticator() *StubAuthenticator {
	return &StubAuthenticator{cap: pv.Capability{Hardware: true, Enrolled: true}}
}

// SetCapability changes what Capability reports.
func (a *StubAuthenticator) SetCapability(c pv.Capability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cap = c
}

// SetResult makes every following prompt fail with err.
func (a *StubAuthenticator) SetResult(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Calls returns how many prompts were shown.
func (a *StubAuthenticator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Secret returns a copy of the enrolled secret, or nil.
func (a *StubAuthenticator) Secret() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bytes.Clone(a.secret)
}

func (a *StubAuthenticator) Capability(context.Context) (pv.Capability, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap, nil
}

func (a *StubAuthenticator) Enroll(ctx context.Context, _ string, secret []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.promptLocked(ctx); err != nil {
		return err
	}
	a.secret = bytes.Clone(secret)
	return nil
}

func (a *StubAuthenticator) Release(ctx context.Context, _ string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.promptLocked(ctx); err != nil {
		return nil, err
	}
	if a.secret == nil {
		return nil, &pv.BiometricError{Kind: pv.BiometricNotEnrolled}
	}
	return bytes.Clone(a.secret), nil
}

func (a *StubAuthenticator) Forget(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secret = nil
	return nil
}

func (a *StubAuthenticator) promptLocked(ctx context.Context) error {
	a.calls++
	if err := ctx.Err(); err != nil {
		return &pv.BiometricError{Kind: pv.BiometricCancelled, Err: err}
	}
	return a.err
}
