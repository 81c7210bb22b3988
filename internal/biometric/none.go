// Package biometric provides BiometricAuthenticator implementations.
package biometric

import (
	"context"

	"pinvault/internal/pv"
)

// Unsupported reports no biometric hardware. It is used on platforms where
// pinvault has no biometric integration, which leaves PIN entry as the only
// unlock path.
type Unsupported struct{}

var _ pv.BiometricAuthenticator = Unsupported{}

func (Unsupported) Capability(context.Context) (pv.Capability, error) {
	return pv.Capability{}, nil
}

func (Unsupported) Enroll(context.Context, string, []byte) error {
	return &pv.BiometricError{Kind: pv.BiometricUnavailable}
}

func (Unsupported) Release(context.Context, string) ([]byte, error) {
	return nil, &pv.BiometricError{Kind: pv.BiometricUnavailable}
}

// Forget has nothing to discard.
func (Unsupported) Forget(context.Context) error { return nil }
