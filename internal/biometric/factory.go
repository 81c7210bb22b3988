package biometric

import (
	"fmt"

	"pinvault/internal/config"
	"pinvault/internal/pv"
)

// NewAuthenticatorFromConfig creates a BiometricAuthenticator based on the config type.
func NewAuthenticatorFromConfig(cfg config.BiometricConfig) (pv.BiometricAuthenticator, error) {
	switch cfg.Type {
	case "none", "":
		return Unsupported{}, nil
	default:
		return nil, fmt.Errorf("unknown biometric type: %q", cfg.Type)
	}
}
