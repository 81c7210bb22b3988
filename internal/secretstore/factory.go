package secretstore

import (
	"fmt"

	"pinvault/internal/config"
	"pinvault/internal/pv"
)

// NewSecretStoreFromConfig creates a SecretStore based on the config type.
func NewSecretStoreFromConfig(cfg config.SecretStoreConfig) (pv.SecretStore, error) {
	switch cfg.Type {
	case "keyring":
		if cfg.Service == "" {
			return nil, fmt.Errorf("service required for keyring secret store")
		}
		return NewKeyringStore(cfg.Service), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}
}
