package encryption

import (
	"fmt"

	"pinvault/internal/config"
	"pinvault/internal/pv"
)

// NewKeyDeriverFromConfig creates a KeyDeriver based on the KDF config.
func NewKeyDeriverFromConfig(cfg config.KDFConfig) (pv.KeyDeriver, error) {
	switch cfg.Type {
	case "argon2id", "":
		if cfg.Time == 0 || cfg.MemoryKiB == 0 || cfg.Threads == 0 {
			return nil, fmt.Errorf("argon2id requires positive time, memory_kib and threads")
		}
		return NewArgon2KDF(cfg), nil
	default:
		return nil, fmt.Errorf("unknown kdf type: %q", cfg.Type)
	}
}
