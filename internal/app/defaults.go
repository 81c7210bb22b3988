package app

import (
	"fmt"
	"os"
	"path/filepath"

	"pinvault/internal/config"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "PINVAULT_CONFIG_PATH"
	EnvHome       = "PINVAULT_HOME"
)

// Paths holds the default file locations.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// DefaultPaths returns the config path and data directory, honoring
// PINVAULT_CONFIG_PATH and PINVAULT_HOME. Otherwise the config lives at
// ~/.config/pinvault.toml and data under ~/.local/share/pinvault.
func DefaultPaths() (Paths, error) {
	p := Paths{
		ConfigPath: os.Getenv(EnvConfigPath),
		BaseDir:    os.Getenv(EnvHome),
	}
	if p.ConfigPath != "" && p.BaseDir != "" {
		return p, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	if p.ConfigPath == "" {
		p.ConfigPath = filepath.Join(homeDir, ".config", "pinvault.toml")
	}
	if p.BaseDir == "" {
		p.BaseDir = filepath.Join(homeDir, ".local", "share", "pinvault")
	}
	return p, nil
}

// DefaultConfig returns a config rooted at the default data directory.
func DefaultConfig() (*config.Config, error) {
	p, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return config.NewConfig(p.BaseDir), nil
}
