package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinvault/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"})
		require.NoError(t, err)
		defer got.Close()

		assert.NoError(t, got.CheckMigrations())
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir})
		require.NoError(t, err)
		defer got.Close()

		_, err = os.Stat(filepath.Join(dir, DBFileName))
		assert.NoError(t, err, "database file not created")
		assert.NoError(t, got.CheckMigrations())
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"})
		assert.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "unknown"})
		assert.Error(t, err)
		assert.Nil(t, got)
	})
}
