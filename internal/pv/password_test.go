package pv_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinvault/internal/pv"
)

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pw, err := pv.GeneratePassword(pv.GeneratedPasswordLength)
		require.NoError(t, err)
		assert.Len(t, pw, 16)
		for _, r := range pw {
			assert.True(t, strings.ContainsRune(pv.PasswordAlphabet, r), "unexpected character %q", r)
		}
		seen[pw] = true
	}
	assert.Len(t, seen, 50, "generated passwords repeat")

	pw, err := pv.GeneratePassword(40)
	require.NoError(t, err)
	assert.Len(t, pw, 40)
}

func TestGeneratePassword_TooShort(t *testing.T) {
	_, err := pv.GeneratePassword(pv.MinPasswordLength - 1)
	assert.ErrorIs(t, err, pv.ErrInvalidCredential)
}

func TestGeneratePassword_AcceptedByVault(t *testing.T) {
	ctx := context.Background()
	e := unlocked(t)

	pw, err := pv.GeneratePassword(pv.GeneratedPasswordLength)
	require.NoError(t, err)
	created, err := e.vault.Create(ctx, pv.CredentialInput{Service: "Gmail", Username: "u", Password: pw})
	require.NoError(t, err)

	got, err := e.vault.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, pw, got.Password)
}
