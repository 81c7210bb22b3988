package pv

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// GeneratedPasswordLength is the length GeneratePassword is usually asked for.
	GeneratedPasswordLength = 16

	// PasswordAlphabet is the character set of generated passwords.
	PasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// GeneratePassword returns n characters drawn uniformly from PasswordAlphabet.
func GeneratePassword(n int) (string, error) {
	if n < MinPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCredential, MinPasswordLength)
	}
	max := big.NewInt(int64(len(PasswordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		j, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", &CryptoError{Op: "generate password", Err: err}
		}
		out[i] = PasswordAlphabet[j.Int64()]
	}
	return string(out), nil
}
