package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"pinvault/internal/pv"
)

var (
	// ErrInvalidCiphertext is returned for input shorter than a nonce plus tag.
	ErrInvalidCiphertext = errors.New("ciphertext too short")
	// ErrAuthFailed is returned when the key, data or additional data do not match.
	ErrAuthFailed = errors.New("message authentication failed")
)

// XChaChaCipher seals with XChaCha20-Poly1305. Output is the random 24-byte
// nonce followed by the sealed data and tag.
type XChaChaCipher struct{}

var _ pv.Cipher = XChaChaCipher{}

func NewXChaChaCipher() XChaChaCipher { return XChaChaCipher{} }

func (XChaChaCipher) Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(out, out, plaintext, additionalData), nil
}

func (XChaChaCipher) Open(key, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}
