package encryption

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"pinvault/internal/pv"
)

// AgeKeyWrapper wraps a WorkingKey to an age X25519 recipient. The session
// keeps the recipient and the wrapped key in the secret store and hands the
// identity to the biometric authenticator, so reading the store does not
// recover the key.
type AgeKeyWrapper struct{}

var _ pv.KeyWrapper = AgeKeyWrapper{}

func NewAgeKeyWrapper() AgeKeyWrapper { return AgeKeyWrapper{} }

// NewIdentity generates an X25519 identity and returns it with its recipient.
func (AgeKeyWrapper) NewIdentity() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

// Wrap encrypts key to recipient.
func (AgeKeyWrapper) Wrap(recipient string, key []byte) ([]byte, error) {
	r, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return nil, fmt.Errorf("writing key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing wrapped key: %w", err)
	}
	return buf.Bytes(), nil
}

// Unwrap decrypts a key wrapped to identity's recipient.
func (AgeKeyWrapper) Unwrap(identity string, wrapped []byte) ([]byte, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(wrapped), id)
	if err != nil {
		return nil, fmt.Errorf("decrypting wrapped key: %w", err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading wrapped key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("unwrapped key has %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}
