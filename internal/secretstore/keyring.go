package secretstore

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"pinvault/internal/pv"
)

// KeyringStore keeps secrets in the OS keyring (Keychain, Secret Service or
// Windows Credential Manager) under a single service name. Values are
// base64-encoded because some backends only store text.
type KeyringStore struct {
	service string
}

var _ pv.SecretStore = (*KeyringStore)(nil)

// NewKeyringStore creates a store scoped to service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

// Get returns (nil, nil) if key is not in the keyring.
func (s *KeyringStore) Get(key string) ([]byte, error) {
	v, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s from keyring: %w", key, err)
	}
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return data, nil
}

func (s *KeyringStore) Put(key string, value []byte) error {
	if err := keyring.Set(s.service, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("writing %s to keyring: %w", key, err)
	}
	return nil
}

// Delete is a no-op if key is not in the keyring.
func (s *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting %s from keyring: %w", key, err)
	}
	return nil
}
