package pv

import "context"

// SecretStore is a platform-backed, access-controlled key/value store scoped
// to the application. It holds the master secret and small flags, never
// credential plaintext.
type SecretStore interface {
	// Get returns (nil, nil) when key has no value. Any other failure is an error.
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// Delete is a no-op for an absent key.
	Delete(key string) error
}

// CredentialStore persists CredentialRecords.
// Not-found lookups return (nil, nil), matching the other stores.
type CredentialStore interface {
	InsertCredential(ctx context.Context, rec *CredentialRecord) error
	GetCredential(ctx context.Context, id string) (*CredentialRecord, error)
	// ListCredentials returns all records, most recently created first.
	ListCredentials(ctx context.Context) ([]*CredentialRecord, error)
	// UpdateCredential overwrites the mutable columns of an existing record.
	// It returns false if no record has rec.ID.
	UpdateCredential(ctx context.Context, rec *CredentialRecord) (bool, error)
	DeleteCredential(ctx context.Context, id string) (bool, error)
	DeleteAllCredentials(ctx context.Context) error
	// RekeyCredentials replaces every PasswordCipher with fn(record) inside one
	// transaction. commit runs before the transaction commits; if it fails the
	// transaction is rolled back.
	RekeyCredentials(ctx context.Context, fn func(*CredentialRecord) ([]byte, error), commit func() error) error
	Close() error
}

// KeyDeriver turns a PIN into a verifier hash and a WorkingKey with a slow,
// salted one-way function.
type KeyDeriver interface {
	NewSalt() ([]byte, error)
	// Derive computes the verifier hash and WorkingKey for (pin, salt).
	Derive(pin string, salt []byte) (hash, key []byte, err error)
	// Verify recomputes the hash and compares it in constant time. On a match
	// it returns the WorkingKey.
	Verify(pin string, salt, expected []byte) (key []byte, ok bool, err error)
}

// Cipher is an authenticated cipher. Open fails if the ciphertext, the key or
// the additional data do not match what Seal used.
type Cipher interface {
	Seal(key, plaintext, additionalData []byte) ([]byte, error)
	Open(key, ciphertext, additionalData []byte) ([]byte, error)
}

// KeyWrapper protects a WorkingKey under a separate identity so biometric
// unlock can recover it without the PIN. Wrapping needs only the public
// recipient; unwrapping needs the identity.
type KeyWrapper interface {
	NewIdentity() (identity, recipient string, err error)
	Wrap(recipient string, key []byte) ([]byte, error)
	Unwrap(identity string, wrapped []byte) ([]byte, error)
}

// Capability describes the device's biometric support.
type Capability struct {
	Hardware bool
	Enrolled bool
}

// BiometricAuthenticator holds a secret behind the device's biometric check.
// The secret never touches the SecretStore; the platform releases it only
// after the user passes a prompt. Failures are returned as *BiometricError.
type BiometricAuthenticator interface {
	Capability(ctx context.Context) (Capability, error)
	// Enroll prompts the user and, on success, keeps secret behind the
	// biometric gate, replacing any earlier one.
	Enroll(ctx context.Context, prompt string, secret []byte) error
	// Release prompts the user and returns the enrolled secret.
	Release(ctx context.Context, prompt string) ([]byte, error)
	// Forget discards the enrolled secret. It does not prompt.
	Forget(ctx context.Context) error
}
