package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"pinvault/internal/config"
	"pinvault/internal/pv"
)

const (
	// SaltSize is the length of a generated salt in bytes.
	SaltSize = 16
	// KeySize is the length of the WorkingKey and the verifier hash.
	KeySize = 32

	verifyInfo = "pinvault verify v1"
	keyInfo    = "pinvault key v1"
)

// Argon2KDF derives keys with Argon2id. A single Argon2id pass produces
// master key material which HKDF splits into a verifier hash (persisted) and
// the WorkingKey (never persisted), so the stored hash reveals nothing about
// the key.
type Argon2KDF struct {
	time    uint32
	memory  uint32
	threads uint8
}

var _ pv.KeyDeriver = (*Argon2KDF)(nil)

// NewArgon2KDF creates an Argon2KDF with the configured cost parameters.
func NewArgon2KDF(cfg config.KDFConfig) *Argon2KDF {
	return &Argon2KDF{
		time:    cfg.Time,
		memory:  cfg.MemoryKiB,
		threads: cfg.Threads,
	}
}

// NewSalt returns SaltSize random bytes.
func (k *Argon2KDF) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Derive returns the verifier hash and WorkingKey for (pin, salt).
func (k *Argon2KDF) Derive(pin string, salt []byte) ([]byte, []byte, error) {
	if len(salt) == 0 {
		return nil, nil, errors.New("empty salt")
	}
	master := argon2.IDKey([]byte(pin), salt, k.time, k.memory, k.threads, KeySize)
	defer memguard.WipeBytes(master)

	hash, err := expand(master, verifyInfo)
	if err != nil {
		return nil, nil, err
	}
	key, err := expand(master, keyInfo)
	if err != nil {
		return nil, nil, err
	}
	return hash, key, nil
}

// Verify recomputes the verifier hash and compares it with expected in
// constant time. The WorkingKey is returned only on a match.
func (k *Argon2KDF) Verify(pin string, salt, expected []byte) ([]byte, bool, error) {
	hash, key, err := k.Derive(pin, salt)
	if err != nil {
		return nil, false, err
	}
	if subtle.ConstantTimeCompare(hash, expected) != 1 {
		memguard.WipeBytes(key)
		return nil, false, nil
	}
	return key, true, nil
}

func expand(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("expanding %q: %w", info, err)
	}
	return out, nil
}
