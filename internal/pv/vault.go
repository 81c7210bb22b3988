package pv

import (
	"context"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// KeyProvider lends the WorkingKey for the duration of fn. It returns
// ErrLocked when no key is available. Session and KeyLease implement it.
type KeyProvider interface {
	WithKey(fn func(key []byte) error) error
}

// Vault owns encrypted credential persistence. Each password is sealed with
// the WorkingKey using the credential id as additional data, so a ciphertext
// moved to another row fails to open. The Vault never derives or caches a key;
// every operation borrows it from the KeyProvider and runs entirely inside
// that loan, so nothing is written after the session locks.
type Vault struct {
	db     CredentialStore
	keys   KeyProvider
	cipher Cipher
	clock  Clock
	idgen  IDGenerator
	logger Logger
	locks  *keyedMutex
}

// NewVault creates a Vault over db.
func NewVault(db CredentialStore, keys KeyProvider, cipher Cipher, clock Clock, idgen IDGenerator, logger Logger) *Vault {
	return &Vault{
		db:     db,
		keys:   keys,
		cipher: cipher,
		clock:  clock,
		idgen:  idgen,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// Create encrypts and stores a new credential. The returned Credential holds
// the plaintext password; the stored copy holds only ciphertext.
func (v *Vault) Create(ctx context.Context, in CredentialInput) (*Credential, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	id := v.idgen.New()
	unlock := v.locks.Lock(id)
	defer unlock()

	var out *Credential
	err = v.keys.WithKey(func(key []byte) error {
		cipherText, err := v.seal(key, in.Password, id)
		if err != nil {
			return err
		}
		now := v.clock.Now().UTC()
		rec := &CredentialRecord{
			ID:             id,
			Service:        in.Service,
			Username:       in.Username,
			PasswordCipher: cipherText,
			Website:        in.Website,
			Notes:          in.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := v.db.InsertCredential(ctx, rec); err != nil {
			return storageErr("insert credential", err)
		}
		out = toCredential(rec, in.Password)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("credential created", "id", id)
	return out, nil
}

// Get returns one decrypted credential.
func (v *Vault) Get(ctx context.Context, id string) (*Credential, error) {
	var out *Credential
	err := v.keys.WithKey(func(key []byte) error {
		rec, err := v.db.GetCredential(ctx, id)
		if err != nil {
			return storageErr("get credential", err)
		}
		if rec == nil {
			return ErrNotFound
		}
		out, err = v.decrypt(key, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns a snapshot of every credential, most recently created first,
// with passwords decrypted.
func (v *Vault) List(ctx context.Context) ([]*Credential, error) {
	var out []*Credential
	err := v.keys.WithKey(func(key []byte) error {
		recs, err := v.db.ListCredentials(ctx)
		if err != nil {
			return storageErr("list credentials", err)
		}
		out = make([]*Credential, 0, len(recs))
		for _, rec := range recs {
			c, err := v.decrypt(key, rec)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns the credentials matching query, in List order.
func (v *Vault) Search(ctx context.Context, query string) ([]*Credential, error) {
	all, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	matches := all[:0]
	for _, c := range all {
		if c.Matches(query) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// Update applies patch to the credential with id. The password is
// re-encrypted only when the patch supplies one; UpdatedAt always moves.
func (v *Vault) Update(ctx context.Context, id string, patch CredentialPatch) (*Credential, error) {
	unlock := v.locks.Lock(id)
	defer unlock()

	var out *Credential
	err := v.keys.WithKey(func(key []byte) error {
		rec, err := v.db.GetCredential(ctx, id)
		if err != nil {
			return storageErr("get credential", err)
		}
		if rec == nil {
			return ErrNotFound
		}
		cur, err := v.decrypt(key, rec)
		if err != nil {
			return err
		}

		in, err := patch.apply(CredentialInput{
			Service:  cur.Service,
			Username: cur.Username,
			Password: cur.Password,
			Website:  cur.Website,
			Notes:    cur.Notes,
		}).normalize()
		if err != nil {
			return err
		}

		if patch.Password != nil {
			rec.PasswordCipher, err = v.seal(key, in.Password, id)
			if err != nil {
				return err
			}
		}
		rec.Service = in.Service
		rec.Username = in.Username
		rec.Website = in.Website
		rec.Notes = in.Notes
		rec.UpdatedAt = v.clock.Now().UTC()

		ok, err := v.db.UpdateCredential(ctx, rec)
		if err != nil {
			return storageErr("update credential", err)
		}
		if !ok {
			return ErrNotFound
		}
		out = toCredential(rec, in.Password)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("credential updated", "id", id, "password_changed", patch.Password != nil)
	return out, nil
}

// Delete removes the credential with id. It is irreversible.
func (v *Vault) Delete(ctx context.Context, id string) error {
	unlock := v.locks.Lock(id)
	defer unlock()

	err := v.keys.WithKey(func([]byte) error {
		ok, err := v.db.DeleteCredential(ctx, id)
		if err != nil {
			return storageErr("delete credential", err)
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.logger.Info("credential deleted", "id", id)
	return nil
}

// Reset deletes every credential. It does not need the WorkingKey and is
// only meant to run as part of a master reset.
func (v *Vault) Reset(ctx context.Context) error {
	if err := v.db.DeleteAllCredentials(ctx); err != nil {
		return storageErr("delete all credentials", err)
	}
	v.logger.Warn("all credentials deleted")
	return nil
}

// Rekey re-encrypts every password from oldKey to newKey in one transaction.
// A password that fails to open aborts the whole rekey with a *CryptoError.
func (v *Vault) Rekey(ctx context.Context, oldKey, newKey []byte, commit func() error) error {
	n := 0
	err := v.db.RekeyCredentials(ctx, func(rec *CredentialRecord) ([]byte, error) {
		plain, err := v.cipher.Open(oldKey, rec.PasswordCipher, []byte(rec.ID))
		if err != nil {
			v.logger.Error("credential failed authentication during rekey", "id", rec.ID)
			return nil, &CryptoError{Op: "decrypt credential", Err: err}
		}
		defer memguard.WipeBytes(plain)
		sealed, err := v.cipher.Seal(newKey, plain, []byte(rec.ID))
		if err != nil {
			return nil, &CryptoError{Op: "encrypt credential", Err: err}
		}
		n++
		return sealed, nil
	}, commit)
	if err != nil {
		var ce *CryptoError
		if errors.As(err, &ce) {
			return ce
		}
		return storageErr("rekey credentials", err)
	}
	v.logger.Info("credentials rekeyed", "count", n)
	return nil
}

var (
	_ Rekeyer  = (*Vault)(nil)
	_ Resetter = (*Vault)(nil)
)

func (v *Vault) seal(key []byte, password, id string) ([]byte, error) {
	sealed, err := v.cipher.Seal(key, []byte(password), []byte(id))
	if err != nil {
		return nil, &CryptoError{Op: "encrypt credential", Err: err}
	}
	return sealed, nil
}

func (v *Vault) decrypt(key []byte, rec *CredentialRecord) (*Credential, error) {
	plain, err := v.cipher.Open(key, rec.PasswordCipher, []byte(rec.ID))
	if err != nil {
		v.logger.Error("credential failed authentication", "id", rec.ID)
		return nil, &CryptoError{Op: "decrypt credential", Err: err}
	}
	c := toCredential(rec, string(plain))
	memguard.WipeBytes(plain)
	return c, nil
}

func toCredential(rec *CredentialRecord, password string) *Credential {
	return &Credential{
		ID:        rec.ID,
		Service:   rec.Service,
		Username:  rec.Username,
		Password:  password,
		Website:   rec.Website,
		Notes:     rec.Notes,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// keyedMutex serializes work per id. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until id is free and returns the matching unlock.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
