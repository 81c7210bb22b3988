package secretstore

import (
	"sync"

	"pinvault/internal/pv"
)

// MemoryStore is an in-memory SecretStore, useful for testing and for
// throwaway sessions. Values are copied on the way in and out.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte

	// Fail, when set, is returned by every operation.
	Fail error
	// FailOn, when set, is consulted before each operation with "get",
	// "put" or "delete" and the key; a non-nil result is returned instead.
	FailOn func(op, key string) error
}

var _ pv.SecretStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("get", key); err != nil {
		return nil, err
	}
	v, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("put", key); err != nil {
		return err
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete", key); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Snapshot returns a copy of every stored entry.
func (m *MemoryStore) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.entries))
	for k, v := range m.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (m *MemoryStore) failure(op, key string) error {
	if m.Fail != nil {
		return m.Fail
	}
	if m.FailOn != nil {
		return m.FailOn(op, key)
	}
	return nil
}
