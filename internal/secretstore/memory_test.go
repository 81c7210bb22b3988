package secretstore

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put("k", []byte("v1")))
	require.NoError(t, s.Put("k", []byte("v2")))
	got, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	in := []byte("secret")
	require.NoError(t, s.Put("k", in))
	in[0] = 'X'

	out, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out)

	out[0] = 'Y'
	again, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)
}

func TestMemoryStore_Fail(t *testing.T) {
	s := NewMemoryStore()
	s.Fail = errors.New("unavailable")

	_, err := s.Get("k")
	assert.ErrorIs(t, err, s.Fail)
	assert.ErrorIs(t, s.Put("k", nil), s.Fail)
	assert.ErrorIs(t, s.Delete("k"), s.Fail)
}

func TestMemoryStore_FailOn(t *testing.T) {
	s := NewMemoryStore()
	denied := errors.New("denied")
	s.FailOn = func(op, key string) error {
		if op == "delete" && key == "locked" {
			return denied
		}
		return nil
	}

	require.NoError(t, s.Put("locked", []byte("v")))
	require.NoError(t, s.Put("free", []byte("v")))
	assert.ErrorIs(t, s.Delete("locked"), denied)
	assert.NoError(t, s.Delete("free"))

	assert.Equal(t, map[string][]byte{"locked": []byte("v")}, s.Snapshot())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put("k", []byte("v"))
			_, _ = s.Get("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}
