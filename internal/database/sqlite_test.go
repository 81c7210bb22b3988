package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinvault/internal/pv"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	require.NoError(t, db.Migrate())
	return db
}

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newRecord(id string, created time.Time) *pv.CredentialRecord {
	return &pv.CredentialRecord{
		ID:             id,
		Service:        "service-" + id,
		Username:       "user@" + id,
		PasswordCipher: []byte("cipher-" + id),
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func ids(recs []*pv.CredentialRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestSQLiteDatabase_InsertAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when credential not found", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.GetCredential(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("round-trips every column", func(t *testing.T) {
		db := newTestDB(t)
		rec := &pv.CredentialRecord{
			ID:             "c-1",
			Service:        "Gmail",
			Username:       "a@b.com",
			PasswordCipher: []byte{0x00, 0x01, 0xfe, 0xff},
			Website:        "mail.google.com",
			Notes:          "work account",
			CreatedAt:      baseTime,
			UpdatedAt:      baseTime.Add(time.Minute),
		}
		require.NoError(t, db.InsertCredential(ctx, rec))

		got, err := db.GetCredential(ctx, "c-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.Service, got.Service)
		assert.Equal(t, rec.Username, got.Username)
		assert.Equal(t, rec.Website, got.Website)
		assert.Equal(t, rec.Notes, got.Notes)
		assert.Equal(t, rec.PasswordCipher, got.PasswordCipher)
		assert.True(t, got.CreatedAt.Equal(rec.CreatedAt), "CreatedAt = %v", got.CreatedAt)
		assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt), "UpdatedAt = %v", got.UpdatedAt)
	})

	t.Run("stores empty website and notes as NULL", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.InsertCredential(ctx, newRecord("c-1", baseTime)))

		var nulls int
		require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE website IS NULL AND notes IS NULL`).Scan(&nulls))
		assert.Equal(t, 1, nulls)
	})

	t.Run("stores passwordCipher as base64 text", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.InsertCredential(ctx, newRecord("c-1", baseTime)))

		var stored string
		require.NoError(t, db.db.QueryRow(`SELECT passwordCipher FROM credentials WHERE id = 'c-1'`).Scan(&stored))
		assert.Equal(t, "Y2lwaGVyLWMtMQ==", stored)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.InsertCredential(ctx, newRecord("c-1", baseTime)))
		assert.Error(t, db.InsertCredential(ctx, newRecord("c-1", baseTime)))
	})
}

func TestSQLiteDatabase_ListCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		db := newTestDB(t)
		got, err := db.ListCredentials(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("orders by createdAt descending", func(t *testing.T) {
		db := newTestDB(t)
		for _, rec := range []*pv.CredentialRecord{
			newRecord("middle", baseTime.Add(time.Hour)),
			newRecord("oldest", baseTime),
			newRecord("newest", baseTime.Add(48*time.Hour)),
		} {
			require.NoError(t, db.InsertCredential(ctx, rec))
		}

		got, err := db.ListCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"newest", "middle", "oldest"}, ids(got))
	})

	t.Run("sub-second ordering", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.InsertCredential(ctx, newRecord("later", baseTime.Add(time.Millisecond))))
		require.NoError(t, db.InsertCredential(ctx, newRecord("earlier", baseTime.Add(900*time.Microsecond))))

		got, err := db.ListCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"later", "earlier"}, ids(got))
	})

	t.Run("same instant falls back to insert order", func(t *testing.T) {
		db := newTestDB(t)
		for _, id := range []string{"first", "second"} {
			require.NoError(t, db.InsertCredential(ctx, newRecord(id, baseTime)))
		}

		got, err := db.ListCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"second", "first"}, ids(got))
	})
}

func TestSQLiteDatabase_UpdateCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("updates mutable columns", func(t *testing.T) {
		db := newTestDB(t)
		rec := newRecord("c-1", baseTime)
		require.NoError(t, db.InsertCredential(ctx, rec))

		rec.Service = "Renamed"
		rec.Website = "example.com"
		rec.PasswordCipher = []byte("new-cipher")
		rec.UpdatedAt = baseTime.Add(time.Hour)
		ok, err := db.UpdateCredential(ctx, rec)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := db.GetCredential(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Service)
		assert.Equal(t, "example.com", got.Website)
		assert.Equal(t, "new-cipher", string(got.PasswordCipher))
		assert.True(t, got.CreatedAt.Equal(baseTime), "CreatedAt = %v", got.CreatedAt)
		assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Hour)), "UpdatedAt = %v", got.UpdatedAt)
	})

	t.Run("missing id", func(t *testing.T) {
		db := newTestDB(t)
		ok, err := db.UpdateCredential(ctx, newRecord("missing", baseTime))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSQLiteDatabase_Delete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.InsertCredential(ctx, newRecord(id, baseTime)))
	}

	ok, err := db.DeleteCredential(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.DeleteCredential(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports nothing removed")

	require.NoError(t, db.DeleteAllCredentials(ctx))
	got, err := db.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteDatabase_RekeyCredentials(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *SQLiteDatabase {
		t.Helper()
		db := newTestDB(t)
		for _, id := range []string{"a", "b"} {
			require.NoError(t, db.InsertCredential(ctx, newRecord(id, baseTime)))
		}
		return db
	}
	rewrite := func(rec *pv.CredentialRecord) ([]byte, error) {
		return append([]byte("re-"), rec.PasswordCipher...), nil
	}
	cipherOf := func(t *testing.T, db *SQLiteDatabase, id string) string {
		t.Helper()
		rec, err := db.GetCredential(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		return string(rec.PasswordCipher)
	}

	t.Run("commits when commit succeeds", func(t *testing.T) {
		db := seed(t)
		committed := false
		err := db.RekeyCredentials(ctx, rewrite, func() error {
			committed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, committed, "commit callback was not called")
		assert.Equal(t, "re-cipher-a", cipherOf(t, db, "a"))
		assert.Equal(t, "re-cipher-b", cipherOf(t, db, "b"))
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db := seed(t)
		fnErr := errors.New("cannot open")
		calls := 0
		err := db.RekeyCredentials(ctx, func(rec *pv.CredentialRecord) ([]byte, error) {
			calls++
			if calls == 2 {
				return nil, fnErr
			}
			return rewrite(rec)
		}, func() error {
			t.Error("commit callback called after fn failure")
			return nil
		})
		require.ErrorIs(t, err, fnErr)
		assert.Equal(t, "cipher-a", cipherOf(t, db, "a"))
		assert.Equal(t, "cipher-b", cipherOf(t, db, "b"))
	})

	t.Run("rolls back when commit fails", func(t *testing.T) {
		db := seed(t)
		commitErr := errors.New("secret store unavailable")
		err := db.RekeyCredentials(ctx, rewrite, func() error { return commitErr })
		require.ErrorIs(t, err, commitErr)
		assert.Equal(t, "cipher-a", cipherOf(t, db, "a"))
	})
}

func TestSQLiteDatabase_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DBFileName)

	db, err := NewSQLiteDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.InsertCredential(ctx, newRecord("c-1", baseTime)))
	db.Close()

	db, err = NewSQLiteDatabase(path)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.CheckMigrations())
	got, err := db.GetCredential(ctx, "c-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
