package database

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pinvault/internal/database/migrations"
	"pinvault/internal/pv"
)

// timeFormat is fixed-width UTC so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteDatabase implements pv.CredentialStore using SQLite.
// passwordCipher is stored as base64 text; empty website and notes as NULL.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ pv.CredentialStore = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path, which can be a file path or
// ":memory:". The schema is not touched; see NewDatabaseFromConfig.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// An in-memory database is limited to one connection, since every new
// connection to ":memory:" would see an empty database of its own.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		q := url.Values{}
		q.Set("_busy_timeout", "5000")
		q.Set("_foreign_keys", "on")
		dsn = "file:" + path + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations returns an error if the schema is not at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

func (s *SQLiteDatabase) InsertCredential(ctx context.Context, rec *pv.CredentialRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, service, username, passwordCipher, website, notes, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Service, rec.Username, encodeCipher(rec.PasswordCipher),
		nullString(rec.Website), nullString(rec.Notes),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

// GetCredential returns (nil, nil) when id does not exist.
func (s *SQLiteDatabase) GetCredential(ctx context.Context, id string) (*pv.CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, username, passwordCipher, website, notes, createdAt, updatedAt
		FROM credentials WHERE id = ?`, id)
	rec, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return rec, nil
}

// ListCredentials returns every record ordered by createdAt descending.
// Records created in the same instant come back newest insert first.
func (s *SQLiteDatabase) ListCredentials(ctx context.Context) ([]*pv.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, username, passwordCipher, website, notes, createdAt, updatedAt
		FROM credentials ORDER BY createdAt DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var out []*pv.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) UpdateCredential(ctx context.Context, rec *pv.CredentialRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET service = ?, username = ?, passwordCipher = ?, website = ?, notes = ?, updatedAt = ?
		WHERE id = ?`,
		rec.Service, rec.Username, encodeCipher(rec.PasswordCipher),
		nullString(rec.Website), nullString(rec.Notes), formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return false, fmt.Errorf("updating credential: %w", err)
	}
	return affected(res)
}

func (s *SQLiteDatabase) DeleteCredential(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting credential: %w", err)
	}
	return affected(res)
}

func (s *SQLiteDatabase) DeleteAllCredentials(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("deleting all credentials: %w", err)
	}
	return nil
}

// RekeyCredentials rewrites every passwordCipher inside one transaction.
// If fn or commit fails the transaction is rolled back and nothing changes.
func (s *SQLiteDatabase) RekeyCredentials(ctx context.Context, fn func(*pv.CredentialRecord) ([]byte, error), commit func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, service, username, passwordCipher, website, notes, createdAt, updatedAt
		FROM credentials`)
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}
	var recs []*pv.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scanning credential: %w", err)
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	for _, rec := range recs {
		sealed, err := fn(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE credentials SET passwordCipher = ? WHERE id = ?`,
			encodeCipher(sealed), rec.ID); err != nil {
			return fmt.Errorf("rewriting credential: %w", err)
		}
	}

	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(sc scanner) (*pv.CredentialRecord, error) {
	var (
		rec                  pv.CredentialRecord
		cipherText           string
		website, notes       sql.NullString
		createdAt, updatedAt string
	)
	if err := sc.Scan(&rec.ID, &rec.Service, &rec.Username, &cipherText, &website, &notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.PasswordCipher, err = base64.StdEncoding.DecodeString(cipherText); err != nil {
		return nil, fmt.Errorf("decoding passwordCipher for %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing createdAt for %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updatedAt for %s: %w", rec.ID, err)
	}
	rec.Website = website.String
	rec.Notes = notes.String
	return &rec, nil
}

func encodeCipher(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}
