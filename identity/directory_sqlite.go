package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const directorySchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT    PRIMARY KEY,
	email         TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

// SQLiteDirectory is a Directory backed by a single SQLite table.
type SQLiteDirectory struct {
	db *sql.DB
}

// OpenSQLiteDirectory opens (creating if needed) the database at path.
func OpenSQLiteDirectory(path string) (*SQLiteDirectory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(directorySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create directory schema: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

// Close releases the underlying database.
func (d *SQLiteDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Add registers an account and returns it with a generated ID.
func (d *SQLiteDirectory) Add(ctx context.Context, email, passwordHash string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrInvalidInput
	}
	if _, err := d.Lookup(ctx, email); err == nil {
		return Account{}, ErrAccountExists
	} else if !errors.Is(err, ErrUnknownAccount) {
		return Account{}, err
	}

	acc := Account{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, updated_at) VALUES (?, ?, ?, ?)`,
		acc.ID, acc.Email, acc.PasswordHash, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acc, nil
}

func (d *SQLiteDirectory) Lookup(ctx context.Context, email string) (Account, error) {
	var acc Account
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash FROM accounts WHERE email = ?`,
		normalizeEmail(email),
	).Scan(&acc.ID, &acc.Email, &acc.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrUnknownAccount
		}
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return acc, nil
}

func (d *SQLiteDirectory) SetPasswordHash(ctx context.Context, accountID, hash string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC().UnixMilli(), accountID,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return ErrUnknownAccount
	}
	return nil
}
