package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vkuskov/meeseng/internal/dbx"
	"github.com/vkuskov/meeseng/internal/shared"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash BLOB NOT NULL,
    pubkey        TEXT NOT NULL DEFAULT '',
    last_ip       TEXT NOT NULL DEFAULT '',
    last_port     INTEGER NOT NULL DEFAULT 0,
    login_at      TIMESTAMP,
    logout_at     TIMESTAMP,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS contacts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    owner      TEXT NOT NULL,
    contact    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (owner, contact)
);
CREATE TABLE IF NOT EXISTS message_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    sender      TEXT NOT NULL,
    destination TEXT NOT NULL,
    sent_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS login_history (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    username  TEXT NOT NULL,
    ip        TEXT NOT NULL DEFAULT '',
    port      INTEGER NOT NULL DEFAULT 0,
    login_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements Store over a single-file SQLite database, for
// deployments without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("schema init error: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error performing sql request: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username string, passwordHash []byte) error {
	query := `INSERT INTO users (username, password_hash) VALUES (?, ?)
	          ON CONFLICT (username) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return shared.ErrorAlreadyExists
	}
	return nil
}

// RecordLogin updates the user's presence columns and appends a login
// history row in one transaction.
func (s *SQLiteStore) RecordLogin(ctx context.Context, username, ip string, port int, publicKey string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE users
		          SET last_ip = ?, last_port = ?, pubkey = ?, login_at = CURRENT_TIMESTAMP
		          WHERE username = ?`
		if _, err := tx.ExecContext(ctx, query, ip, port, publicKey, username); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		query = `INSERT INTO login_history (username, ip, port) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, username, ip, port); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) RecordLogout(ctx context.Context, username string) error {
	query := `UPDATE users SET logout_at = CURRENT_TIMESTAMP WHERE username = ?`
	if _, err := s.db.ExecContext(ctx, query, username); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Contacts(ctx context.Context, username string) ([]string, error) {
	return s.selectNames(ctx, `SELECT contact FROM contacts WHERE owner = ? ORDER BY contact`, username)
}

func (s *SQLiteStore) AddContact(ctx context.Context, username, contact string) error {
	query := `INSERT INTO contacts (owner, contact) VALUES (?, ?)
	          ON CONFLICT (owner, contact) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, username, contact); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveContact(ctx context.Context, username, contact string) error {
	query := `DELETE FROM contacts WHERE owner = ? AND contact = ?`
	if _, err := s.db.ExecContext(ctx, query, username, contact); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllUsers(ctx context.Context) ([]string, error) {
	return s.selectNames(ctx, `SELECT username FROM users ORDER BY username`)
}

func (s *SQLiteStore) PublicKey(ctx context.Context, username string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT pubkey FROM users WHERE username = ?`, username).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", shared.ErrorNotFound
		}
		return "", fmt.Errorf("error performing sql request: %w", err)
	}
	if key == "" {
		return "", shared.ErrorNotFound
	}
	return key, nil
}

func (s *SQLiteStore) RecordMessage(ctx context.Context, sender, destination string) error {
	query := `INSERT INTO message_history (sender, destination) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sender, destination); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) selectNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
