package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vkuskov/meeseng/internal/dbx"
	"github.com/vkuskov/meeseng/internal/server/migrations"
	"github.com/vkuskov/meeseng/internal/shared"
)

// PostgresStore implements Store over a Postgres database via the pgx
// stdlib driver. Schema is managed with embedded goose migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	if err := s.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("error performing sql request: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	query := `SELECT password_hash FROM users WHERE username = $1`
	err := s.db.QueryRowContext(ctx, query, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username string, passwordHash []byte) error {
	query := `INSERT INTO users (username, password_hash)
	          VALUES ($1, $2)
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
func (s *PostgresStore) RecordLogin(ctx context.Context, username, ip string, port int, publicKey string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE users
		          SET last_ip = $2, last_port = $3, pubkey = $4, login_at = now()
		          WHERE username = $1`
		if _, err := tx.ExecContext(ctx, query, username, ip, port, publicKey); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		query = `INSERT INTO login_history (username, ip, port) VALUES ($1, $2, $3)`
		if _, err := tx.ExecContext(ctx, query, username, ip, port); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RecordLogout(ctx context.Context, username string) error {
	query := `UPDATE users SET logout_at = now() WHERE username = $1`
	_, err := s.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Contacts(ctx context.Context, username string) ([]string, error) {
	query := `SELECT contact FROM contacts WHERE owner = $1 ORDER BY contact`
	return s.selectNames(ctx, query, username)
}

func (s *PostgresStore) AddContact(ctx context.Context, username, contact string) error {
	query := `INSERT INTO contacts (owner, contact)
	          VALUES ($1, $2)
	          ON CONFLICT (owner, contact) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, username, contact); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveContact(ctx context.Context, username, contact string) error {
	query := `DELETE FROM contacts WHERE owner = $1 AND contact = $2`
	if _, err := s.db.ExecContext(ctx, query, username, contact); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStore) AllUsers(ctx context.Context) ([]string, error) {
	query := `SELECT username FROM users ORDER BY username`
	return s.selectNames(ctx, query)
}

func (s *PostgresStore) PublicKey(ctx context.Context, username string) (string, error) {
	var key string
	query := `SELECT pubkey FROM users WHERE username = $1`
	err := s.db.QueryRowContext(ctx, query, username).Scan(&key)
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

func (s *PostgresStore) RecordMessage(ctx context.Context, sender, destination string) error {
	query := `INSERT INTO message_history (sender, destination) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, sender, destination); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) selectNames(ctx context.Context, query string, args ...any) ([]string, error) {
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
