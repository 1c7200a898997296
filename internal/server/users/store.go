// Package users implements the persistent account and contact store the
// server core calls into: credential lookup, contact-list CRUD and
// login/logout bookkeeping. Backends: Postgres, SQLite, in-memory.
package users

import (
	"context"
	"fmt"
)

// Store is the persistence boundary of the server core. Every call is
// synchronous; the engine performs store calls before the corresponding
// registry mutation, so a failed call never leaves half-updated state.
type Store interface {
	// UserExists reports whether an account with this username exists.
	UserExists(ctx context.Context, username string) (bool, error)

	// PasswordHash returns the stored credential hash for username.
	// shared.ErrorNotFound if the account does not exist.
	PasswordHash(ctx context.Context, username string) ([]byte, error)

	// CreateUser registers a new account. shared.ErrorAlreadyExists if the
	// username is taken.
	CreateUser(ctx context.Context, username string, passwordHash []byte) error

	// RecordLogin stores peer address and public key at login time.
	RecordLogin(ctx context.Context, username, ip string, port int, publicKey string) error

	// RecordLogout stamps the logout time.
	RecordLogout(ctx context.Context, username string) error

	// Contacts returns the contact list of username.
	Contacts(ctx context.Context, username string) ([]string, error)

	// AddContact adds contact to username's list. Adding an existing
	// contact is a no-op.
	AddContact(ctx context.Context, username, contact string) error

	// RemoveContact removes contact from username's list. Removing an
	// absent contact is a no-op.
	RemoveContact(ctx context.Context, username, contact string) error

	// AllUsers returns every known username.
	AllUsers(ctx context.Context) ([]string, error)

	// PublicKey returns the most recent public key announced by username.
	// shared.ErrorNotFound if the account is unknown or never sent one.
	PublicKey(ctx context.Context, username string) (string, error)

	// RecordMessage notes that sender addressed destination, for history
	// and statistics. Fire-and-forget from the core's perspective.
	RecordMessage(ctx context.Context, sender, destination string) error

	Close() error
}

// Open constructs a Store for the given driver: "postgres", "sqlite" or
// "memory". dsn is the Postgres DSN or the SQLite file path.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
