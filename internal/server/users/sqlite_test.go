package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vkuskov/meeseng/internal/shared"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.db")
	s, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteUserLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	ok, err := s.UserExists(ctx, "alice")
	if err != nil || ok {
		t.Fatalf("UserExists before create: ok=%v err=%v", ok, err)
	}

	if err := s.CreateUser(ctx, "alice", []byte("hash")); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	ok, err = s.UserExists(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("UserExists after create: ok=%v err=%v", ok, err)
	}

	hash, err := s.PasswordHash(ctx, "alice")
	if err != nil || string(hash) != "hash" {
		t.Fatalf("PasswordHash: got %q, err=%v", hash, err)
	}

	if err := s.CreateUser(ctx, "alice", []byte("other")); !errors.Is(err, shared.ErrorAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrorAlreadyExists, got %v", err)
	}
}

func TestSQLitePasswordHash_Unknown(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.PasswordHash(context.Background(), "ghost")
	if !errors.Is(err, shared.ErrorNotFound) {
		t.Fatalf("expected shared.ErrorNotFound, got %v", err)
	}
}

func TestSQLiteRecordLogin(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", []byte("hash")); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordLogin(ctx, "alice", "10.0.0.5", 51234, "pubkey-pem"); err != nil {
		t.Fatalf("RecordLogin error: %v", err)
	}

	key, err := s.PublicKey(ctx, "alice")
	if err != nil || key != "pubkey-pem" {
		t.Fatalf("PublicKey after login: got %q, err=%v", key, err)
	}

	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM login_history WHERE username = ?`, "alice").Scan(&n)
	if err != nil || n != 1 {
		t.Fatalf("login_history rows: n=%d err=%v", n, err)
	}

	if err := s.RecordLogout(ctx, "alice"); err != nil {
		t.Fatalf("RecordLogout error: %v", err)
	}
}

func TestSQLitePublicKey_EmptyTreatedAsAbsent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", []byte("hash")); err != nil {
		t.Fatal(err)
	}

	_, err := s.PublicKey(ctx, "alice")
	if !errors.Is(err, shared.ErrorNotFound) {
		t.Fatalf("expected shared.ErrorNotFound for empty key, got %v", err)
	}
}

func TestSQLiteContacts(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		if err := s.CreateUser(ctx, name, []byte("hash")); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.AddContact(ctx, "alice", "carol"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	// adding twice is a no-op
	if err := s.AddContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Contacts(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("unexpected contacts: %v", got)
	}

	if err := s.RemoveContact(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Contacts(ctx, "alice")
	if err != nil || len(got) != 1 || got[0] != "carol" {
		t.Fatalf("after remove: %v err=%v", got, err)
	}
}

func TestSQLiteRecordMessage(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if err := s.RecordMessage(ctx, "alice", "bob"); err != nil {
		t.Fatalf("RecordMessage error: %v", err)
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_history`).Scan(&n)
	if err != nil || n != 1 {
		t.Fatalf("message_history rows: n=%d err=%v", n, err)
	}
}
