package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vkuskov/meeseng/internal/shared"
)

// MemoryStore is a map-backed Store for tests and throwaway deployments.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*User
	contacts map[string]map[string]struct{}
	messages []messageRecord
}

type messageRecord struct {
	Sender      string
	Destination string
	SentAt      time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		contacts: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) UserExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStore) PasswordHash(_ context.Context, username string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, shared.ErrorNotFound
	}
	return u.PasswordHash, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, username string, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return shared.ErrorAlreadyExists
	}
	s.users[username] = &User{
		UserName:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (s *MemoryStore) RecordLogin(_ context.Context, username, ip string, port int, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return shared.ErrorNotFound
	}
	now := time.Now()
	u.LastIP = ip
	u.LastPort = port
	u.PublicKey = publicKey
	u.LoginAt = &now
	return nil
}

func (s *MemoryStore) RecordLogout(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return shared.ErrorNotFound
	}
	now := time.Now()
	u.LogoutAt = &now
	return nil
}

func (s *MemoryStore) Contacts(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, 0, len(s.contacts[username]))
	for c := range s.contacts[username] {
		result = append(result, c)
	}
	sort.Strings(result)
	return result, nil
}

func (s *MemoryStore) AddContact(_ context.Context, username, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contacts[username] == nil {
		s.contacts[username] = make(map[string]struct{})
	}
	s.contacts[username][contact] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveContact(_ context.Context, username, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts[username], contact)
	return nil
}

func (s *MemoryStore) AllUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, 0, len(s.users))
	for name := range s.users {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

func (s *MemoryStore) PublicKey(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok || u.PublicKey == "" {
		return "", shared.ErrorNotFound
	}
	return u.PublicKey, nil
}

func (s *MemoryStore) RecordMessage(_ context.Context, sender, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messageRecord{Sender: sender, Destination: destination, SentAt: time.Now()})
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// MessageCount reports how many deliveries were recorded. Test helper.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
