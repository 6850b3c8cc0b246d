package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/authbridge/internal/idp"
)

var _ TokenStore = (*MemoryStorage)(nil)
var _ Sweeper = (*MemoryStorage)(nil)

// MemoryStorage keeps tokens in process memory, the equivalent of the
// browser's session storage: gone when the process exits.
type MemoryStorage struct {
	mu     sync.RWMutex
	tokens map[string]StoredToken
	now    func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tokens: make(map[string]StoredToken),
		now:    time.Now,
	}
}

func (s *MemoryStorage) SetToken(_ context.Context, key string, tok idp.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = newStoredToken(tok)
	return nil
}

// GetToken returns the token stored under key. Expired tokens are removed
// and reported as missing.
func (s *MemoryStorage) GetToken(_ context.Context, key string) (idp.Token, error) {
	s.mu.RLock()
	stored, ok := s.tokens[key]
	s.mu.RUnlock()

	if !ok {
		return idp.Token{}, ErrTokenNotFound
	}
	if stored.expired(s.now()) {
		s.mu.Lock()
		if cur, ok := s.tokens[key]; ok && cur.expired(s.now()) {
			delete(s.tokens, key)
		}
		s.mu.Unlock()
		return idp.Token{}, ErrTokenNotFound
	}
	return stored.Token(), nil
}

func (s *MemoryStorage) DeleteToken(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

// Sweep drops every expired token
func (s *MemoryStorage) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, stored := range s.tokens {
		if stored.expired(now) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed, nil
}
