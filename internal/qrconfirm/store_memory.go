package qrconfirm

import (
	"context"
	"sync"
	"time"

	id "handoff/pkg/domain"
)

type memoryToken struct {
	instanceID id.InstanceID
	expiresAt  time.Time
	used       bool
}

// InMemoryTokenStore implements TokenStore with a mutex-guarded map.
// Suitable for development and tests; production deployments share token
// state across replicas through RedisTokenStore.
type InMemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*memoryToken
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]*memoryToken)}
}

func (s *InMemoryTokenStore) Save(ctx context.Context, tokenHash string, instanceID id.InstanceID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = &memoryToken{
		instanceID: instanceID,
		expiresAt:  time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryTokenStore) Consume(ctx context.Context, tokenHash string) (id.InstanceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tokenHash]
	if !ok {
		return id.InstanceID{}, ErrTokenNotFound
	}
	if tok.used {
		return id.InstanceID{}, ErrTokenUsed
	}
	if time.Now().UTC().After(tok.expiresAt) {
		delete(s.tokens, tokenHash)
		return id.InstanceID{}, ErrTokenNotFound
	}
	tok.used = true
	return tok.instanceID, nil
}
