package store

import (
	"context"
	"sync"
	"time"

	id "handoff/pkg/domain"

	"handoff/internal/exchange/models"
)

// InMemoryStore implements Store with a mutex-guarded map. Suitable for
// development and tests; production deployments use PostgresStore.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[id.InstanceID]*models.ExchangeInstance
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[id.InstanceID]*models.ExchangeInstance),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, inst *models.ExchangeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrAlreadyExists
	}
	stored := inst.Clone()
	stored.Version = 1
	s.instances[inst.ID] = stored
	inst.Version = 1
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.instances[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, inst *models.ExchangeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrConflict
	}
	next := inst.Clone()
	next.Version = stored.Version + 1
	s.instances[inst.ID] = next
	inst.Version = next.Version
	return nil
}

func (s *InMemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExchangeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*models.ExchangeInstance
	for _, stored := range s.instances {
		if len(expired) >= limit {
			break
		}
		if stored.ArchivedAt != nil || stored.State.Terminal() {
			continue
		}
		if now.After(stored.WindowEnd) {
			expired = append(expired, stored.Clone())
		}
	}
	return expired, nil
}
