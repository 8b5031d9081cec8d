package qrconfirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "handoff/pkg/domain"
)

const (
	tokenKeyPrefix = "qr:tok:"
	usedKeyPrefix  = "qr:used:"

	// usedTombstoneTTL keeps the used marker around long enough for a
	// duplicate scan to get token_already_used instead of token_expired.
	usedTombstoneTTL = 24 * time.Hour
)

// RedisTokenStore is the production TokenStore: single-use semantics via an
// atomic GETDEL, expiry handled by Redis TTLs so no sweep is needed.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Save(ctx context.Context, tokenHash string, instanceID id.InstanceID, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("qr token ttl must be positive")
	}
	key := tokenKeyPrefix + tokenHash
	ok, err := s.client.SetNX(ctx, key, instanceID.String(), ttl).Result()
	if err != nil {
		return fmt.Errorf("save qr token: %w", err)
	}
	if !ok {
		return fmt.Errorf("qr token hash collision")
	}
	return nil
}

func (s *RedisTokenStore) Consume(ctx context.Context, tokenHash string) (id.InstanceID, error) {
	key := tokenKeyPrefix + tokenHash

	value, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		used, err := s.client.Exists(ctx, usedKeyPrefix+tokenHash).Result()
		if err != nil {
			return id.InstanceID{}, fmt.Errorf("check used qr token: %w", err)
		}
		if used > 0 {
			return id.InstanceID{}, ErrTokenUsed
		}
		return id.InstanceID{}, ErrTokenNotFound
	}
	if err != nil {
		return id.InstanceID{}, fmt.Errorf("consume qr token: %w", err)
	}

	if err := s.client.Set(ctx, usedKeyPrefix+tokenHash, "1", usedTombstoneTTL).Err(); err != nil {
		return id.InstanceID{}, fmt.Errorf("mark qr token used: %w", err)
	}

	instanceID, err := id.ParseInstanceID(value)
	if err != nil {
		return id.InstanceID{}, fmt.Errorf("stored qr token value is not an instance id: %w", err)
	}
	return instanceID, nil
}
