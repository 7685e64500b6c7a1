package existence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"provenance/pkg/domain"
)

const keyPrefix = "provenance:exists:"

// RedisStore shares positive existence answers across instances.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(id domain.ProductID) string {
	return keyPrefix + string(id)
}

func (s *RedisStore) Has(ctx context.Context, id domain.ProductID) (bool, error) {
	n, err := s.client.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Remember(ctx context.Context, id domain.ProductID) error {
	if err := s.client.Set(ctx, key(id), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
