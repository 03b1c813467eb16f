package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore is the narrow contract the dedup manager needs from the
// idempotency cache: get, atomic set-if-absent with expiry, plain set,
// delete. Expiry is the store's eviction contract; the manager never
// sweeps keys itself.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (ok bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) (existed bool, err error)
}

// RedisKVStore backs KVStore with a Redis client. The client is injected so
// the store's lifecycle is owned by startup/shutdown, not by first use.
type RedisKVStore struct {
	Client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{Client: client}
}

func (s *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisKVStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.Client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisKVStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := s.Client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
