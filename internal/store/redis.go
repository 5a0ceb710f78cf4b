package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBackend stores slots in a Redis hash. Intended for kiosk and shared
// dispatch-desk deployments that already run a local Redis; each client
// namespaces its slots with its own hash key.
type RedisBackend struct {
	client  *redis.Client
	hashKey string
	logger  zerolog.Logger
}

// NewRedisBackend connects to Redis at addr and stores slots under the hash
// key "vitalsync:slots:<namespace>".
func NewRedisBackend(ctx context.Context, addr, namespace string, logger zerolog.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{
		client:  client,
		hashKey: "vitalsync:slots:" + namespace,
		logger:  logger.With().Str("component", "redis_backend").Logger(),
	}, nil
}

// Get returns the raw bytes of a slot, or ErrSlotNotFound.
func (b *RedisBackend) Get(ctx context.Context, slot string) ([]byte, error) {
	data, err := b.client.HGet(ctx, b.hashKey, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return data, nil
}

// Put overwrites the slot with the given bytes.
func (b *RedisBackend) Put(ctx context.Context, slot string, data []byte) error {
	if err := b.client.HSet(ctx, b.hashKey, slot, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete removes the slot.
func (b *RedisBackend) Delete(ctx context.Context, slot string) error {
	if err := b.client.HDel(ctx, b.hashKey, slot).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Slots lists the slot names currently present.
func (b *RedisBackend) Slots(ctx context.Context) ([]string, error) {
	names, err := b.client.HKeys(ctx, b.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return names, nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
