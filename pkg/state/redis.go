package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// RedisStore keeps schema state in Redis, one JSON document per key.
// Documents have no TTL.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Load returns the saved columns for key, or nil if there are none.
func (s *RedisStore) Load(ctx context.Context, key Key) ([]string, error) {
	Operations.WithLabelValues(backendRedis, "load").Inc()

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		Errors.WithLabelValues(backendRedis, "load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		Errors.WithLabelValues(backendRedis, "load").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	return doc.Columns, nil
}

// Save replaces the saved columns for key.
func (s *RedisStore) Save(ctx context.Context, key Key, columns []string) error {
	Operations.WithLabelValues(backendRedis, "save").Inc()

	data, err := json.Marshal(newDocument(columns))
	if err != nil {
		Errors.WithLabelValues(backendRedis, "save").Inc()
		return fmt.Errorf("marshal state document: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, 0).Err(); err != nil {
		Errors.WithLabelValues(backendRedis, "save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}
