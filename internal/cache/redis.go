package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/combot/combot/internal/models"
)

// RedisOptions holds the shared cache connection settings
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore is the shared cache tier
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get loads a result and its remaining TTL. A missing key returns (nil, 0, false, nil).
// A key without expiry reports a TTL of 0.
func (s *RedisStore) Get(ctx context.Context, key string) (*models.ClassificationResult, time.Duration, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if errors.Is(get.Err(), redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	raw, err := get.Bytes()
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var result models.ClassificationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, 0, false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return &result, ttl, true, nil
}

// Set stores a result with ttl
func (s *RedisStore) Set(ctx context.Context, key string, result *models.ClassificationResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// DeletePattern removes every key matching pattern using SCAN + DEL
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	var batch []string
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan keys: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
