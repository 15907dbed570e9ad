// Package cache provides the two-tier classification result cache.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/combot/combot/internal/models"
	"github.com/combot/combot/internal/observability"
)

// KeyPrefix namespaces classification results in the shared tier
const KeyPrefix = "ml_classification:"

// Key derives the cache key for text: prefix + md5(lower(trim(text)))
func Key(text string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Config holds result cache configuration
type Config struct {
	TTL             time.Duration
	LocalMaxEntries int
	RedisTimeout    time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:             2 * time.Hour,
		LocalMaxEntries: 1000,
		RedisTimeout:    500 * time.Millisecond,
	}
}

// ResultCache reads the local tier first, then Redis, and writes both.
// Redis failures are logged and treated as misses.
type ResultCache struct {
	local   *LocalCache
	remote  *RedisStore // nil = local only
	config  *Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResultCache creates a result cache. remote may be nil.
func NewResultCache(remote *RedisStore, config *Config, logger *slog.Logger, metrics *observability.Metrics) *ResultCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		local:   NewLocalCache(config.LocalMaxEntries),
		remote:  remote,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Get looks up a result for text
func (c *ResultCache) Get(ctx context.Context, text string) (*models.ClassificationResult, bool) {
	key := Key(text)

	if result, ok := c.local.Get(key); ok {
		c.metrics.ObserveCacheLookup("local", true)
		return result, true
	}
	c.metrics.ObserveCacheLookup("local", false)

	if c.remote == nil {
		return nil, false
	}

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	result, remaining, ok, err := c.remote.Get(rctx, key)
	if err != nil {
		c.logger.Warn("redis cache read failed", "error", err)
		return nil, false
	}
	c.metrics.ObserveCacheLookup("redis", ok)
	if !ok {
		return nil, false
	}

	// the local copy must not outlive the shared entry
	ttl := c.config.TTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	c.local.Set(key, result, ttl)
	return result, true
}

// Set stores result for text in both tiers. ttl <= 0 uses the configured default.
func (c *ResultCache) Set(ctx context.Context, text string, result *models.ClassificationResult, ttl time.Duration) {
	if result == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	key := Key(text)

	c.local.Set(key, result, ttl)

	if c.remote == nil {
		return
	}

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	if err := c.remote.Set(rctx, key, result, ttl); err != nil {
		c.logger.Warn("redis cache write failed", "error", err)
	}
}

// Clear drops the local tier and every classification key in Redis
func (c *ResultCache) Clear(ctx context.Context) {
	localCount := c.local.Clear()

	remoteCount := 0
	if c.remote != nil {
		n, err := c.remote.DeletePattern(ctx, KeyPrefix+"*")
		if err != nil {
			c.logger.Warn("redis cache clear failed", "error", err)
		}
		remoteCount = n
	}

	c.logger.Info("result cache cleared", "local", localCount, "redis", remoteCount)
}

// LocalLen returns the local tier size
func (c *ResultCache) LocalLen() int {
	return c.local.Len()
}

func (c *ResultCache) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.RedisTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.RedisTimeout)
}
