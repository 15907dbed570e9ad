package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/combot/combot/internal/cache"
	"github.com/combot/combot/internal/classify"
	"github.com/combot/combot/internal/config"
	"github.com/combot/combot/internal/inference"
	"github.com/combot/combot/internal/memory"
	"github.com/combot/combot/internal/observability"
)

// classifierStack is everything needed to classify text
type classifierStack struct {
	redis   *cache.RedisStore
	cache   *cache.ResultCache
	client  *inference.Client
	pool    *inference.Pool
	gate    *inference.Gate
	service *classify.Service
}

func newMetrics() *observability.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return observability.NewMetrics(reg)
}

// newClassifierStack wires the cache tiers, model pool, and gate into a classification service.
// An unreachable Redis leaves the service on the local tier only.
func newClassifierStack(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *classifierStack {
	s := &classifierStack{}

	if cfg.Redis.Host != "" {
		redis, err := cache.NewRedisStore(cache.RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn("redis unavailable, using local cache only", "addr", cfg.Redis.Addr(), "error", err)
		} else {
			s.redis = redis
		}
	}

	s.cache = cache.NewResultCache(s.redis, &cache.Config{
		TTL:             cfg.Cache.ResultTTL,
		LocalMaxEntries: cfg.Cache.LocalMaxEntries,
		RedisTimeout:    cfg.Cache.RedisTimeout,
	}, logger, metrics)

	clientCfg := inference.DefaultConfig()
	clientCfg.BaseURL = cfg.ML.InferenceURL
	clientCfg.APIToken = cfg.ML.APIToken
	clientCfg.Timeout = cfg.ML.InferenceTimeout
	s.client = inference.NewClient(clientCfg, logger)

	s.pool = inference.NewPool(s.client, &inference.PoolConfig{
		Capacity:    cfg.ML.MaxModels,
		LoadTimeout: cfg.ML.LoadTimeout,
	}, logger, metrics)
	s.gate = inference.NewGate(cfg.ML.MaxConcurrent, metrics)

	s.service = classify.NewService(s.cache, s.pool, s.gate, &classify.Config{
		ModelName:        cfg.ML.ModelName,
		AcquireTimeout:   cfg.ML.AcquireTimeout,
		InferenceTimeout: cfg.ML.InferenceTimeout,
		ResultTTL:        cfg.Cache.ResultTTL,
		ReturnKeywords:   cfg.ML.ReturnKeywords,
		ReturnThreshold:  cfg.ML.ReturnThreshold,
		DefaultThreshold: cfg.ML.DefaultThreshold,
	}, logger, metrics)

	return s
}

func (s *classifierStack) Close() error {
	s.pool.EvictAll()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func memoryConfig(cfg *config.Config) *memory.Config {
	return &memory.Config{
		CleanupThreshold:   cfg.Memory.CleanupThreshold,
		ForceThreshold:     cfg.Memory.ForceThreshold,
		CriticalThreshold:  cfg.Memory.CriticalThreshold,
		Cooldown:           cfg.Memory.Cooldown,
		SweepInterval:      cfg.Memory.SweepInterval,
		ModelIdleAge:       cfg.ML.ModelIdleAge,
		LowLoadInflight:    cfg.Memory.LowLoadInflight,
		MaxUsersPerProcess: cfg.Memory.MaxUsersPerProcess,
	}
}
