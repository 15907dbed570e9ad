package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/combot/combot/internal/observability"
)

// Model is a loaded classifier handle
type Model interface {
	// Classify returns a score per label for text
	Classify(ctx context.Context, text string) (map[string]float64, error)
	Close() error
}

// Loader loads a model by key
type Loader interface {
	Load(ctx context.Context, key string) (Model, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context, key string) (Model, error)

// Load calls f
func (f LoaderFunc) Load(ctx context.Context, key string) (Model, error) {
	return f(ctx, key)
}

// PoolConfig holds model pool configuration
type PoolConfig struct {
	Capacity    int           // Maximum resident models
	LoadTimeout time.Duration // Bound on a single load
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Capacity:    2,
		LoadTimeout: 60 * time.Second,
	}
}

// pooledModel is a resident model with its bookkeeping
type pooledModel struct {
	key      string
	model    Model
	lastUsed time.Time
	loadedAt time.Time
	seq      uint64
}

// ModelInfo describes a resident model
type ModelInfo struct {
	Key      string    `json:"key"`
	LastUsed time.Time `json:"last_used"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Pool keeps a bounded set of loaded models, evicting the least recently used
type Pool struct {
	loader  Loader
	config  *PoolConfig
	entries map[string]*pooledModel
	seq     uint64
	group   singleflight.Group
	mu      sync.Mutex
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPool creates a model pool
func NewPool(loader Loader, config *PoolConfig, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Capacity < 1 {
		config.Capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		loader:  loader,
		config:  config,
		entries: make(map[string]*pooledModel),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns the model for key, loading it on a miss.
// Returns false if the model could not be loaded; nothing is cached in that case.
// Concurrent misses on the same key share a single load.
func (p *Pool) Get(ctx context.Context, key string) (Model, bool) {
	p.mu.Lock()
	if entry, ok := p.entries[key]; ok {
		entry.lastUsed = p.now()
		p.mu.Unlock()
		return entry.model, true
	}
	p.mu.Unlock()

	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.load(key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false
		}
		return res.Val.(Model), true
	case <-ctx.Done():
		return nil, false
	}
}

// load runs one bounded load and inserts the result.
// The load is detached from any single caller's context so a cancelled caller
// does not fail the others waiting on it.
func (p *Pool) load(key string) (Model, error) {
	loadCtx, cancel := context.WithTimeout(context.Background(), p.config.LoadTimeout)
	defer cancel()

	start := time.Now()
	model, err := p.loader.Load(loadCtx, key)
	p.metrics.ObserveModelLoad(err)
	if err != nil {
		p.logger.Warn("model load failed", "model", key, "error", err)
		return nil, fmt.Errorf("failed to load model %s: %w", key, err)
	}
	if model == nil {
		return nil, fmt.Errorf("loader returned no model for %s", key)
	}

	p.logger.Info("model loaded", "model", key, "duration", time.Since(start))
	return p.insert(key, model), nil
}

// insert adds a loaded model, evicting the least recently used entry at capacity
func (p *Pool) insert(key string, model Model) Model {
	var evicted []*pooledModel

	p.mu.Lock()
	if existing, ok := p.entries[key]; ok {
		// lost a race with an earlier load of the same key
		existing.lastUsed = p.now()
		p.mu.Unlock()
		p.closeModel(&pooledModel{key: key, model: model})
		return existing.model
	}

	for len(p.entries) >= p.config.Capacity {
		victim := p.oldestLocked()
		delete(p.entries, victim.key)
		evicted = append(evicted, victim)
	}

	now := p.now()
	p.seq++
	p.entries[key] = &pooledModel{
		key:      key,
		model:    model,
		lastUsed: now,
		loadedAt: now,
		seq:      p.seq,
	}
	size := len(p.entries)
	p.mu.Unlock()

	p.metrics.SetModelsLoaded(size)
	for _, e := range evicted {
		p.logger.Info("evicted model at capacity", "model", e.key)
		p.closeModel(e)
	}
	return model
}

// oldestLocked returns the entry with the smallest lastUsed, earliest insertion on ties
func (p *Pool) oldestLocked() *pooledModel {
	var oldest *pooledModel
	for _, e := range p.entries {
		if oldest == nil ||
			e.lastUsed.Before(oldest.lastUsed) ||
			(e.lastUsed.Equal(oldest.lastUsed) && e.seq < oldest.seq) {
			oldest = e
		}
	}
	return oldest
}

// EvictIdle removes models unused for longer than maxAge and returns how many were removed
func (p *Pool) EvictIdle(maxAge time.Duration) int {
	cutoff := p.now().Add(-maxAge)

	p.mu.Lock()
	var evicted []*pooledModel
	for key, e := range p.entries {
		if e.lastUsed.Before(cutoff) {
			delete(p.entries, key)
			evicted = append(evicted, e)
		}
	}
	size := len(p.entries)
	p.mu.Unlock()

	p.metrics.SetModelsLoaded(size)
	for _, e := range evicted {
		p.logger.Info("evicted idle model", "model", e.key, "idle", p.now().Sub(e.lastUsed))
		p.closeModel(e)
	}
	return len(evicted)
}

// EvictAll unloads every model and returns how many were removed
func (p *Pool) EvictAll() int {
	p.mu.Lock()
	evicted := make([]*pooledModel, 0, len(p.entries))
	for _, e := range p.entries {
		evicted = append(evicted, e)
	}
	p.entries = make(map[string]*pooledModel)
	p.mu.Unlock()

	p.metrics.SetModelsLoaded(0)
	for _, e := range evicted {
		p.closeModel(e)
	}
	return len(evicted)
}

// Len returns the number of resident models
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Capacity returns the maximum number of resident models
func (p *Pool) Capacity() int {
	return p.config.Capacity
}

// Models lists resident models, most recently used first
func (p *Pool) Models() []ModelInfo {
	p.mu.Lock()
	infos := make([]ModelInfo, 0, len(p.entries))
	for _, e := range p.entries {
		infos = append(infos, ModelInfo{Key: e.key, LastUsed: e.lastUsed, LoadedAt: e.loadedAt})
	}
	p.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastUsed.After(infos[j].LastUsed)
	})
	return infos
}

func (p *Pool) closeModel(e *pooledModel) {
	if err := e.model.Close(); err != nil {
		p.logger.Warn("failed to close model", "model", e.key, "error", err)
	}
}
