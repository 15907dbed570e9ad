// Package memory watches system memory and sheds cached state under pressure.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/combot/combot/internal/observability"
)

// Tier is the severity of a memory action
type Tier int

const (
	TierNormal Tier = iota
	TierCleanup
	TierForcedCleanup
	TierCritical
)

// String returns the tier name used in logs and metrics
func (t Tier) String() string {
	switch t {
	case TierCleanup:
		return "cleanup"
	case TierForcedCleanup:
		return "forced_cleanup"
	case TierCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Config holds memory manager thresholds and timings
type Config struct {
	CleanupThreshold   float64
	ForceThreshold     float64
	CriticalThreshold  float64
	Cooldown           time.Duration
	SweepInterval      time.Duration
	ModelIdleAge       time.Duration
	LowLoadInflight    int
	MaxUsersPerProcess int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupThreshold:   0.60,
		ForceThreshold:     0.75,
		CriticalThreshold:  0.85,
		Cooldown:           120 * time.Second,
		SweepInterval:      5 * time.Minute,
		ModelIdleAge:       time.Hour,
		LowLoadInflight:    1,
		MaxUsersPerProcess: 200,
	}
}

// Decide picks the tier for a usage reading. Critical ignores the cooldown;
// a plain cleanup additionally requires low load.
func Decide(usage float64, sinceLast time.Duration, lowLoad bool, cfg *Config) Tier {
	cooled := sinceLast >= cfg.Cooldown
	switch {
	case usage > cfg.CriticalThreshold:
		return TierCritical
	case usage > cfg.ForceThreshold && cooled:
		return TierForcedCleanup
	case usage > cfg.CleanupThreshold && cooled && lowLoad:
		return TierCleanup
	default:
		return TierNormal
	}
}

// ResultCache is cleared on every non-normal tier
type ResultCache interface {
	Clear(ctx context.Context)
}

// ModelPool is trimmed on every non-normal tier
type ModelPool interface {
	EvictIdle(maxAge time.Duration) int
	EvictAll() int
	Len() int
}

// Gate reports classification load
type Gate interface {
	Active() int
}

// IdleCloser drops idle database connections
type IdleCloser interface {
	CloseIdle() error
}

// Compactor reclaims space in an embedded store
type Compactor interface {
	Compact() error
}

// Resources are the things the manager can release. Nil fields are skipped.
type Resources struct {
	Cache         ResultCache
	Models        ModelPool
	Gate          Gate
	Conversations IdleCloser
	Drafts        Compactor
}

// Status is a snapshot for the status endpoint
type Status struct {
	MemoryUsage        float64            `json:"memory_usage"`
	ProcessRSSMB       float64            `json:"process_rss_mb,omitempty"`
	Thresholds         map[string]float64 `json:"thresholds"`
	Status             string             `json:"status"`
	LastTier           string             `json:"last_tier"`
	LastCleanup        *time.Time         `json:"last_cleanup,omitempty"`
	RequestsServed     int64              `json:"user_count"`
	InflightRequests   int64              `json:"inflight_requests"`
	MaxUsersPerProcess int                `json:"max_users_per_process"`
	RecycleRecommended bool               `json:"recycle_recommended"`
	ModelsLoaded       int                `json:"models_loaded"`
}

// Manager evaluates memory pressure and runs tiered cleanup
type Manager struct {
	probe     Probe
	resources Resources
	config    *Config
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu          sync.Mutex
	lastCleanup time.Time
	lastTier    Tier
	running     bool

	requestsServed atomic.Int64
	inflight       atomic.Int64

	now    func() time.Time
	gc     func()
	freeOS func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a memory manager
func NewManager(probe Probe, resources Resources, config *Config, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if probe == nil {
		probe = StaticProbe(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		probe:     probe,
		resources: resources,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		gc:        runtime.GC,
		freeOS:    debug.FreeOSMemory,
		stopCh:    make(chan struct{}),
	}
}

// BeginRequest records a served request and returns the func that ends it
func (m *Manager) BeginRequest() func() {
	m.requestsServed.Add(1)
	m.inflight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { m.inflight.Add(-1) })
	}
}

// Inflight returns the number of requests being served
func (m *Manager) Inflight() int64 {
	return m.inflight.Load()
}

func (m *Manager) usage() float64 {
	usage, err := m.probe.Usage()
	if err != nil {
		m.logger.Debug("memory probe failed", "error", err)
		return 0
	}
	m.metrics.SetMemoryUsage(usage)
	return usage
}

func (m *Manager) lowLoad() bool {
	if m.inflight.Load() > int64(m.config.LowLoadInflight) {
		return false
	}
	if m.resources.Gate != nil && m.resources.Gate.Active() > 0 {
		return false
	}
	return true
}

// Check probes memory, decides a tier, and runs its actions.
// Returns the tier that was executed, TierNormal if nothing ran.
func (m *Manager) Check(ctx context.Context) Tier {
	usage := m.usage()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return TierNormal
	}
	now := m.now()
	tier := Decide(usage, now.Sub(m.lastCleanup), m.lowLoad(), m.config)
	if tier == TierNormal {
		m.mu.Unlock()
		return TierNormal
	}
	m.running = true
	m.lastCleanup = now
	m.lastTier = tier
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.logger.Warn("memory pressure, running cleanup", "tier", tier.String(), "usage", usage)
	m.execute(ctx, tier)
	m.metrics.ObserveCleanup(tier.String())
	return tier
}

func (m *Manager) execute(ctx context.Context, tier Tier) {
	r := m.resources
	switch tier {
	case TierCleanup:
		m.clearCache(ctx)
		m.evictIdle()
		m.step("gc", func() error { m.gc(); return nil })

	case TierForcedCleanup:
		m.clearCache(ctx)
		m.evictIdle()
		m.step("gc", func() error {
			for i := 0; i < 3; i++ {
				m.gc()
			}
			m.freeOS()
			return nil
		})

	case TierCritical:
		if r.Models != nil {
			m.step("unload models", func() error {
				n := r.Models.EvictAll()
				m.logger.Info("unloaded all models", "count", n)
				return nil
			})
		}
		m.clearCache(ctx)
		if r.Conversations != nil {
			m.step("close idle connections", r.Conversations.CloseIdle)
		}
		if r.Drafts != nil {
			m.step("compact drafts", r.Drafts.Compact)
		}
		m.step("gc", func() error {
			m.gc()
			m.freeOS()
			return nil
		})
		m.requestsServed.Store(0)
	}
}

func (m *Manager) clearCache(ctx context.Context) {
	if m.resources.Cache == nil {
		return
	}
	m.step("clear cache", func() error {
		m.resources.Cache.Clear(ctx)
		return nil
	})
}

func (m *Manager) evictIdle() {
	if m.resources.Models == nil {
		return
	}
	m.step("evict idle models", func() error {
		if n := m.resources.Models.EvictIdle(m.config.ModelIdleAge); n > 0 {
			m.logger.Info("evicted idle models", "count", n)
		}
		return nil
	})
}

// step runs one cleanup action; failures are logged and never stop the sequence
func (m *Manager) step(name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("cleanup step panicked", "step", name, "panic", fmt.Sprint(rec))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("cleanup step failed", "step", name, "error", err)
	}
}

// Status returns a snapshot of memory and load state
func (m *Manager) Status() Status {
	usage := m.usage()

	m.mu.Lock()
	last := m.lastCleanup
	lastTier := m.lastTier
	m.mu.Unlock()

	served := m.requestsServed.Load()
	st := Status{
		MemoryUsage: usage,
		Thresholds: map[string]float64{
			"cleanup":  m.config.CleanupThreshold,
			"force":    m.config.ForceThreshold,
			"critical": m.config.CriticalThreshold,
		},
		Status:             "healthy",
		LastTier:           lastTier.String(),
		RequestsServed:     served,
		InflightRequests:   m.inflight.Load(),
		MaxUsersPerProcess: m.config.MaxUsersPerProcess,
		RecycleRecommended: m.config.MaxUsersPerProcess > 0 && served > int64(m.config.MaxUsersPerProcess),
	}
	switch {
	case usage > m.config.CriticalThreshold:
		st.Status = "critical"
	case usage >= m.config.CleanupThreshold:
		st.Status = "warning"
	}
	if !last.IsZero() {
		st.LastCleanup = &last
	}
	if m.resources.Models != nil {
		st.ModelsLoaded = m.resources.Models.Len()
	}
	if pp, ok := m.probe.(ProcessProbe); ok {
		if rss, err := pp.ResidentBytes(); err == nil {
			st.ProcessRSSMB = float64(rss) / (1 << 20)
		}
	}
	return st
}

// Start launches the periodic sweep
func (m *Manager) Start() {
	if m.config.SweepInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.runPeriodicSweep()
}

// Stop ends the periodic sweep and waits for it
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// runPeriodicSweep evicts idle models and re-checks memory on every tick
func (m *Manager) runPeriodicSweep() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep runs one periodic pass
func (m *Manager) Sweep(ctx context.Context) {
	if m.resources.Models != nil {
		if n := m.resources.Models.EvictIdle(m.config.ModelIdleAge); n > 0 {
			m.logger.Info("sweep evicted idle models", "count", n)
		}
	}
	m.Check(ctx)
}
