package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	mu    sync.Mutex
	usage float64
	err   error
}

func (p *fakeProbe) Usage() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage, p.err
}

func (p *fakeProbe) set(u float64) {
	p.mu.Lock()
	p.usage = u
	p.mu.Unlock()
}

type fakeCache struct{ clears atomic.Int32 }

func (c *fakeCache) Clear(ctx context.Context) { c.clears.Add(1) }

type fakePool struct {
	idleEvictions atomic.Int32
	allEvictions  atomic.Int32
	size          int
}

func (p *fakePool) EvictIdle(maxAge time.Duration) int { p.idleEvictions.Add(1); return 0 }
func (p *fakePool) EvictAll() int                      { p.allEvictions.Add(1); n := p.size; p.size = 0; return n }
func (p *fakePool) Len() int                           { return p.size }

type fakeGate struct{ active atomic.Int32 }

func (g *fakeGate) Active() int { return int(g.active.Load()) }

type fakeDB struct {
	closes atomic.Int32
	err    error
}

func (d *fakeDB) CloseIdle() error { d.closes.Add(1); return d.err }

type fakeDrafts struct{ compactions atomic.Int32 }

func (d *fakeDrafts) Compact() error { d.compactions.Add(1); return nil }

type harness struct {
	mgr    *Manager
	probe  *fakeProbe
	cache  *fakeCache
	pool   *fakePool
	gate   *fakeGate
	db     *fakeDB
	drafts *fakeDrafts
	gcs    atomic.Int32
	frees  atomic.Int32
	clock  time.Time
}

func newHarness(usage float64) *harness {
	h := &harness{
		probe:  &fakeProbe{usage: usage},
		cache:  &fakeCache{},
		pool:   &fakePool{size: 2},
		gate:   &fakeGate{},
		db:     &fakeDB{},
		drafts: &fakeDrafts{},
		clock:  time.Unix(1_700_000_000, 0),
	}
	h.mgr = NewManager(h.probe, Resources{
		Cache:         h.cache,
		Models:        h.pool,
		Gate:          h.gate,
		Conversations: h.db,
		Drafts:        h.drafts,
	}, DefaultConfig(), nil, nil)
	h.mgr.now = func() time.Time { return h.clock }
	h.mgr.gc = func() { h.gcs.Add(1) }
	h.mgr.freeOS = func() { h.frees.Add(1) }
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func TestDecide(t *testing.T) {
	cfg := DefaultConfig()
	cooled := cfg.Cooldown
	warm := 10 * time.Second

	tests := []struct {
		name    string
		usage   float64
		since   time.Duration
		lowLoad bool
		want    Tier
	}{
		{"normal", 0.40, cooled, true, TierNormal},
		{"cleanup when idle", 0.65, cooled, true, TierCleanup},
		{"no cleanup under load", 0.65, cooled, false, TierNormal},
		{"no cleanup during cooldown", 0.65, warm, true, TierNormal},
		{"forced ignores load", 0.80, cooled, false, TierForcedCleanup},
		{"forced respects cooldown", 0.80, warm, true, TierNormal},
		{"critical bypasses cooldown", 0.90, warm, false, TierCritical},
		{"exactly at cleanup threshold", 0.60, cooled, true, TierNormal},
		{"exactly at critical threshold", 0.85, cooled, true, TierForcedCleanup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.usage, tt.since, tt.lowLoad, cfg))
		})
	}
}

func TestCheck_CleanupActions(t *testing.T) {
	h := newHarness(0.65)

	tier := h.mgr.Check(context.Background())

	assert.Equal(t, TierCleanup, tier)
	assert.Equal(t, int32(1), h.cache.clears.Load())
	assert.Equal(t, int32(1), h.pool.idleEvictions.Load())
	assert.Equal(t, int32(0), h.pool.allEvictions.Load())
	assert.Equal(t, int32(1), h.gcs.Load())
	assert.Equal(t, int32(0), h.frees.Load())
}

func TestCheck_ForcedCleanupActions(t *testing.T) {
	h := newHarness(0.80)

	tier := h.mgr.Check(context.Background())

	assert.Equal(t, TierForcedCleanup, tier)
	assert.Equal(t, int32(1), h.cache.clears.Load())
	assert.Equal(t, int32(1), h.pool.idleEvictions.Load())
	assert.Equal(t, int32(3), h.gcs.Load())
	assert.Equal(t, int32(1), h.frees.Load())
}

func TestCheck_CriticalActions(t *testing.T) {
	h := newHarness(0.90)
	for i := 0; i < 5; i++ {
		h.mgr.BeginRequest()()
	}

	tier := h.mgr.Check(context.Background())

	assert.Equal(t, TierCritical, tier)
	assert.Equal(t, int32(1), h.pool.allEvictions.Load())
	assert.Equal(t, int32(1), h.cache.clears.Load())
	assert.Equal(t, int32(1), h.db.closes.Load())
	assert.Equal(t, int32(1), h.drafts.compactions.Load())
	assert.Equal(t, int32(1), h.frees.Load())
	assert.Equal(t, int64(0), h.mgr.Status().RequestsServed)
}

func TestCheck_StepFailureDoesNotAbort(t *testing.T) {
	h := newHarness(0.90)
	h.db.err = errors.New("db busy")

	h.mgr.Check(context.Background())

	assert.Equal(t, int32(1), h.drafts.compactions.Load())
	assert.Equal(t, int32(1), h.gcs.Load())
}

func TestCheck_NeverTwiceWithinCooldown(t *testing.T) {
	h := newHarness(0.80)
	ctx := context.Background()

	require.Equal(t, TierForcedCleanup, h.mgr.Check(ctx))

	h.advance(60 * time.Second)
	assert.Equal(t, TierNormal, h.mgr.Check(ctx))

	h.advance(60 * time.Second)
	assert.Equal(t, TierForcedCleanup, h.mgr.Check(ctx))
	assert.Equal(t, int32(2), h.cache.clears.Load())
}

func TestCheck_CriticalTenSecondsAfterCleanup(t *testing.T) {
	h := newHarness(0.65)
	ctx := context.Background()

	require.Equal(t, TierCleanup, h.mgr.Check(ctx))

	h.advance(10 * time.Second)
	h.probe.set(0.90)

	assert.Equal(t, TierCritical, h.mgr.Check(ctx))
}

func TestCheck_BusyGateBlocksPlainCleanup(t *testing.T) {
	h := newHarness(0.65)
	h.gate.active.Store(1)

	assert.Equal(t, TierNormal, h.mgr.Check(context.Background()))

	h.gate.active.Store(0)
	end1 := h.mgr.BeginRequest()
	end2 := h.mgr.BeginRequest()
	assert.Equal(t, TierNormal, h.mgr.Check(context.Background()))

	end1()
	end2()
	end2() // ending twice is harmless
	assert.Equal(t, int64(0), h.mgr.Inflight())
	assert.Equal(t, TierCleanup, h.mgr.Check(context.Background()))
}

func TestCheck_ProbeErrorMeansNoAction(t *testing.T) {
	h := newHarness(0.95)
	h.probe.err = errors.New("no /proc")

	assert.Equal(t, TierNormal, h.mgr.Check(context.Background()))
	assert.Equal(t, int32(0), h.cache.clears.Load())
}

func TestCheck_NilResources(t *testing.T) {
	m := NewManager(StaticProbe(0.9), Resources{}, nil, nil, nil)
	m.gc = func() {}
	m.freeOS = func() {}

	assert.NotPanics(t, func() {
		assert.Equal(t, TierCritical, m.Check(context.Background()))
	})
}

func TestStatus(t *testing.T) {
	h := newHarness(0.70)
	cfg := h.mgr.config
	cfg.MaxUsersPerProcess = 2

	for i := 0; i < 3; i++ {
		h.mgr.BeginRequest()()
	}

	st := h.mgr.Status()
	assert.Equal(t, "warning", st.Status)
	assert.InDelta(t, 0.70, st.MemoryUsage, 1e-9)
	assert.Equal(t, int64(3), st.RequestsServed)
	assert.True(t, st.RecycleRecommended)
	assert.Equal(t, 2, st.ModelsLoaded)
	assert.Nil(t, st.LastCleanup)
	assert.Equal(t, "normal", st.LastTier)

	h.probe.set(0.9)
	h.mgr.Check(context.Background())
	st = h.mgr.Status()
	assert.Equal(t, "critical", st.Status)
	assert.Equal(t, "critical", st.LastTier)
	require.NotNil(t, st.LastCleanup)
	assert.False(t, st.RecycleRecommended)
}

func TestSweep_EvictsIdleModels(t *testing.T) {
	h := newHarness(0.10)

	h.mgr.Sweep(context.Background())

	assert.Equal(t, int32(1), h.pool.idleEvictions.Load())
	assert.Equal(t, int32(0), h.cache.clears.Load())
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	pool := &fakePool{}
	m := NewManager(StaticProbe(0.1), Resources{Models: pool}, cfg, nil, nil)

	m.Start()
	assert.Eventually(t, func() bool { return pool.idleEvictions.Load() > 0 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}
