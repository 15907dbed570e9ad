package inference

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/combot/combot/internal/observability"
)

// Gate caps the number of concurrent model invocations
type Gate struct {
	sem     *semaphore.Weighted
	max     int
	active  atomic.Int64
	metrics *observability.Metrics
}

// NewGate creates a gate with max slots. max below 1 is treated as 1.
func NewGate(max int, metrics *observability.Metrics) *Gate {
	if max < 1 {
		max = 1
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(max)),
		max:     max,
		metrics: metrics,
	}
}

// TryAcquire takes a slot, waiting at most timeout. A timeout <= 0 does not wait.
// Returns false on timeout or when ctx is done. Callers must defer Release on success.
func (g *Gate) TryAcquire(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		if !g.sem.TryAcquire(1) {
			return false
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := g.sem.Acquire(waitCtx, 1); err != nil {
			return false
		}
	}

	g.metrics.SetGateActive(int(g.active.Add(1)))
	return true
}

// Release returns a slot. Releasing with no slot held is a no-op.
func (g *Gate) Release() {
	for {
		cur := g.active.Load()
		if cur <= 0 {
			return
		}
		if g.active.CompareAndSwap(cur, cur-1) {
			g.sem.Release(1)
			g.metrics.SetGateActive(int(cur - 1))
			return
		}
	}
}

// Active returns the number of held slots
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Max returns the slot limit
func (g *Gate) Max() int {
	return g.max
}
