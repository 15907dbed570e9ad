package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combot/combot/internal/config"
	"github.com/combot/combot/internal/models"
)

func newTestStack(t *testing.T) (*classifierStack, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[{"label":"B","score":0.9},{"label":"A","score":0.07},{"label":"C","score":0.03}]]`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Redis.Host = ""
	cfg.ML.InferenceURL = srv.URL
	cfg.ML.InferenceTimeout = 5 * time.Second

	stack := newClassifierStack(cfg, slog.Default(), nil)
	t.Cleanup(func() { stack.Close() })
	return stack, &calls
}

func TestClassifyBatch_KeepsOrderAndCaches(t *testing.T) {
	stack, calls := newTestStack(t)
	texts := []string{"my package never arrived", "   ", "my package never arrived"}

	out, err := classifyBatch(context.Background(), stack, texts, 1)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "B", out[0].Label)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
	assert.Equal(t, models.ProblemTypeOther, out[1].Label)
	assert.Equal(t, "B", out[2].Label)
	assert.True(t, out[2].Cached)

	// warm-up plus one classification; the blank text and the repeat never reach the model
	assert.Equal(t, int32(2), calls.Load())
}

func TestClassifyBatch_RefundOverride(t *testing.T) {
	stack, _ := newTestStack(t)

	out, err := classifyBatch(context.Background(), stack, []string{"I want a refund for this"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "B", out[0].Label)
	assert.True(t, strings.Contains(out[0].Text, "refund"))
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("bogus").Enabled(ctx, slog.LevelInfo))
}

func TestMemoryConfig_CopiesThresholds(t *testing.T) {
	cfg := config.DefaultConfig()
	mc := memoryConfig(cfg)

	assert.Equal(t, cfg.Memory.CriticalThreshold, mc.CriticalThreshold)
	assert.Equal(t, cfg.ML.ModelIdleAge, mc.ModelIdleAge)
}
