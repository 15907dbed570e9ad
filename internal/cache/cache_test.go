package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestKey_Normalizes(t *testing.T) {
	assert.Equal(t, Key("I want a Refund"), Key("  i want a refund\n"))
	assert.NotEqual(t, Key("refund"), Key("return"))
	assert.Equal(t, "ml_classification:", Key("x")[:len(KeyPrefix)])
	assert.Len(t, Key("x"), len(KeyPrefix)+32)
}

func TestResultCache_LocalOnly(t *testing.T) {
	c := NewResultCache(nil, nil, nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "hello")
	assert.False(t, ok)

	r := result("A")
	c.Set(ctx, "hello", r, 0)

	got, ok := c.Get(ctx, " HELLO ")
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestResultCache_WritesBothTiers(t *testing.T) {
	mr, store := newRedis(t)
	c := NewResultCache(store, nil, nil, nil)
	ctx := context.Background()

	c.Set(ctx, "my order is late", result("B"), time.Hour)

	assert.True(t, mr.Exists(Key("my order is late")))
	assert.Equal(t, time.Hour, mr.TTL(Key("my order is late")))
}

func TestResultCache_RedisHitBackfillsLocal(t *testing.T) {
	_, store := newRedis(t)
	ctx := context.Background()

	writer := NewResultCache(store, nil, nil, nil)
	writer.Set(ctx, "shared text", result("C"), time.Hour)

	// a second process has an empty local tier
	reader := NewResultCache(store, nil, nil, nil)
	assert.Equal(t, 0, reader.LocalLen())

	got, ok := reader.Get(ctx, "shared text")
	require.True(t, ok)
	assert.Equal(t, "C", got.PrimaryLabel)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, 1, reader.LocalLen())
}

func TestResultCache_RedisOutageIsMiss(t *testing.T) {
	mr, store := newRedis(t)
	c := NewResultCache(store, &Config{TTL: time.Hour, LocalMaxEntries: 10, RedisTimeout: 100 * time.Millisecond}, nil, nil)
	ctx := context.Background()

	mr.Close()

	assert.NotPanics(t, func() { c.Set(ctx, "text", result("A"), 0) })

	// local tier still serves
	_, ok := c.Get(ctx, "text")
	assert.True(t, ok)

	_, ok = c.Get(ctx, "other")
	assert.False(t, ok)
}

func TestResultCache_Clear(t *testing.T) {
	mr, store := newRedis(t)
	c := NewResultCache(store, nil, nil, nil)
	ctx := context.Background()

	c.Set(ctx, "one", result("A"), time.Hour)
	c.Set(ctx, "two", result("B"), time.Hour)
	require.NoError(t, mr.Set("unrelated", "keep"))

	c.Clear(ctx)

	assert.Equal(t, 0, c.LocalLen())
	assert.False(t, mr.Exists(Key("one")))
	assert.False(t, mr.Exists(Key("two")))
	assert.True(t, mr.Exists("unrelated"))

	_, ok := c.Get(ctx, "one")
	assert.False(t, ok)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr, store := newRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", result("A"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, _, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_GetReportsRemainingTTL(t *testing.T) {
	mr, store := newRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", result("A"), time.Hour))
	mr.FastForward(40 * time.Minute)

	got, remaining, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", got.PrimaryLabel)
	assert.Equal(t, 20*time.Minute, remaining)
}

func TestResultCache_BackfillUsesRemainingTTL(t *testing.T) {
	mr, store := newRedis(t)
	ctx := context.Background()

	writer := NewResultCache(store, nil, nil, nil)
	writer.Set(ctx, "aging text", result("B"), time.Hour)
	mr.FastForward(50 * time.Minute)

	reader := NewResultCache(store, nil, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	reader.local.now = func() time.Time { return now }

	_, ok := reader.Get(ctx, "aging text")
	require.True(t, ok)

	// local copy expires with the shared entry, not a full TTL later
	now = now.Add(11 * time.Minute)
	_, ok = reader.local.Get(Key("aging text"))
	assert.False(t, ok)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
