package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combot/combot/internal/models"
)

func result(label string) *models.ClassificationResult {
	return models.NewClassificationResult(map[string]float64{label: 0.9}, time.Millisecond)
}

func TestLocalCache_GetSet(t *testing.T) {
	c := NewLocalCache(10)

	_, ok := c.Get("k")
	assert.False(t, ok)

	r := result("A")
	c.Set("k", r, time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache(10)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", result("A"), time.Minute)

	now = now.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_DropsOldestHalfWhenFull(t *testing.T) {
	c := NewLocalCache(4)
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), result("A"), time.Hour)
	}
	// touching k0 must not change its insertion position
	c.Set("k0", result("B"), time.Hour)

	c.Set("k4", result("A"), time.Hour)

	assert.Equal(t, 3, c.Len())
	for _, key := range []string{"k0", "k1"} {
		_, ok := c.Get(key)
		assert.False(t, ok, key)
	}
	for _, key := range []string{"k2", "k3", "k4"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestLocalCache_StaleOrderAfterExpiry(t *testing.T) {
	c := NewLocalCache(4)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", result("A"), time.Second)
	now = now.Add(2 * time.Second)
	_, ok := c.Get("a") // expires and drops a
	require.False(t, ok)

	for _, key := range []string{"a", "b", "c", "d"} {
		c.Set(key, result("A"), time.Hour)
	}
	c.Set("e", result("A"), time.Hour)

	// a was re-inserted first, so it goes with the oldest half
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("e")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Len(), 4)
}

func TestLocalCache_Clear(t *testing.T) {
	c := NewLocalCache(10)
	c.Set("a", result("A"), time.Hour)
	c.Set("b", result("A"), time.Hour)

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_OrderStaysBoundedUnderExpiry(t *testing.T) {
	c := NewLocalCache(10)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 10_000; i++ {
		c.Set("k", result("A"), time.Second)
		now = now.Add(2 * time.Second)
		_, ok := c.Get("k")
		require.False(t, ok)
	}

	assert.Equal(t, 0, c.Len())
	assert.LessOrEqual(t, len(c.order), 2*c.maxEntries)
}

func TestLocalCache_CompactionKeepsInsertionOrder(t *testing.T) {
	c := NewLocalCache(4)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("live", result("A"), time.Hour)
	for i := 0; i < 20; i++ {
		c.Set("short", result("B"), time.Second)
		now = now.Add(2 * time.Second)
		c.Get("short")
	}
	c.Set("b", result("A"), time.Hour)
	c.Set("c", result("A"), time.Hour)
	c.Set("d", result("A"), time.Hour)
	c.Set("e", result("A"), time.Hour) // full: drops live and b

	_, ok := c.Get("live")
	assert.False(t, ok)
	_, ok = c.Get("e")
	assert.True(t, ok)
	assert.LessOrEqual(t, len(c.order), 2*c.maxEntries)
}
