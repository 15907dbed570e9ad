package cache

import (
	"sync"
	"time"

	"github.com/combot/combot/internal/models"
)

// localEntry holds a cached result with its own expiry
type localEntry struct {
	result   *models.ClassificationResult
	storedAt time.Time
	ttl      time.Duration
	seq      uint64
}

type orderItem struct {
	key string
	seq uint64
}

// LocalCache is a bounded in-process TTL cache.
// When full, the oldest-inserted half of the entries is dropped.
type LocalCache struct {
	entries    map[string]*localEntry
	order      []orderItem
	seq        uint64
	maxEntries int
	mu         sync.Mutex
	now        func() time.Time
}

// NewLocalCache creates a local cache holding at most maxEntries results
func NewLocalCache(maxEntries int) *LocalCache {
	if maxEntries < 2 {
		maxEntries = 2
	}
	return &LocalCache{
		entries:    make(map[string]*localEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a cached result if present and not expired
func (c *LocalCache) Get(key string) (*models.ClassificationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.ttl > 0 && c.now().Sub(entry.storedAt) >= entry.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Set stores a result. Overwriting a key keeps its original insertion position.
func (c *LocalCache) Set(key string, result *models.ClassificationResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.result = result
		entry.storedAt = c.now()
		entry.ttl = ttl
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.evictHalfLocked()
	} else if len(c.order) >= 2*c.maxEntries {
		c.compactLocked()
	}

	c.seq++
	c.entries[key] = &localEntry{
		result:   result,
		storedAt: c.now(),
		ttl:      ttl,
		seq:      c.seq,
	}
	c.order = append(c.order, orderItem{key: key, seq: c.seq})
}

// evictHalfLocked drops the oldest-inserted half of the live entries
func (c *LocalCache) evictHalfLocked() {
	target := len(c.entries) / 2
	if target == 0 {
		target = 1
	}

	removed := 0
	kept := make([]orderItem, 0, len(c.entries))
	for _, item := range c.order {
		entry, ok := c.entries[item.key]
		if !ok || entry.seq != item.seq {
			continue // stale
		}
		if removed < target {
			delete(c.entries, item.key)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	c.order = kept
}

// compactLocked drops order items whose entry expired or was replaced
func (c *LocalCache) compactLocked() {
	kept := make([]orderItem, 0, len(c.entries))
	for _, item := range c.order {
		if entry, ok := c.entries[item.key]; ok && entry.seq == item.seq {
			kept = append(kept, item)
		}
	}
	c.order = kept
}

// Len returns the number of stored entries, including expired ones not yet dropped
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry
func (c *LocalCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*localEntry)
	c.order = nil
	return n
}
