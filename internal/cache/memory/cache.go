// Package memory implements the in-process result cache.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

const defaultSweepInterval = time.Minute

type entry struct {
	result    transform.Result
	createdAt time.Time
	expiresAt time.Time
}

// Cache maps fingerprints to completed results with per-entry expiry.
// MaxEntries bounds memory in high-cardinality deployments; zero means
// unbounded.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	clock      transform.Clock

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Options controls cache behavior.
type Options struct {
	MaxEntries    int
	SweepInterval time.Duration
}

// NewCache constructs a Cache and starts its expiry sweeper.
func NewCache(clock transform.Clock, opts Options) *Cache {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: opts.MaxEntries,
		clock:      clock,
		stopCh:     make(chan struct{}),
	}
	go c.sweep(opts.SweepInterval)
	return c
}

// Get returns the unexpired result for a fingerprint.
func (c *Cache) Get(fingerprint string) (transform.Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		c.misses.Add(1)
		return transform.Result{}, false
	}
	c.hits.Add(1)
	return e.result, true
}

// Put stores a completed result. The pipeline worker holding the fingerprint
// lock is the only caller, so writes never race per fingerprint.
func (c *Cache) Put(fingerprint string, result transform.Result, ttl time.Duration) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[fingerprint]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[fingerprint] = entry{
		result:    result,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Clear drops every entry. Admin use only.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats reports cache counters for the admin endpoint.
func (c *Cache) Stats() transform.CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return transform.CacheStats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, fp)
			c.evictions.Add(1)
		}
	}
}

// evictOldestLocked removes the entry closest to expiry. Called with c.mu held.
func (c *Cache) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for fp, e := range c.entries {
		if oldest == "" || e.expiresAt.Before(oldestAt) {
			oldest = fp
			oldestAt = e.expiresAt
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
		c.evictions.Add(1)
	}
}
