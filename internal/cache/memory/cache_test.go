package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, clock transform.Clock, opts Options) *Cache {
	t.Helper()
	c := NewCache(clock, opts)
	t.Cleanup(c.Close)
	return c
}

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(t, clock, Options{})

	_, found := cache.Get("fp")
	require.False(t, found)

	want := transform.Result{Persona: "eli5", Content: "simple words"}
	cache.Put("fp", want, time.Minute)

	got, found := cache.Get("fp")
	require.True(t, found)
	require.Equal(t, want, got)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(t, clock, Options{})

	cache.Put("fp", transform.Result{Content: "x"}, time.Minute)
	clock.Advance(59 * time.Second)
	_, found := cache.Get("fp")
	require.True(t, found)

	clock.Advance(2 * time.Second)
	_, found = cache.Get("fp")
	require.False(t, found)
}

func TestCacheClearAndStats(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(t, clock, Options{})

	cache.Put("a", transform.Result{}, time.Minute)
	cache.Put("b", transform.Result{}, time.Minute)
	_, _ = cache.Get("a")
	_, _ = cache.Get("missing")

	stats := cache.Stats()
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)

	cache.Clear()
	require.Equal(t, 0, cache.Stats().Entries)
}

func TestCacheMaxEntriesEvictsOldest(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(t, clock, Options{MaxEntries: 2})

	cache.Put("a", transform.Result{Content: "a"}, time.Minute)
	clock.Advance(time.Second)
	cache.Put("b", transform.Result{Content: "b"}, time.Minute)
	clock.Advance(time.Second)
	cache.Put("c", transform.Result{Content: "c"}, time.Minute)

	_, found := cache.Get("a")
	require.False(t, found, "entry closest to expiry should be evicted")
	_, found = cache.Get("b")
	require.True(t, found)
	_, found = cache.Get("c")
	require.True(t, found)
	require.Equal(t, int64(1), cache.Stats().Evictions)
}

func TestCacheConcurrentReaders(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(t, clock, Options{})
	cache.Put("fp", transform.Result{Content: "shared"}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, found := cache.Get("fp")
				if !found || got.Content != "shared" {
					panic(fmt.Sprintf("reader %d observed %v %v", n, got, found))
				}
			}
		}(i)
	}
	wg.Wait()
}
