package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestTryAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	coord := NewCoordinator(time.Minute, clock)

	require.True(t, coord.TryAcquire("fp-1", "owner-a"))
	require.False(t, coord.TryAcquire("fp-1", "owner-b"))
	require.True(t, coord.TryAcquire("fp-2", "owner-b"), "distinct fingerprints are independent")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	coord := NewCoordinator(time.Minute, clock)

	require.True(t, coord.TryAcquire("fp", "owner-a"))
	coord.Release("fp", "owner-a")
	require.True(t, coord.TryAcquire("fp", "owner-b"))
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	coord := NewCoordinator(time.Minute, clock)

	require.True(t, coord.TryAcquire("fp", "owner-a"))
	clock.Advance(61 * time.Second)
	require.True(t, coord.TryAcquire("fp", "owner-b"))

	// The stale owner must not release the new owner's lease.
	coord.Release("fp", "owner-a")
	require.True(t, coord.Held("fp"))
	require.False(t, coord.TryAcquire("fp", "owner-c"))
}

func TestConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	coord := NewCoordinator(time.Minute, clock)

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			if coord.TryAcquire("fp", string(rune('a'+owner))) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}
