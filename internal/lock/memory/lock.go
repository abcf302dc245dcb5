// Package memory provides an in-process lock coordinator for single-flight
// pipeline execution. A multi-instance deployment would swap this for a
// shared store with atomic compare-and-set.
package memory

import (
	"sync"
	"time"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

type lease struct {
	owner     string
	acquired  time.Time
	expiresAt time.Time
}

// Coordinator grants at most one live lease per fingerprint. Leases expire so
// a crashed worker cannot wedge its fingerprint forever.
type Coordinator struct {
	mu       sync.Mutex
	leases   map[string]lease
	duration time.Duration
	clock    transform.Clock
}

// NewCoordinator constructs a Coordinator with the given lease duration.
func NewCoordinator(leaseDuration time.Duration, clock transform.Clock) *Coordinator {
	return &Coordinator{
		leases:   make(map[string]lease),
		duration: leaseDuration,
		clock:    clock,
	}
}

// TryAcquire claims the fingerprint for the owner. It succeeds iff no
// unexpired lease exists; an expired lease is replaced.
func (c *Coordinator) TryAcquire(fingerprint, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if l, ok := c.leases[fingerprint]; ok && now.Before(l.expiresAt) {
		return false
	}
	c.leases[fingerprint] = lease{
		owner:     owner,
		acquired:  now,
		expiresAt: now.Add(c.duration),
	}
	return true
}

// Release drops the lease if the caller still owns it. A lease taken over
// after expiry is left intact for its new owner.
func (c *Coordinator) Release(fingerprint, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.leases[fingerprint]; ok && l.owner == owner {
		delete(c.leases, fingerprint)
	}
}

// Held reports whether a live lease exists for the fingerprint.
func (c *Coordinator) Held(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.leases[fingerprint]
	return ok && c.clock.Now().Before(l.expiresAt)
}
