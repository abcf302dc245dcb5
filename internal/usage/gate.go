// Package usage enforces per-user transformation quotas.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// anonymousUser pools unauthenticated submissions into one bucket.
const anonymousUser = "anonymous"

// Config controls quota enforcement.
type Config struct {
	// DefaultMonthlyLimit applies to users without a tier entry. Zero
	// disables the monthly cap.
	DefaultMonthlyLimit int
	// TierLimits maps membership tier name to monthly transformation count.
	TierLimits map[string]int
	// BurstPerMinute caps short-term submission rate per user. Zero
	// disables burst limiting.
	BurstPerMinute int
}

type userState struct {
	tier    string
	month   time.Time
	used    int
	limiter *rate.Limiter
}

// Gate tracks monthly consumption and short-term burst per user. Counters
// reset at each calendar month boundary.
type Gate struct {
	mu    sync.Mutex
	users map[string]*userState
	cfg   Config
	clock transform.Clock
}

// NewGate constructs a Gate.
func NewGate(cfg Config, clock transform.Clock) *Gate {
	return &Gate{
		users: make(map[string]*userState),
		cfg:   cfg,
		clock: clock,
	}
}

// SetTier assigns a membership tier to a user. Consumption carries over
// within the current month.
func (g *Gate) SetTier(userID, tier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateLocked(userID).tier = tier
}

// CheckAndReserve consumes one transformation from the user's allowance. It
// returns transform.ErrQuotaExceeded when either the burst window or the
// monthly budget is exhausted.
func (g *Gate) CheckAndReserve(_ context.Context, userID string) error {
	if userID == "" {
		userID = anonymousUser
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(userID)
	month := monthOf(g.clock.Now())
	if !st.month.Equal(month) {
		st.month = month
		st.used = 0
	}

	if st.limiter != nil && !st.limiter.Allow() {
		return fmt.Errorf("user %s burst limit: %w", userID, transform.ErrQuotaExceeded)
	}

	limit := g.limitFor(st.tier)
	if limit > 0 && st.used >= limit {
		return fmt.Errorf("user %s monthly limit %d: %w", userID, limit, transform.ErrQuotaExceeded)
	}
	st.used++
	return nil
}

// Remaining reports how many transformations the user has left this month.
// A negative value means unlimited.
func (g *Gate) Remaining(userID string) int {
	if userID == "" {
		userID = anonymousUser
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(userID)
	limit := g.limitFor(st.tier)
	if limit <= 0 {
		return -1
	}
	if !st.month.Equal(monthOf(g.clock.Now())) {
		return limit
	}
	if st.used >= limit {
		return 0
	}
	return limit - st.used
}

func (g *Gate) stateLocked(userID string) *userState {
	st, ok := g.users[userID]
	if !ok {
		st = &userState{month: monthOf(g.clock.Now())}
		if g.cfg.BurstPerMinute > 0 {
			st.limiter = rate.NewLimiter(
				rate.Every(time.Minute/time.Duration(g.cfg.BurstPerMinute)),
				g.cfg.BurstPerMinute,
			)
		}
		g.users[userID] = st
	}
	return st
}

func (g *Gate) limitFor(tier string) int {
	if limit, ok := g.cfg.TierLimits[tier]; ok {
		return limit
	}
	return g.cfg.DefaultMonthlyLimit
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
