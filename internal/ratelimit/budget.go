// Package ratelimit tracks the GitHub API quota shared by every request of a run
// and provides the retry backoff policy used by the gateway.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// AuthenticatedCeiling is the hourly request quota for a token.
	AuthenticatedCeiling = 5000

	// AnonymousCeiling is the hourly request quota without a token.
	AnonymousCeiling = 60

	// Window is the length of a primary rate-limit window.
	Window = time.Hour

	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRateResource  = "X-RateLimit-Resource"

	// CoreResource is the quota shared by REST calls other than search.
	CoreResource = "core"
)

// Budget is the process-wide request quota. All callers share one instance;
// the check-and-decrement in Reserve happens in a single critical section.
type Budget struct {
	mu        sync.Mutex
	ceiling   int
	remaining int
	resetAt   time.Time
	estimated bool
	clock     Clock
	pacer     *rate.Limiter
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(b *Budget) { b.clock = c }
}

// WithPace adds proactive throttling of at most rps requests per second.
// Zero or negative disables pacing.
func WithPace(rps float64) Option {
	return func(b *Budget) {
		if rps > 0 {
			b.pacer = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewBudget creates a budget with the given ceiling. Until the first response is
// observed the full ceiling is assumed, with a reset one window from now.
func NewBudget(ceiling int, opts ...Option) *Budget {
	b := &Budget{ceiling: ceiling, clock: SystemClock{}}
	for _, opt := range opts {
		opt(b)
	}
	b.remaining = ceiling
	b.resetAt = b.clock.Now().Add(Window)
	b.estimated = true
	return b
}

// CeilingFor returns the quota ceiling for a token, or the anonymous ceiling when empty.
func CeilingFor(token string) int {
	if token == "" {
		return AnonymousCeiling
	}
	return AuthenticatedCeiling
}

// Reserve takes cost units from the budget. When fewer than cost remain it blocks
// until the window resets, then refills to the ceiling. It only fails when ctx ends.
func (b *Budget) Reserve(ctx context.Context, cost int) error {
	if b.pacer != nil {
		if err := b.pacer.Wait(ctx); err != nil {
			return err
		}
	}
	for {
		b.mu.Lock()
		now := b.clock.Now()
		if b.remaining < cost && !now.Before(b.resetAt) {
			b.remaining = b.ceiling
			b.resetAt = now.Add(Window)
			b.estimated = true
		}
		if b.remaining >= cost {
			b.remaining -= cost
			b.mu.Unlock()
			return nil
		}
		wait := b.resetAt.Sub(now)
		b.mu.Unlock()

		if err := b.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Observe learns the quota from a response's rate-limit headers. Within one window
// remaining only ever decreases, so late responses of concurrent requests cannot
// hand back units that were already reserved. A reported reset replaces an
// estimated one, and otherwise only moves forward. Only the core quota is
// tracked: headers naming another resource (search, graphql) are ignored.
func (b *Budget) Observe(h http.Header) {
	if h == nil {
		return
	}
	if resource := h.Get(HeaderRateResource); resource != "" && resource != CoreResource {
		return
	}
	remaining, errRemaining := strconv.Atoi(h.Get(HeaderRateRemaining))
	reset, errReset := strconv.ParseInt(h.Get(HeaderRateReset), 10, 64)
	limit, errLimit := strconv.Atoi(h.Get(HeaderRateLimit))

	b.mu.Lock()
	defer b.mu.Unlock()

	if errLimit == nil && limit > 0 {
		b.ceiling = limit
	}
	if errReset == nil {
		resetAt := time.Unix(reset, 0)
		if errRemaining == nil && (b.estimated || resetAt.After(b.resetAt)) {
			b.resetAt = resetAt
			b.remaining = remaining
			b.estimated = false
			return
		}
	}
	if errRemaining == nil && remaining < b.remaining {
		b.remaining = remaining
	}
}

// Exhaust records a primary rate-limit response: nothing remains until resetAt.
func (b *Budget) Exhaust(resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = 0
	if !resetAt.IsZero() {
		b.resetAt = resetAt
		b.estimated = false
	}
}

// Remaining returns the units left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// ResetAt returns when the current window ends.
func (b *Budget) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetAt
}

// Ceiling returns the per-window quota.
func (b *Budget) Ceiling() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ceiling
}
