package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly when asked to sleep and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func TestBudget_Reserve(t *testing.T) {
	t.Run("decrements without waiting while quota remains", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(10, WithClock(clock))

		require.NoError(t, b.Reserve(context.Background(), 1))
		require.NoError(t, b.Reserve(context.Background(), 2))

		assert.Equal(t, 7, b.Remaining())
		assert.Zero(t, clock.sleepCount())
	})

	t.Run("waits for the reset and refills to the ceiling", func(t *testing.T) {
		clock := newFakeClock()
		start := clock.Now()
		b := NewBudget(3, WithClock(clock))

		for i := 0; i < 3; i++ {
			require.NoError(t, b.Reserve(context.Background(), 1))
		}
		assert.Zero(t, clock.sleepCount())

		require.NoError(t, b.Reserve(context.Background(), 1))

		require.Equal(t, 1, clock.sleepCount())
		assert.Equal(t, Window, clock.sleeps[0])
		assert.Equal(t, 2, b.Remaining())
		assert.Equal(t, start.Add(2*Window), b.ResetAt())
	})

	t.Run("never admits more than the ceiling between waits", func(t *testing.T) {
		const ceiling = 5
		clock := newFakeClock()
		b := NewBudget(ceiling, WithClock(clock))

		admittedSinceWait := 0
		waits := 0
		for i := 0; i < 4*ceiling; i++ {
			before := clock.sleepCount()
			require.NoError(t, b.Reserve(context.Background(), 1))
			if clock.sleepCount() > before {
				waits++
				admittedSinceWait = 0
			}
			admittedSinceWait++
			assert.LessOrEqual(t, admittedSinceWait, ceiling)
		}
		assert.Equal(t, 3, waits)
	})

	t.Run("returns the context error when cancelled while waiting", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(1, WithClock(clock))
		require.NoError(t, b.Reserve(context.Background(), 1))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := b.Reserve(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, b.Remaining())
	})

	t.Run("serializes concurrent callers", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(100, WithClock(clock))

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, b.Reserve(context.Background(), 2))
			}()
		}
		wg.Wait()

		assert.Zero(t, b.Remaining())
		assert.Zero(t, clock.sleepCount())
	})
}

func rateHeaders(limit, remaining int, reset time.Time) http.Header {
	h := http.Header{}
	h.Set(HeaderRateLimit, strconv.Itoa(limit))
	h.Set(HeaderRateRemaining, strconv.Itoa(remaining))
	h.Set(HeaderRateReset, strconv.FormatInt(reset.Unix(), 10))
	return h
}

func TestBudget_Observe(t *testing.T) {
	t.Run("replaces the estimate with reported values", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(AuthenticatedCeiling, WithClock(clock))
		reset := clock.Now().Add(10 * time.Minute)

		b.Observe(rateHeaders(5000, 42, reset))

		assert.Equal(t, 42, b.Remaining())
		assert.True(t, reset.Equal(b.ResetAt()))
	})

	t.Run("ignores stale higher remaining within a window", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(AuthenticatedCeiling, WithClock(clock))
		reset := clock.Now().Add(10 * time.Minute)

		b.Observe(rateHeaders(5000, 40, reset))
		b.Observe(rateHeaders(5000, 45, reset))

		assert.Equal(t, 40, b.Remaining())
	})

	t.Run("adopts the limit header as ceiling", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(AuthenticatedCeiling, WithClock(clock))

		b.Observe(rateHeaders(AnonymousCeiling, 0, clock.Now().Add(time.Minute)))
		require.NoError(t, b.Reserve(context.Background(), 1))

		assert.Equal(t, AnonymousCeiling, b.Ceiling())
		assert.Equal(t, AnonymousCeiling-1, b.Remaining())
		assert.Equal(t, []time.Duration{time.Minute}, clock.sleeps)
	})

	t.Run("only the core resource is tracked", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBudget(AuthenticatedCeiling, WithClock(clock))
		coreReset := clock.Now().Add(50 * time.Minute)

		core := rateHeaders(5000, 4900, coreReset)
		core.Set(HeaderRateResource, CoreResource)
		search := rateHeaders(30, 28, clock.Now().Add(time.Minute))
		search.Set(HeaderRateResource, "search")
		graphql := rateHeaders(5000, 3, clock.Now().Add(5*time.Minute))
		graphql.Set(HeaderRateResource, "graphql")

		b.Observe(core)
		b.Observe(search)
		b.Observe(graphql)
		for range 40 {
			require.NoError(t, b.Reserve(context.Background(), 1))
		}

		assert.Equal(t, 5000, b.Ceiling())
		assert.Equal(t, 4860, b.Remaining())
		assert.True(t, coreReset.Equal(b.ResetAt()))
		assert.Zero(t, clock.sleepCount())
	})

	t.Run("tolerates missing headers", func(t *testing.T) {
		b := NewBudget(10, WithClock(newFakeClock()))

		b.Observe(nil)
		b.Observe(http.Header{})

		assert.Equal(t, 10, b.Remaining())
	})
}

func TestBudget_Exhaust(t *testing.T) {
	clock := newFakeClock()
	b := NewBudget(10, WithClock(clock))

	b.Exhaust(clock.Now().Add(90 * time.Second))
	require.NoError(t, b.Reserve(context.Background(), 1))

	assert.Equal(t, []time.Duration{90 * time.Second}, clock.sleeps)
	assert.Equal(t, 9, b.Remaining())
}

func TestCeilingFor(t *testing.T) {
	assert.Equal(t, AuthenticatedCeiling, CeilingFor("token"))
	assert.Equal(t, AnonymousCeiling, CeilingFor(""))
}
