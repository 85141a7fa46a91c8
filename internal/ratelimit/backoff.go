package ratelimit

import (
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy is a stateless exponential backoff: the delay before retry n is
// base*2^(n-1), capped, with equal jitter. MaxAttempts counts the first try.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultPolicy is used when no policy is configured.
var DefaultPolicy = Policy{
	Base:        time.Second,
	Cap:         30 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the wait before retry number attempt (1-based). r must be in [0, 1)
// and selects a point in the upper half of the capped exponential delay.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	half := d / 2
	return half + time.Duration(r*float64(d-half))
}

// Backoff adapts the policy to go-retry. floor, when non-nil, is consulted on every
// step and raises the delay to at least the duration it returns (e.g. Retry-After).
func (p Policy) Backoff(floor func() time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if attempt >= p.MaxAttempts {
			return 0, true
		}
		d := p.Delay(attempt, rand.Float64())
		if floor != nil {
			if least := floor(); least > d {
				d = least
			}
		}
		return d, false
	})
}
