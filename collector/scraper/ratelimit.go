package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is the process-wide budget for feed fetches: at most calls
// requests in any window of one period. Callers over budget block in Wait
// until their slot comes up instead of failing.
type RateLimiter struct {
	limiter *rate.Limiter
	calls   int
	period  time.Duration
}

// NewRateLimiter spaces calls evenly, one every period/calls with no burst,
// so a window of one period never admits more than calls requests.
func NewRateLimiter(calls int, period time.Duration) *RateLimiter {
	if calls <= 0 {
		calls = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(calls)), 1),
		calls:   calls,
		period:  period,
	}
}

// Wait blocks until a call may proceed. It only fails when ctx is done or its
// deadline is too close for a token to become available. A nil limiter never blocks.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Budget returns the configured calls per period.
func (r *RateLimiter) Budget() (int, time.Duration) {
	return r.calls, r.period
}
