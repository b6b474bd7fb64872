package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles blob downloads. *rate.Limiter satisfies it.
type Limiter interface {
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context) error
}

// PerMinute spaces downloads evenly so that at most n start in any minute,
// with no burst beyond a single token. It returns nil when n is not positive.
func PerMinute(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(Interval(n), 1)
}

// Interval is the spacing between tokens for n per minute
func Interval(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}
