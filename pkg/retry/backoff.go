package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy maps a rate-limit attempt count to a wait and a give-up decision.
// Attempts are counted from 1 for the first 429 of a request.
type Policy struct {
	// BaseDelay is multiplied by Multiplier^attempt
	BaseDelay time.Duration
	// MaxDelay caps a single wait; zero means uncapped
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor adds +/- randomness (0.0 to 1.0); zero keeps waits deterministic
	JitterFactor float64
	MaxRetries   int
}

// DefaultPolicy waits 2s, 4s, 8s, 16s, 32s and gives up on the sixth 429
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		MaxDelay:   2 * time.Minute,
		Multiplier: 2.0,
		MaxRetries: 5,
	}
}

// NextWait returns how long to sleep before retrying after the given attempt
func (p Policy) NextWait(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ShouldGiveUp reports whether attempt has exceeded MaxRetries
func (p Policy) ShouldGiveUp(attempt int) bool {
	return attempt > p.MaxRetries
}

// SleepFunc is the shape of Wait, injectable so tests can run without sleeping
type SleepFunc func(ctx context.Context, d time.Duration) error

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
