// Package ratelimit paces outbound operations against external services.
// Every REST request to an exchange passes through a RateLimiter so the
// process stays inside the exchange's published call limits; exceeding them
// trips DDoS protection and earns a temporary lockout.
//
// The implementation wraps Uber's token-bucket limiter behind a small
// interface so the pacing strategy can be swapped without touching callers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Rate expresses a limit as "Limit operations per Interval", e.g.
// {Limit: 15, Interval: 3 * time.Second} for one call every 200ms.
type Rate struct {
	// Limit is the maximum number of operations allowed within Interval.
	Limit int

	// Interval is the window over which Limit applies.
	Interval time.Duration
}

// RateLimiter blocks callers until the next operation is permitted.
type RateLimiter interface {
	// Wait blocks until a token is available or the context is cancelled.
	// It must be called before every rate-limited operation.
	Wait(ctx context.Context) error

	// SetLimit replaces the active rate at runtime. Returns an error for
	// non-positive limits or intervals.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter on top of go.uber.org/ratelimit.
type uberLimiter struct {
	mu      sync.Mutex
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a token-bucket limiter for the given rate.
// The rate is converted to operations per second; rates below 1 op/s are
// clamped to 1 op/s, which is the resolution of the underlying limiter.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	return &uberLimiter{
		limiter: ratelimit.New(toPerSecond(rate)),
		rate:    rate,
	}
}

func toPerSecond(rate Rate) int {
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return rps
}

// Wait implements the RateLimiter interface.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
	}
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()
	limiter.Take()
	return nil
}

// SetLimit implements the RateLimiter interface.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = ratelimit.New(toPerSecond(rate))
	l.rate = rate
	return nil
}
