// ratelimit.go implements token-bucket rate limiting for the destination
// venue's REST API.
//
// The venue enforces per-endpoint-group limits measured in requests per
// second with short burst allowances. This file provides a smooth
// token-bucket implementation that refills continuously to avoid tripping
// the hard limits (which would surface as rate-limit rejects and burn the
// retry budget of position-affecting operations).
//
// Three buckets are maintained:
//   - Order:    20 burst / 10 per sec — create/cancel/close orders
//   - Query:    50 burst / 20 per sec — positions, open orders, executions
//   - Account:  10 burst /  5 per sec — leverage, instrument metadata
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by venue endpoint category. Each
// operation must call the appropriate bucket's Wait() before making the
// HTTP request.
type RateLimiter struct {
	Order   *TokenBucket // order create / cancel / close
	Query   *TokenBucket // positions, open orders, executions
	Account *TokenBucket // set-leverage, instruments
}

// NewRateLimiter creates rate limiters tuned below the venue's published
// limits, leaving headroom for other API consumers on the same key.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:   NewTokenBucket(20, 10),
		Query:   NewTokenBucket(50, 20),
		Account: NewTokenBucket(10, 5),
	}
}
