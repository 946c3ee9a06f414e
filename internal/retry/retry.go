// Package retry wraps venue operations with classification-aware retry.
//
// A Policy is a higher-order wrapper: handlers pass their whole critical
// section to Do, and the policy re-runs it on transient failures with
// exponential backoff and jitter. Handlers stay idempotent by marking the
// event processed inside the section, so a retried attempt that runs after
// a partial success short-circuits without reissuing a venue order.
//
// Two presets exist: API (3 attempts) for order-book housekeeping and
// Critical (5 attempts) for position-affecting operations.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Kind classifies a venue error for retry purposes.
type Kind int

const (
	// Transient errors (network, 5xx, timeouts) are retried with backoff.
	Transient Kind = iota
	// RateLimited errors are retried with a doubled backoff.
	RateLimited
	// Permanent errors (auth, bad params) fail on the first attempt.
	Permanent
	// BusinessReject is a venue-level refusal ("position is zero",
	// insufficient balance). Never retried; the handler decides whether
	// a recovery path applies.
	BusinessReject
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	case BusinessReject:
		return "business_reject"
	default:
		return "unknown"
	}
}

// Classifier maps an error to its retry kind.
type Classifier func(error) Kind

// Policy caps attempts and shapes the backoff curve.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classify    Classifier
}

// API is the preset for non-position-affecting venue calls.
func API(classify Classifier) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Classify: classify}
}

// Critical is the preset for position-affecting operations.
func Critical(classify Classifier) Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Classify: classify}
}

// Do runs fn until it succeeds, a non-retryable error occurs, the attempt
// budget is spent, or ctx is cancelled. The sleep between attempts is
// min(MaxDelay, BaseDelay·2^attempt) plus up to 25% jitter; rate-limited
// errors double it. Returns the last error.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		kind := p.Classify(err)
		if kind == Permanent || kind == BusinessReject {
			return err
		}
		if attempt+1 >= p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt, kind)
		logger.Warn("retrying after error",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"kind", kind.String(),
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (p Policy) backoff(attempt int, kind Kind) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if kind == RateLimited {
		delay *= 2
		if delay > 2*p.MaxDelay {
			delay = 2 * p.MaxDelay
		}
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}
