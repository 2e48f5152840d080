// Package retry implements the exponential-backoff-with-jitter retry policy
// (C1) shared by every exchange call.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/opensqt/gridbot/pkg/errors"
)

// Policy defines how to retry an operation: delay = min(base * exp^attempt,
// maxDelay), optionally scaled by a uniform jitter multiplier in [0.5, 1.5].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BaseExp     float64
	Jitter      bool
}

// DefaultPolicy is the policy applied to exchange adapter calls unless
// overridden by configuration.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	BaseExp:     2,
	Jitter:      true,
}

// IsRetryableFunc classifies whether an error should be retried.
type IsRetryableFunc func(error) bool

// Do executes fn, retrying up to policy.MaxAttempts times while
// isRetryable(err) holds. The first non-retryable error, or the last error
// after attempts are exhausted, is returned.
func Do(ctx context.Context, policy Policy, isRetryable IsRetryableFunc, fn func() error) error {
	if isRetryable == nil {
		isRetryable = apperrors.IsRetryable
	}

	var err error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}

	return err
}

func (p Policy) delay(attempt int) time.Duration {
	exp := p.BaseExp
	if exp <= 0 {
		exp = 2
	}
	raw := float64(p.BaseDelay) * math.Pow(exp, float64(attempt))
	d := time.Duration(raw)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		mult := 0.5 + rand.Float64()
		d = time.Duration(float64(d) * mult)
	}
	return d
}
