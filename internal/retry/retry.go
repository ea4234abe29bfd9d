// Package retry implements bounded retry with exponential backoff for calls to
// external services (embedding, generative models, the store).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/screener/internal/utils"
)

// Decision is the classifier verdict for a failed attempt. A positive Wait
// overrides the computed backoff, e.g. when the server suggests a delay.
type Decision struct {
	Retry bool
	Wait  time.Duration
}

// Policy configures Do. Zero values fall back to the defaults below.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Classify decides whether an error is worth another attempt.
	// When nil every error is retried.
	Classify func(err error) Decision
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Wait blocks between attempts. Defaults to utils.WaitFor.
	Wait func(ctx context.Context, d time.Duration) error
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = time.Minute
)

// Backoff returns the delay before the attempt following the given one
// (1-based): base, 2*base, 4*base... capped at max.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Do calls fn until it succeeds, the classifier refuses a retry, attempts run
// out or ctx is cancelled. The last error is returned on failure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	wait := p.Wait
	if wait == nil {
		wait = utils.WaitFor
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		decision := Decision{Retry: true}
		if p.Classify != nil {
			decision = p.Classify(err)
		}

		if !decision.Retry {
			return zero, err
		}
		if attempt >= attempts {
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		delay := decision.Wait
		if delay <= 0 {
			delay = p.Backoff(attempt)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if werr := wait(ctx, delay); werr != nil {
			return zero, fmt.Errorf("retry interrupted: %w: %w", werr, err)
		}
	}
}
