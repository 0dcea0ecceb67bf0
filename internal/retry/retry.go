// Package retry runs an operation again after retryable failures, waiting
// an exponentially growing delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of tries, including the first. Default 3.
	Attempts int
	// BaseDelay is the wait before the second attempt; each later wait
	// doubles. Default 200ms.
	BaseDelay time.Duration
	// Sleep waits between attempts. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond}
}

func (p Policy) Validate() error {
	if p.Attempts < 1 || p.BaseDelay < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Delay returns the wait that follows the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay << (attempt - 1)
}

// Op is one attempt. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Do calls op until it succeeds, fails with an error isRetryable rejects,
// the attempts run out, or ctx ends. It returns the last error and the
// number of attempts made.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, op Op) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if isRetryable == nil || !isRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return attempt, err
		}
	}
	return p.Attempts, lastErr
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
