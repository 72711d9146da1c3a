// Package retry re-runs optimistic store writes that lost a race.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Predicate reports whether err is worth another attempt.
type Predicate func(error) bool

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy suits commits that collide on a booking date: the loser
// re-reads and normally succeeds on the next pass.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
	}
}

// Do calls fn until it succeeds, returns an error rejected by shouldRetry,
// or the attempts run out. The last error is returned.
func Do(ctx context.Context, policy Policy, shouldRetry Predicate, fn func(attempt int) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(attempt)
		if err == nil || attempt == policy.Attempts || shouldRetry == nil || !shouldRetry(err) {
			return err
		}

		if !wait(ctx, backoff(policy, attempt)) {
			return err
		}
	}
	return err
}

// backoff doubles per attempt, capped at MaxDelay, with full jitter.
func backoff(policy Policy, attempt int) time.Duration {
	if policy.BaseDelay <= 0 {
		return 0
	}
	delay := policy.BaseDelay << (attempt - 1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

func wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
