package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errLost = errors.New("lost race")

func isLost(err error) bool { return errors.Is(err, errLost) }

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, isLost, func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errLost
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, BaseDelay: time.Millisecond}, isLost, func(int) error {
		calls++
		return errLost
	})

	assert.ErrorIs(t, err, errLost)
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5}, isLost, func(int) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, DefaultPolicy(), isLost, func(int) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoReturnsLastErrorWhenCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, isLost, func(int) error {
		cancel()
		return errLost
	})

	assert.ErrorIs(t, err, errLost)
}

func TestBackoffIsCapped(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond}
	for attempt := 1; attempt < 6; attempt++ {
		assert.LessOrEqual(t, backoff(p, attempt), 15*time.Millisecond)
	}
	assert.Zero(t, backoff(Policy{}, 1))
}
