package retrier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransientExhaustsAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond * 4}

	calls := 0
	var failures []int
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(fmt.Errorf("connection reset"))
	}, func(attempt int, err error) {
		failures = append(failures, attempt)
	})

	require.Error(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []int{1, 2, 3, 4}, failures)
}

func TestPermanentShortCircuits(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(fmt.Errorf("404 not found"))
	}, nil)

	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, ClassPermanent, Classify(err))
}

func TestEventualSuccess(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(fmt.Errorf("timeout"))
		}
		return nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestUnclassifiedErrorsAreTransient(t *testing.T) {
	require.Equal(t, ClassTransient, Classify(fmt.Errorf("who knows")))
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	policy := Policy{MaxAttempts: 100, BaseDelay: time.Millisecond * 50}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Transient(fmt.Errorf("nope"))
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoffIsCapped(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: time.Second * 4}.withDefaults()

	require.Equal(t, time.Second, policy.delayFor(1))
	require.Equal(t, time.Second*2, policy.delayFor(2))
	require.Equal(t, time.Second*4, policy.delayFor(3))
	require.Equal(t, time.Second*4, policy.delayFor(10))
}
