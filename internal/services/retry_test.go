package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriesTransientErrors(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return Transient(errors.New("still down"))
	})

	assert.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls, "should stop after max attempts")
}

func TestRetryPolicy_DoesNotRetryPermanentErrors(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return ErrInsufficientFunds
	})

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1, calls, "insufficient funds must never be retried")
}

func TestRetryPolicy_RespectsContextCancellation(t *testing.T) {
	policy := NewRetryPolicy(3, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func() error {
			calls++
			return Transient(errors.New("slow backend"))
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestRetryPolicy_LinearBackoff(t *testing.T) {
	policy := NewRetryPolicy(3, 100*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, policy.Backoff(3))
}

func TestTransientErrorWrapping(t *testing.T) {
	base := errors.New("deadlock detected")
	err := Transient(base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.NoError(t, Transient(nil))
	assert.False(t, IsTransient(ErrWalletNotFound))
	assert.False(t, IsTransient(nil))
}
