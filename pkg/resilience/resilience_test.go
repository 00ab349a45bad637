package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_ExactAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		return errors.New("down")
	}, WithConstantDelay(0), WithMaxRetries(2), WithRetryClassifier(RetryAll))

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_SingleAttempt(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		return errors.New("down")
	}, WithConstantDelay(0), WithMaxRetries(0))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_SucceedsEventually(t *testing.T) {
	attempts := 0
	var notified int
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	},
		WithConstantDelay(time.Millisecond),
		WithMaxRetries(5),
		WithOnRetry(func(err error, d time.Duration) { notified++ }),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, notified)
}

func TestRetryWithBackoff_PermanentError(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func() error {
		attempts++
		return context.Canceled
	}, WithConstantDelay(0), WithMaxRetries(5))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestServiceBreaker_Trips(t *testing.T) {
	b := NewServiceBreaker("test", WithFailureThreshold(2), WithTimeout(time.Hour))
	fail := func() error { return errors.New("boom") }

	assert.Error(t, b.Execute(fail))
	assert.Error(t, b.Execute(fail))
	assert.True(t, b.IsOpen())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, called)
	assert.False(t, DefaultRetryClassifier(err), "open circuit is not retried")
}
