package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	err := Retry(context.Background(), cfg, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhausted(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	err := Retry(context.Background(), cfg, nil, func() error { return errors.New("boom") })
	require.Error(t, err)
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	classify := func(error) bool { return false }
	err := Retry(context.Background(), DefaultRetryConfig(), classify, func() error {
		attempts++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestFixedDelaysMatchesInputQueueSchedule(t *testing.T) {
	attempts := 0
	delays := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	err := FixedDelays(context.Background(), delays, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCircuitBreakerOpensAboveErrorThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name: "t", ErrorThreshold: 0.5, VolumeThreshold: 10,
		SleepWindow: time.Hour, HalfOpenRequests: 1, Classifier: DefaultErrorClassifier,
	})
	for i := 0; i < 6; i++ {
		cb.RecordFailure(errors.New("x"))
	}
	for i := 0; i < 4; i++ {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name: "t", ErrorThreshold: 0.5, VolumeThreshold: 2,
		SleepWindow: time.Millisecond, HalfOpenRequests: 1, Classifier: DefaultErrorClassifier,
	})
	cb.RecordFailure(errors.New("x"))
	cb.RecordFailure(errors.New("x"))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresValidationErrors(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("t"))
	for i := 0; i < 20; i++ {
		cb.RecordFailure(errorsIsValidation())
	}
	assert.Equal(t, StateClosed, cb.State())
}

func errorsIsValidation() error {
	return &validationErr{}
}

type validationErr struct{}

func (*validationErr) Error() string { return "validation failed" }
func (*validationErr) Is(target error) bool {
	return target.Error() == "validation failed"
}
