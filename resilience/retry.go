// Package resilience provides the retry-with-backoff and
// circuit-breaking primitives shared by the CLI Task Broker, the LLM
// Router's fallback chain, and the Input Queue — adapted from
// github.com/itsneelabh/gomind's resilience package.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig matches spec.md §4.10's input-queue backoff
// (1s, 2s, 3s; max 2 retries) when MaxAttempts is set to 3.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry runs fn until it succeeds, ctx is canceled, or MaxAttempts is
// exhausted. A non-retryable error (per classify) returns immediately.
func Retry(ctx context.Context, config *RetryConfig, classify func(error) bool, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if classify == nil {
		classify = func(error) bool { return true }
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		wait := delay
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			wait += jitter
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry exhausted after %d attempts: %w: %v", config.MaxAttempts, core.ErrMaxRetriesExceeded, lastErr)
}

// FixedDelays runs fn with a fixed sequence of delays between
// attempts instead of exponential backoff — used by the Input Queue,
// whose spec calls for a literal 1s/2s/3s schedule rather than a
// multiplicative one.
func FixedDelays(ctx context.Context, delays []time.Duration, classify func(error) bool, fn func() error) error {
	if classify == nil {
		classify = func(error) bool { return true }
	}

	var lastErr error
	attempts := len(delays) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}

		if attempt == len(delays) {
			break
		}

		timer := time.NewTimer(delays[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry exhausted after %d attempts: %w: %v", attempts, core.ErrMaxRetriesExceeded, lastErr)
}
