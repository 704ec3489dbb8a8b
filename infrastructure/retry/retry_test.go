package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/retry"
)

var errTransient = errors.New("upstream status 503")

func fastConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		IsRetryable:  func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Retry(t.Context(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Retry(t.Context(), fastConfig(2), func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, retry.ErrMaxAttemptsExceeded) {
		t.Fatalf("error = %v, want ErrMaxAttemptsExceeded", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("error should wrap the last failure")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Retry(t.Context(), fastConfig(5), func() error {
		calls++
		return retry.Permanent(errTransient)
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("error = %v, want errTransient", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := retry.Retry(ctx, fastConfig(3), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	t.Parallel()

	if !retry.DefaultIsRetryable(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if retry.DefaultIsRetryable(errors.New("invalid api token")) {
		t.Error("auth failures should not be retryable")
	}
	if retry.DefaultIsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
