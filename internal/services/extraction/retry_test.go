package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestWithRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &ExtractionError{Stage: StageStructured, Message: "busy", Retryable: true}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetryConfig(2), func(ctx context.Context) (string, error) {
		calls++
		return "", &ExtractionError{Stage: StageStructured, Message: "still busy", Retryable: true}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestWithRetryNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetryConfig(5), func(ctx context.Context) (string, error) {
		calls++
		return "", &ExtractionError{Stage: StageNative, Message: "corrupt page", Retryable: false}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.False(t, extErr.IsRetryable())
}

func TestWithRetryPlainErrorIsRetried(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetryConfig(1), func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 1.0}
	_, err := WithRetry(ctx, cfg, func(ctx context.Context) (string, error) {
		cancel()
		return "", &ExtractionError{Stage: StageStructured, Message: "busy", Retryable: true}
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractionErrorWrapsCause(t *testing.T) {
	cause := errors.New("provider down")
	err := &ExtractionError{Stage: StageStructured, Message: "generation failed", Retryable: true, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "structured")
	assert.Contains(t, err.Error(), "provider down")
}
