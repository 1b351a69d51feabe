package lending

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
	"github.com/AntonStoeckl/optimistic-eventstore-go/testutil/observability/testdoubles"
)

func Test_RetryWithExponentialBackoff_Success_NoRetries(t *testing.T) {
	// setup
	ctx := context.Background()
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		return nil
	}

	// act
	meta, err := RetryWithExponentialBackoff(ctx, fn)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, meta.Attempts)
	assert.Equal(t, time.Duration(0), meta.TotalDelay)
	assert.Equal(t, "none", meta.LastErrorType)
}

func Test_RetryWithExponentialBackoff_RetryOnConcurrencyConflict(t *testing.T) {
	// setup
	ctx := context.Background()
	callCount := 0
	metrics := testdoubles.NewMetricsCollectorSpy()

	fn := func(_ context.Context) error {
		callCount++
		if callCount < 3 {
			return eventstore.ErrConcurrencyConflict
		}

		return nil
	}

	// act
	meta, err := RetryWithExponentialBackoff(ctx, fn,
		WithBaseDelay(time.Millisecond),
		WithMetrics(metrics, "LendBookCopy"),
	)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, meta.Attempts)
	assert.Greater(t, meta.TotalDelay, time.Duration(0))
	assert.Equal(t, "none", meta.LastErrorType)
	assert.True(t, metrics.HasCounterRecordForMetric(RetriesMetric).
		WithLabel(labelCommandType, "LendBookCopy").
		WithLabel(labelAttemptNumber, "2").
		WithLabel(labelErrorType, "concurrency_conflict").
		Assert())
	assert.True(t, metrics.HasDurationRecordForMetric(RetryDelayMetric).WithLabel(labelAttemptNumber, "1").Assert())
	assert.False(t, metrics.HasCounterRecordForMetric(MaxRetriesReachedMetric).Assert())
}

func Test_RetryWithExponentialBackoff_GivesUpAfterMaxAttempts(t *testing.T) {
	// setup
	ctx := context.Background()
	callCount := 0
	metrics := testdoubles.NewMetricsCollectorSpy()

	fn := func(_ context.Context) error {
		callCount++
		return eventstore.ErrConcurrencyConflict
	}

	// act
	meta, err := RetryWithExponentialBackoff(ctx, fn,
		WithMaxAttempts(3),
		WithBaseDelay(time.Millisecond),
		WithJitterFactor(0),
		WithMetrics(metrics, "LendBookCopy"),
	)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, meta.Attempts)
	assert.Equal(t, 3*time.Millisecond, meta.TotalDelay)
	assert.Equal(t, "concurrency_conflict", meta.LastErrorType)
	assert.True(t, metrics.HasCounterRecordForMetric(MaxRetriesReachedMetric).
		WithLabel(labelFinalErrorType, "concurrency_conflict").
		Assert())
}

func Test_RetryWithExponentialBackoff_OtherErrorsFailFast(t *testing.T) {
	// setup
	ctx := context.Background()
	callCount := 0
	errBoom := errors.New("boom")

	fn := func(_ context.Context) error {
		callCount++
		return errBoom
	}

	// act
	meta, err := RetryWithExponentialBackoff(ctx, fn)

	// assert
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, "other", meta.LastErrorType)
}

func Test_RetryWithExponentialBackoff_StopsWhenContextIsCanceled(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())

	fn := func(_ context.Context) error {
		cancel()
		return eventstore.ErrConcurrencyConflict
	}

	// act
	meta, err := RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(time.Second))

	// assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, meta.Attempts)
	assert.Equal(t, "context_canceled", meta.LastErrorType)
}

func Test_RetryWithExponentialBackoff_InvalidOptions(t *testing.T) {
	// setup
	ctx := context.Background()
	fn := func(_ context.Context) error { return nil }

	// act
	_, errAttempts := RetryWithExponentialBackoff(ctx, fn, WithMaxAttempts(0))
	_, errDelay := RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(-1*time.Second))
	_, errJitter := RetryWithExponentialBackoff(ctx, fn, WithJitterFactor(1.5))
	_, errCollector := RetryWithExponentialBackoff(ctx, fn, WithMetrics(nil, "LendBookCopy"))
	_, errCommandType := RetryWithExponentialBackoff(ctx, fn, WithMetrics(testdoubles.NewMetricsCollectorSpy(), ""))

	// assert
	assert.ErrorIs(t, errAttempts, ErrInvalidMaxAttempts)
	assert.ErrorIs(t, errDelay, ErrNegativeBaseDelay)
	assert.ErrorIs(t, errJitter, ErrInvalidJitterFactor)
	assert.ErrorIs(t, errCollector, ErrNilMetricsCollector)
	assert.ErrorIs(t, errCommandType, ErrEmptyCommandType)
}
