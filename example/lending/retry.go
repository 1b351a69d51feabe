package lending

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3

	// RetryDelayMetric records the backoff delay before each retry.
	RetryDelayMetric = "commandhandler_retry_delay_seconds"

	// RetriesMetric counts retries after a concurrency conflict.
	RetriesMetric = "commandhandler_retries_total"

	// MaxRetriesReachedMetric counts commands that gave up after the last attempt.
	MaxRetriesReachedMetric = "commandhandler_max_retries_reached_total"

	labelCommandType    = "command_type"
	labelAttemptNumber  = "attempt_number"
	labelErrorType      = "error_type"
	labelFinalErrorType = "final_error_type"
)

var (
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")
	ErrEmptyCommandType    = errors.New("command type must not be empty")
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc is one attempt of a command.
type RetryableFunc func(ctx context.Context) error

// RetryMetadata describes how a retried command went.
type RetryMetadata struct {
	Attempts      int
	TotalDelay    time.Duration
	LastErrorType string
}

type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector eventstore.MetricsCollector
	commandType      string
}

// RetryOption configures RetryWithExponentialBackoff.
type RetryOption func(*retryConfig) error

// RetryWithExponentialBackoff runs fn until it succeeds, fails with anything but
// eventstore.ErrConcurrencyConflict, or the attempts are used up.
//
// Default schedule: 0 ms, 10 ms, 20 ms, 40 ms, 80 ms, 160 ms, each plus up to 30% jitter.
// A context.DeadlineExceeded is not retried.
func RetryWithExponentialBackoff(ctx context.Context, fn RetryableFunc, options ...RetryOption) (RetryMetadata, error) {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return RetryMetadata{}, err
		}
	}

	meta := RetryMetadata{LastErrorType: errorType(nil)}

	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoff := delay + time.Duration(jitter)

			config.recordDuration(ctx, RetryDelayMetric, backoff, map[string]string{
				labelCommandType:   config.commandType,
				labelAttemptNumber: strconv.Itoa(attempt),
			})

			select {
			case <-time.After(backoff):
				meta.TotalDelay += backoff
			case <-ctx.Done():
				meta.LastErrorType = errorType(ctx.Err())
				return meta, ctx.Err()
			}
		}

		meta.Attempts++

		lastErr = fn(ctx)
		meta.LastErrorType = errorType(lastErr)

		if lastErr == nil || !errors.Is(lastErr, eventstore.ErrConcurrencyConflict) {
			return meta, lastErr
		}

		if attempt < config.maxAttempts-1 {
			config.incrementCounter(ctx, RetriesMetric, map[string]string{
				labelCommandType:   config.commandType,
				labelAttemptNumber: strconv.Itoa(attempt + 1),
				labelErrorType:     meta.LastErrorType,
			})
		}
	}

	config.incrementCounter(ctx, MaxRetriesReachedMetric, map[string]string{
		labelCommandType:    config.commandType,
		labelFinalErrorType: meta.LastErrorType,
	})

	return meta, lastErr
}

func (c *retryConfig) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextual, ok := c.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	c.metricsCollector.RecordDuration(metric, d, labels)
}

func (c *retryConfig) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextual, ok := c.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	c.metricsCollector.IncrementCounter(metric, labels)
}

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	default:
		return "other"
	}
}

// WithMaxAttempts sets the number of attempts, including the first one.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the delay before the first retry. It doubles for each further retry.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter as a fraction of the delay, between 0.0 and 1.0.
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithMetrics records retry delays and counts, labeled with commandType.
func WithMetrics(collector eventstore.MetricsCollector, commandType string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if commandType == "" {
			return ErrEmptyCommandType
		}

		config.metricsCollector = collector
		config.commandType = commandType

		return nil
	}
}
