package postgresengine

import (
	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// Option defines a functional option for configuring Engine.
type Option func(*Engine) error

// WithCommitsTableName sets the name of the commits table.
func WithCommitsTableName(tableName string) Option {
	return func(e *Engine) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableName
		}

		e.commitsTableName = tableName

		return nil
	}
}

// WithSnapshotsTableName sets the name of the snapshots table.
func WithSnapshotsTableName(tableName string) Option {
	return func(e *Engine) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableName
		}

		e.snapshotsTableName = tableName

		return nil
	}
}

// WithPageSize sets how many rows a read fetches per round trip.
func WithPageSize(pageSize int) Option {
	return func(e *Engine) error {
		if pageSize <= 0 {
			return eventstore.ErrInvalidPageSize
		}

		e.pageSize = pageSize

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: commits, row counts, durations, concurrency conflicts (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
// It receives the same messages as the Logger, together with the operation context,
// which enables trace correlation when tracing is enabled.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
// It receives commit and read durations, row counts, concurrency conflicts and database errors.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
// It receives one span per commit, read page and snapshot operation.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}
