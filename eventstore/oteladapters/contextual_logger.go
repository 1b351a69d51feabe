package oteladapters

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

// SlogBridgeLogger is an eventstore.ContextualLogger writing through a *slog.Logger.
// Built with NewSlogBridgeLogger, records go to an OpenTelemetry LoggerProvider and carry the
// trace and span of the context they were logged with.
type SlogBridgeLogger struct {
	logger *slog.Logger
}

// NewSlogBridgeLogger returns a logger on the otelslog bridge. Without options it uses the global
// LoggerProvider.
func NewSlogBridgeLogger(name string, options ...otelslog.Option) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: otelslog.NewLogger(name, options...)}
}

// NewSlogBridgeLoggerWithHandler returns a logger writing to handler as-is, without OpenTelemetry.
func NewSlogBridgeLoggerWithHandler(handler slog.Handler) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: slog.New(handler)}
}

func (l *SlogBridgeLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// OTelLogger is an eventstore.ContextualLogger emitting OpenTelemetry log records directly.
// The args follow the slog conventions: alternating keys and values, or slog.Attr.
type OTelLogger struct {
	logger log.Logger
}

// NewOTelLogger returns an OTelLogger emitting to logger.
func NewOTelLogger(logger log.Logger) *OTelLogger {
	return &OTelLogger{logger: logger}
}

func (l *OTelLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityDebug, slog.LevelDebug, msg, args)
}

func (l *OTelLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityInfo, slog.LevelInfo, msg, args)
}

func (l *OTelLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityWarn, slog.LevelWarn, msg, args)
}

func (l *OTelLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityError, slog.LevelError, msg, args)
}

func (l *OTelLogger) emit(ctx context.Context, severity log.Severity, level slog.Level, msg string, args []any) {
	now := time.Now()

	// slog.Record does the key/value pairing, including !BADKEY for a dangling value
	parsed := slog.NewRecord(now, level, msg, 0)
	parsed.Add(args...)

	var record log.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetSeverity(severity)
	record.SetSeverityText(level.String())
	record.SetBody(log.StringValue(msg))

	parsed.Attrs(func(attr slog.Attr) bool {
		record.AddAttributes(log.KeyValue{Key: attr.Key, Value: toLogValue(attr.Value)})
		return true
	})

	l.logger.Emit(ctx, record)
}

func toLogValue(value slog.Value) log.Value {
	switch value.Kind() {
	case slog.KindString:
		return log.StringValue(value.String())
	case slog.KindInt64:
		return log.Int64Value(value.Int64())
	case slog.KindUint64:
		return log.Int64Value(int64(value.Uint64())) //nolint:gosec // counters and durations stay far below MaxInt64
	case slog.KindFloat64:
		return log.Float64Value(value.Float64())
	case slog.KindBool:
		return log.BoolValue(value.Bool())
	case slog.KindDuration:
		return log.Int64Value(value.Duration().Nanoseconds())
	case slog.KindTime:
		return log.StringValue(value.Time().Format(time.RFC3339Nano))
	case slog.KindGroup:
		group := value.Group()
		kvs := make([]log.KeyValue, 0, len(group))

		for _, attr := range group {
			kvs = append(kvs, log.KeyValue{Key: attr.Key, Value: toLogValue(attr.Value)})
		}

		return log.MapValue(kvs...)
	default:
		return log.StringValue(value.Resolve().String())
	}
}

var (
	_ eventstore.ContextualLogger = (*SlogBridgeLogger)(nil)
	_ eventstore.ContextualLogger = (*OTelLogger)(nil)
)
