package postgresengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	metricCommitDuration       = "eventstore_commit_duration_seconds"
	metricReadDuration         = "eventstore_read_duration_seconds"
	metricSnapshotDuration     = "eventstore_snapshot_duration_seconds"
	metricMaintenanceDuration  = "eventstore_maintenance_duration_seconds"
	metricEventsCommitted      = "eventstore_events_committed_total"
	metricCommitsRead          = "eventstore_commits_read_total"
	metricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	metricDuplicateCommits     = "eventstore_duplicate_commits_total"
	metricDatabaseErrors       = "eventstore_database_errors_total"

	spanNameCommit      = "eventstore.commit"
	spanNameRead        = "eventstore.read"
	spanNameAddSnapshot = "eventstore.snapshot.add"
	spanNameGetSnapshot = "eventstore.snapshot.get"
	spanNameMaintenance = "eventstore.maintenance"

	spanAttrOperation      = "operation"
	spanAttrBucketID       = "bucket_id"
	spanAttrStreamID       = "stream_id"
	spanAttrCommitSequence = "commit_sequence"
	spanAttrStreamRevision = "stream_revision"
	spanAttrEventCount     = "event_count"
	spanAttrCommitCount    = "commit_count"
	spanAttrCheckpoint     = "checkpoint"
	spanAttrErrorType      = "error_type"
	spanAttrDurationMS     = "duration_ms"

	labelStatus       = "status"
	labelConflictType = "conflict_type"

	statusSuccess = "success"
	statusError   = "error"

	operationCommit      = "commit"
	operationRead        = "read"
	operationAddSnapshot = "add_snapshot"
	operationGetSnapshot = "get_snapshot"
	operationPurge       = "purge"
	operationDelete      = "delete_stream"
	operationSchema      = "schema"

	errorTypeBuildQuery  = "build_query_failed"
	errorTypeDatabase    = "database_query_failed"
	errorTypeScan        = "row_scan_failed"
	errorTypeEncode      = "encode_failed"
	errorTypeDecode      = "decode_failed"
	errorTypeConflict    = "concurrency_conflict"
	errorTypeDuplicate   = "duplicate_commit"
	errorTypeUnavailable = "storage_unavailable"
)

// === Logging ===
// The contextual logger is used in preference when both are configured.

func (e *Engine) logDebug(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.DebugContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.InfoContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.WarnContext(ctx, msg, args...)
	case e.logger != nil:
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	case e.logger != nil:
		e.logger.Error(msg, allArgs...)
	}
}

// logSQL logs an executed statement with its timing at debug level.
func (e *Engine) logSQL(ctx context.Context, sqlQuery string, operation string, duration time.Duration) {
	e.logDebug(ctx, logMsgSQLExecuted+operation, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// === Metrics ===

func (e *Engine) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := e.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	e.metricsCollector.RecordDuration(metric, duration, labels)
}

func (e *Engine) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := e.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
		return
	}

	e.metricsCollector.IncrementCounter(metric, labels)
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := e.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

// === Operation Observer ===
// An operationObserver bundles the span, the timer and the metrics of one engine operation.

type operationObserver struct {
	e              *Engine
	ctx            context.Context
	operation      string
	durationMetric string
	span           eventstore.SpanContext
	start          time.Time
}

func (e *Engine) startOperation(
	ctx context.Context,
	operation string,
	spanName string,
	durationMetric string,
	attrs map[string]string,
) (*operationObserver, context.Context) {

	spanAttrs := map[string]string{spanAttrOperation: operation}
	for k, v := range attrs {
		spanAttrs[k] = v
	}

	var span eventstore.SpanContext
	if e.tracingCollector != nil {
		ctx, span = e.tracingCollector.StartSpan(ctx, spanName, spanAttrs)
	}

	return &operationObserver{
		e:              e,
		ctx:            ctx,
		operation:      operation,
		durationMetric: durationMetric,
		span:           span,
		start:          time.Now(),
	}, ctx
}

func (o *operationObserver) elapsed() time.Duration {
	return time.Since(o.start)
}

func (o *operationObserver) labels(status string) map[string]string {
	return map[string]string{spanAttrOperation: o.operation, labelStatus: status}
}

// finishSuccess records the duration and closes the span. The attrs end up on the span.
func (o *operationObserver) finishSuccess(attrs map[string]string) {
	duration := o.elapsed()
	o.e.recordDuration(o.ctx, o.durationMetric, duration, o.labels(statusSuccess))
	o.finishSpan(statusSuccess, duration, attrs)
}

// finishError records the duration and the error counter and closes the span.
func (o *operationObserver) finishError(errorType string) {
	duration := o.elapsed()
	o.e.recordDuration(o.ctx, o.durationMetric, duration, o.labels(statusError))

	labels := o.labels(statusError)
	labels[spanAttrErrorType] = errorType
	o.e.incrementCounter(o.ctx, metricDatabaseErrors, labels)

	o.finishSpan(statusError, duration, map[string]string{spanAttrErrorType: errorType})
}

// finishRejected records a commit that lost against another writer or repeated a commit id.
// Rejections are expected outcomes, so they do not count as database errors.
func (o *operationObserver) finishRejected(errorType string) {
	duration := o.elapsed()
	o.e.recordDuration(o.ctx, o.durationMetric, duration, o.labels(statusError))

	metric := metricConcurrencyConflicts
	if errorType == errorTypeDuplicate {
		metric = metricDuplicateCommits
	}

	o.e.incrementCounter(o.ctx, metric, map[string]string{spanAttrOperation: o.operation, labelConflictType: errorType})
	o.finishSpan(statusError, duration, map[string]string{spanAttrErrorType: errorType})
}

func (o *operationObserver) finishSpan(status string, duration time.Duration, attrs map[string]string) {
	if o.e.tracingCollector == nil || o.span == nil {
		return
	}

	o.span.SetStatus(status)
	o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))

	for k, v := range attrs {
		o.span.AddAttribute(k, v)
	}

	o.e.tracingCollector.FinishSpan(o.span, status, attrs)
}
