package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	attrErrorType = "error_type"
	attrStatus    = "status"
)

// TracingCollector starts OpenTelemetry spans for event store operations. The returned context
// carries the span, so nested operations and contextual loggers see it.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector returns a TracingCollector starting its spans with tracer.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a client span named name with attrs.
func (t *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	spanCtx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(toAttributes(attrs)...),
	)

	return spanCtx, &Span{span: span}
}

// FinishSpan adds attrs, sets the final status and ends the span. Spans not started by a
// TracingCollector are ignored.
//
// An "error" status uses the error_type attribute as the status description.
func (t *TracingCollector) FinishSpan(spanCtx eventstore.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*Span)
	if !ok {
		return
	}

	span.span.SetAttributes(toAttributes(attrs)...)

	if status == statusError && attrs[attrErrorType] != "" {
		span.span.SetStatus(codes.Error, attrs[attrErrorType])
	} else {
		span.SetStatus(status)
	}

	span.span.End()
}

// Span wraps an OpenTelemetry span as eventstore.SpanContext.
type Span struct {
	span trace.Span
}

// SetStatus maps "success" to codes.Ok and "error" to codes.Error. Other values are kept as a
// status attribute.
func (s *Span) SetStatus(status string) {
	switch status {
	case statusSuccess:
		s.span.SetStatus(codes.Ok, "")
	case statusError:
		s.span.SetStatus(codes.Error, "event store operation failed")
	default:
		s.span.SetAttributes(attribute.String(attrStatus, status))
	}
}

// AddAttribute sets a string attribute on the span.
func (s *Span) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}

	return kvs
}

var (
	_ eventstore.TracingCollector = (*TracingCollector)(nil)
	_ eventstore.SpanContext      = (*Span)(nil)
)
