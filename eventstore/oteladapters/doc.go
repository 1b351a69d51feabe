// Package oteladapters implements the eventstore observability interfaces on top of OpenTelemetry.
//
//   - MetricsCollector: eventstore.ContextualMetricsCollector backed by an OTel metric.Meter
//   - TracingCollector: eventstore.TracingCollector backed by an OTel trace.Tracer
//   - SlogBridgeLogger: eventstore.ContextualLogger on the otelslog bridge, with trace correlation
//   - OTelLogger: eventstore.ContextualLogger emitting OTel log records directly
//
// Usage with the PostgreSQL engine:
//
//	engine, _ := postgresengine.NewEngineFromPGXPool(
//		pool,
//		postgresengine.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter("eventstore"))),
//		postgresengine.WithTracing(oteladapters.NewTracingCollector(otel.Tracer("eventstore"))),
//		postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("eventstore")),
//	)
package oteladapters
