// Package testdoubles provides spies for the observability interfaces of the eventstore packages.
//
//   - LogHandlerSpy: a slog.Handler capturing records, usable as eventstore.Logger via Logger()
//   - ContextualLoggerSpy: captures eventstore.ContextualLogger calls
//   - MetricsCollectorSpy: captures eventstore.ContextualMetricsCollector calls
//   - TracingCollectorSpy: captures eventstore.TracingCollector spans
//
// All spies are safe for concurrent use.
package testdoubles
