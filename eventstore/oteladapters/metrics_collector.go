package oteladapters

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AntonStoeckl/optimistic-eventstore-go/eventstore"
)

const totalSuffix = "_total"

// MetricsCollector maps the eventstore metrics onto OpenTelemetry instruments:
//   - RecordDuration -> Float64Histogram in seconds
//   - IncrementCounter -> Int64Counter
//   - RecordValue -> Float64Counter for metric names ending in "_total", Float64Gauge otherwise
//
// Instruments are created lazily on first use and cached per name. Instrument creation errors are
// reported to the global OpenTelemetry error handler and the measurement is dropped.
type MetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	sums       map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
}

// NewMetricsCollector returns a MetricsCollector creating its instruments with meter.
func NewMetricsCollector(meter metric.Meter) *MetricsCollector {
	return &MetricsCollector{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
		sums:       make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// RecordDuration records duration in seconds.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.RecordDurationContext(context.Background(), metricName, duration, labels)
}

// RecordDurationContext records duration in seconds with the exemplar context of ctx.
func (m *MetricsCollector) RecordDurationContext(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	labels map[string]string,
) {

	histogram, ok := m.histogram(metricName)
	if !ok {
		return
	}

	histogram.Record(ctx, duration.Seconds(), metric.WithAttributeSet(toAttributeSet(labels)))
}

// IncrementCounter adds one to the counter.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.IncrementCounterContext(context.Background(), metricName, labels)
}

// IncrementCounterContext adds one to the counter with the exemplar context of ctx.
func (m *MetricsCollector) IncrementCounterContext(ctx context.Context, metricName string, labels map[string]string) {
	counter, ok := m.counter(metricName)
	if !ok {
		return
	}

	counter.Add(ctx, 1, metric.WithAttributeSet(toAttributeSet(labels)))
}

// RecordValue adds value to a "_total" sum or sets it as the current gauge value.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.RecordValueContext(context.Background(), metricName, value, labels)
}

// RecordValueContext is RecordValue with the exemplar context of ctx.
func (m *MetricsCollector) RecordValueContext(
	ctx context.Context,
	metricName string,
	value float64,
	labels map[string]string,
) {

	attrs := metric.WithAttributeSet(toAttributeSet(labels))

	if strings.HasSuffix(metricName, totalSuffix) {
		if value < 0 {
			return
		}

		if sum, ok := m.sum(metricName); ok {
			sum.Add(ctx, value, attrs)
		}

		return
	}

	if gauge, ok := m.gauge(metricName); ok {
		gauge.Record(ctx, value, attrs)
	}
}

func (m *MetricsCollector) histogram(name string) (metric.Float64Histogram, bool) {
	return instrument(&m.mu, m.histograms, name, func() (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(name, metric.WithDescription("Duration of event store operations"), metric.WithUnit("s"))
	})
}

func (m *MetricsCollector) counter(name string) (metric.Int64Counter, bool) {
	return instrument(&m.mu, m.counters, name, func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter(name, metric.WithDescription("Number of event store occurrences"))
	})
}

func (m *MetricsCollector) sum(name string) (metric.Float64Counter, bool) {
	return instrument(&m.mu, m.sums, name, func() (metric.Float64Counter, error) {
		return m.meter.Float64Counter(name, metric.WithDescription("Running total of event store items"))
	})
}

func (m *MetricsCollector) gauge(name string) (metric.Float64Gauge, bool) {
	return instrument(&m.mu, m.gauges, name, func() (metric.Float64Gauge, error) {
		return m.meter.Float64Gauge(name, metric.WithDescription("Current event store value"))
	})
}

// instrument returns the cached instrument for name or creates and caches it.
func instrument[T any](mu *sync.Mutex, cache map[string]T, name string, create func() (T, error)) (T, bool) {
	mu.Lock()
	defer mu.Unlock()

	if existing, ok := cache[name]; ok {
		return existing, true
	}

	created, err := create()
	if err != nil {
		otel.Handle(err)

		var zero T
		return zero, false
	}

	cache[name] = created

	return created, true
}

func toAttributeSet(labels map[string]string) attribute.Set {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}

	return attribute.NewSet(attrs...)
}

var _ eventstore.ContextualMetricsCollector = (*MetricsCollector)(nil)
