package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records eventcore metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish with its fan-out size and duration.
	RecordPublish(ctx context.Context, eventType string, handlers int, duration time.Duration)

	// RecordHandler records one handler invocation and its outcome status.
	RecordHandler(ctx context.Context, eventType, status string, duration time.Duration)

	// RecordTransition records a committed state transition.
	RecordTransition(ctx context.Context, from, to string)

	// RecordRejection records a rejected state transition.
	RecordRejection(ctx context.Context, from, to string)

	// RecordRecovery records a finished recovery attempt.
	RecordRecovery(ctx context.Context, kind string, success bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published      metric.Int64Counter
	publishLatency metric.Float64Histogram
	handled        metric.Int64Counter
	handlerLatency metric.Float64Histogram
	transitions    metric.Int64Counter
	rejections     metric.Int64Counter
	recoveries     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("eventcore"))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	published, err := meter.Int64Counter("eventcore.bus.published",
		metric.WithDescription("Number of published events"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("eventcore.bus.publish_latency_ms",
		metric.WithDescription("Publish latency including handler fan-out, in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handled, err := meter.Int64Counter("eventcore.bus.handled",
		metric.WithDescription("Number of handler invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("eventcore.bus.handler_latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("eventcore.fsm.transitions",
		metric.WithDescription("Number of committed state transitions"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter("eventcore.fsm.rejections",
		metric.WithDescription("Number of rejected state transitions"),
	)
	if err != nil {
		return nil, err
	}

	recoveries, err := meter.Int64Counter("eventcore.fsm.recoveries",
		metric.WithDescription("Number of finished recovery attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		published:      published,
		publishLatency: publishLatency,
		handled:        handled,
		handlerLatency: handlerLatency,
		transitions:    transitions,
		rejections:     rejections,
		recoveries:     recoveries,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns a MetricsRecorder bound to meter.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	m, err := newOtelMetrics(meter)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func toMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, handlers int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.published.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, toMs(duration), metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("handlers", handlers),
	))
}

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, eventType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	)
	m.handled.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, toMs(duration), attrs)
}

// RecordTransition records a committed transition.
func (m *otelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRejection records a rejected transition.
func (m *otelMetrics) RecordRejection(ctx context.Context, from, to string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRecovery records a finished recovery attempt.
func (m *otelMetrics) RecordRecovery(ctx context.Context, kind string, success bool) {
	m.recoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_kind", kind),
		attribute.Bool("success", success),
	))
}
