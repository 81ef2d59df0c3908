// Package observe provides application-wide observability primitives for
// voxtodo: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the configured metrics path. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxtodo metrics.
const meterName = "github.com/MrWong99/voxtodo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks the round trip to the remote parser.
	TranscriptionDuration metric.Float64Histogram

	// IngestionDuration tracks a full ingestion from capture start to a
	// terminal state.
	IngestionDuration metric.Float64Histogram

	// --- Counters ---

	// TranscriptionRequests counts remote parse calls. Use with attribute:
	//   attribute.String("status", ...)
	TranscriptionRequests metric.Int64Counter

	// IngestionOutcomes counts finished ingestions. Use with attribute:
	//   attribute.String("outcome", "succeeded"|"failed")
	IngestionOutcomes metric.Int64Counter

	// ReminderOps counts notifier calls. Use with attributes:
	//   attribute.String("op", "schedule"|"cancel"), attribute.String("status", ...)
	ReminderOps metric.Int64Counter

	// TaskMutations counts task store mutations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	TaskMutations metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks coordinators currently recording.
	ActiveCaptures metric.Int64UpDownCounter

	// EventSubscribers tracks connected live event streams.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// audio uploads and remote parsing.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("voxtodo.transcription.duration",
		metric.WithDescription("Latency of the remote parse-todo call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestionDuration, err = m.Float64Histogram("voxtodo.ingestion.duration",
		metric.WithDescription("Duration of a voice ingestion from capture to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TranscriptionRequests, err = m.Int64Counter("voxtodo.transcription.requests",
		metric.WithDescription("Total remote parse requests by status."),
	); err != nil {
		return nil, err
	}
	if met.IngestionOutcomes, err = m.Int64Counter("voxtodo.ingestion.outcomes",
		metric.WithDescription("Total finished ingestions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ReminderOps, err = m.Int64Counter("voxtodo.reminder.ops",
		metric.WithDescription("Total reminder schedule and cancel calls by status."),
	); err != nil {
		return nil, err
	}
	if met.TaskMutations, err = m.Int64Counter("voxtodo.task.mutations",
		metric.WithDescription("Total task store mutations by operation and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voxtodo.active_captures",
		metric.WithDescription("Number of ingestions currently recording."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("voxtodo.event_subscribers",
		metric.WithDescription("Number of connected live event streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtodo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTranscription records one remote parse call.
func (m *Metrics) RecordTranscription(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TranscriptionRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordIngestion records a finished ingestion.
func (m *Metrics) RecordIngestion(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.IngestionOutcomes.Add(ctx, 1, attrs)
	m.IngestionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReminderOp records a single notifier call.
func (m *Metrics) RecordReminderOp(ctx context.Context, op, status string) {
	m.ReminderOps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordTaskMutation records a single task store mutation.
func (m *Metrics) RecordTaskMutation(ctx context.Context, op, status string) {
	m.TaskMutations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
