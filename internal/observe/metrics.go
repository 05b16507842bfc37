// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together with structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks how long one rule set application takes.
	TranscriptionDuration metric.Float64Histogram

	// ReloadDuration tracks how long compiling and swapping a rules table takes.
	ReloadDuration metric.Float64Histogram

	// Transcriptions counts processed transcription requests. Attributes:
	//   attribute.String("ruleset", ...), attribute.String("status", ...)
	Transcriptions metric.Int64Counter

	// CoalescedRequests counts transcription requests that were superseded
	// before a worker picked them up.
	CoalescedRequests metric.Int64Counter

	// Reloads counts rules table reloads. Attribute:
	//   attribute.String("status", ...)
	Reloads metric.Int64Counter

	// RulesetsLoaded reports the number of rule sets in the most recently
	// loaded table.
	RulesetsLoaded metric.Int64Gauge

	// ActiveWorkers tracks the number of running transcriber workers.
	ActiveWorkers metric.Int64UpDownCounter

	// ActiveSessions tracks the number of connected live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Rule
// application on typed text is expected to finish well below a frame.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("livescribe.transcription.duration",
		metric.WithDescription("Latency of applying a rule set to submitted text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReloadDuration, err = m.Float64Histogram("livescribe.reload.duration",
		metric.WithDescription("Latency of compiling and swapping a rules table."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Transcriptions, err = m.Int64Counter("livescribe.transcriptions",
		metric.WithDescription("Total processed transcription requests by ruleset and status."),
	); err != nil {
		return nil, err
	}
	if met.CoalescedRequests, err = m.Int64Counter("livescribe.transcriptions.coalesced",
		metric.WithDescription("Transcription requests superseded before processing."),
	); err != nil {
		return nil, err
	}
	if met.Reloads, err = m.Int64Counter("livescribe.reloads",
		metric.WithDescription("Total rules table reloads by status."),
	); err != nil {
		return nil, err
	}

	if met.RulesetsLoaded, err = m.Int64Gauge("livescribe.rulesets.loaded",
		metric.WithDescription("Number of rule sets in the most recently loaded table."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("livescribe.active_workers",
		metric.WithDescription("Number of running transcriber workers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("livescribe.active_sessions",
		metric.WithDescription("Number of connected live transcription sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
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

// RecordTranscription records one processed transcription request.
func (m *Metrics) RecordTranscription(ctx context.Context, ruleset, status string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds())
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("ruleset", ruleset),
			attribute.String("status", status),
		),
	)
}

// RecordReload records one reload attempt. loaded is the rule set count after
// the reload and is only reported for successful reloads.
func (m *Metrics) RecordReload(ctx context.Context, status string, d time.Duration, loaded int) {
	m.ReloadDuration.Record(ctx, d.Seconds())
	m.Reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == "ok" {
		m.RulesetsLoaded.Record(ctx, int64(loaded))
	}
}
