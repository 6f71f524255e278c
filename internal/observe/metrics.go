// Package observe provides application-wide observability primitives for
// dictaform: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all dictaform metrics.
const meterName = "github.com/MrWong99/dictaform"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// FragmentDuration tracks how long the engine takes to process one
	// transcript fragment. Use with attribute.Bool("final", ...).
	FragmentDuration metric.Float64Histogram

	// MapperDuration tracks free-text mapper latency, LLM call included.
	MapperDuration metric.Float64Histogram

	// --- Counters ---

	// FragmentsProcessed counts fragments fed to the engine. Use with
	// attribute.Bool("final", ...).
	FragmentsProcessed metric.Int64Counter

	// UpdatesEmitted counts field updates sent to clients. Use with
	// attribute.String("tier", ...), see [Tier].
	UpdatesEmitted metric.Int64Counter

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Validations counts end-of-dictation validations. Use with
	// attribute.Bool("valid", ...).
	Validations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// StreamDuration tracks how long dictation WebSocket connections stay
	// open. Upgraded requests are recorded here instead of HTTPRequestDuration.
	StreamDuration metric.Float64Histogram
}

// fragmentBuckets covers the sub-50 ms engine budget with headroom.
var fragmentBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network-bound calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// streamBuckets spans a quick note to a long consultation.
var streamBuckets = []float64{
	5, 30, 60, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FragmentDuration, err = m.Float64Histogram("dictaform.fragment.duration",
		metric.WithDescription("Engine processing time per transcript fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fragmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MapperDuration, err = m.Float64Histogram("dictaform.mapper.duration",
		metric.WithDescription("Latency of free-text mapping."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FragmentsProcessed, err = m.Int64Counter("dictaform.fragments",
		metric.WithDescription("Total transcript fragments processed."),
	); err != nil {
		return nil, err
	}
	if met.UpdatesEmitted, err = m.Int64Counter("dictaform.updates",
		metric.WithDescription("Total field updates emitted by confidence tier."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("dictaform.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dictaform.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Validations, err = m.Int64Counter("dictaform.validations",
		metric.WithDescription("Total form validations by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dictaform.active_sessions",
		metric.WithDescription("Number of connected dictation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dictaform.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.StreamDuration, err = m.Float64Histogram("dictaform.stream.duration",
		metric.WithDescription("Lifetime of dictation WebSocket connections."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(streamBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Tier names the confidence tier of an update for metric attributes.
func Tier(confidence float64) string {
	switch {
	case confidence >= 1:
		return "command"
	case confidence >= 0.98:
		return "anchored"
	case confidence >= 0.95:
		return "final"
	case confidence >= 0.85:
		return "mapper"
	default:
		return "preview"
	}
}

// RecordFragment records one processed fragment and its latency.
func (m *Metrics) RecordFragment(ctx context.Context, final bool, d time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("final", final))
	m.FragmentsProcessed.Add(ctx, 1, attrs)
	m.FragmentDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordUpdate counts one emitted update under its confidence tier.
func (m *Metrics) RecordUpdate(ctx context.Context, confidence float64) {
	m.UpdatesEmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", Tier(confidence))),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordValidation counts one validation outcome.
func (m *Metrics) RecordValidation(ctx context.Context, valid bool) {
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}
