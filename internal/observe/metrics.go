// Package observe provides application-wide observability primitives for
// Dubbler: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware that records request latency.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Dubbler metrics.
const meterName = "github.com/omniglot-dev/dubbler"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DubRequestDuration tracks end-to-end dub request latency. Use with
	// attributes:
	//   attribute.String("lang", ...), attribute.String("outcome", ...)
	DubRequestDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// SessionBuildDuration tracks transcript fetch plus reference
	// translation latency for new sessions.
	SessionBuildDuration metric.Float64Histogram

	// --- Counters ---

	// DubRequests counts dub requests. Use with attributes:
	//   attribute.String("lang", ...), attribute.String("outcome", "hit"|"miss"|"error")
	DubRequests metric.Int64Counter

	// SegmentsMaterialized counts newly synthesized segments. Use with
	// attribute:
	//   attribute.String("mode", "sync"|"prefetch")
	SegmentsMaterialized metric.Int64Counter

	// TranslateRetries counts rate-limited translation attempts that were
	// retried after backoff.
	TranslateRetries metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of resident video sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Dub
// requests can legitimately take tens of seconds when a miss triggers a
// synchronous window fill, so the upper buckets stretch further than usual.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DubRequestDuration, err = m.Float64Histogram("dubbler.dub.request.duration",
		metric.WithDescription("End-to-end dub request latency by language and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("dubbler.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionBuildDuration, err = m.Float64Histogram("dubbler.session.build.duration",
		metric.WithDescription("Latency of transcript fetch and reference translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DubRequests, err = m.Int64Counter("dubbler.dub.requests",
		metric.WithDescription("Total dub requests by language and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsMaterialized, err = m.Int64Counter("dubbler.segments.materialized",
		metric.WithDescription("Newly synthesized segment artifacts by fill mode."),
	); err != nil {
		return nil, err
	}
	if met.TranslateRetries, err = m.Int64Counter("dubbler.translate.retries",
		metric.WithDescription("Rate-limited translation attempts retried after backoff."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dubbler.active_sessions",
		metric.WithDescription("Number of resident video sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dubbler.http.request.duration",
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

// RecordDubRequest records one dub request with its language, outcome, and
// elapsed seconds. Safe to call on a nil receiver.
func (m *Metrics) RecordDubRequest(ctx context.Context, lang, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("lang", lang),
		attribute.String("outcome", outcome),
	)
	m.DubRequests.Add(ctx, 1, attrs)
	m.DubRequestDuration.Record(ctx, seconds, attrs)
}

// RecordMaterialized records n newly synthesized segments for the given fill
// mode ("sync" or "prefetch"). Safe to call on a nil receiver.
func (m *Metrics) RecordMaterialized(ctx context.Context, mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SegmentsMaterialized.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordTranslateRetry records one rate-limited translation attempt that was
// retried. Safe to call on a nil receiver.
func (m *Metrics) RecordTranslateRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.TranslateRetries.Add(ctx, 1)
}
