// Package observe provides application-wide observability primitives for
// hotword: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all hotword metrics.
const meterName = "github.com/MrWong99/hotword"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Engine ---

	// ProcessDuration tracks the time the engine spends on a single frame.
	ProcessDuration metric.Float64Histogram

	// Frames counts frames handed to the engine. Use with attribute:
	//   attribute.String("source", ...)
	Frames metric.Int64Counter

	// Detections counts keyword detections. Use with attributes:
	//   attribute.String("source", ...), attribute.String("keyword", ...)
	Detections metric.Int64Counter

	// ProcessErrors counts frames the engine failed on. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	ProcessErrors metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of live engine sessions.
	ActiveSessions metric.Int64UpDownCounter

	// RejectedSessions counts streaming sessions refused because the server
	// was at capacity.
	RejectedSessions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// ServeMux route and status code. Websocket requests are
	// recorded when the connection ends.
	HTTPRequestDuration metric.Float64Histogram
}

// processBuckets defines histogram bucket boundaries (in seconds) for a
// single frame, which is expected to take well under a millisecond.
var processBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProcessDuration, err = m.Float64Histogram("hotword.process.duration",
		metric.WithDescription("Latency of keyword detection for one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("hotword.frames",
		metric.WithDescription("Total frames processed by source."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("hotword.detections",
		metric.WithDescription("Total keyword detections by source and keyword."),
	); err != nil {
		return nil, err
	}
	if met.ProcessErrors, err = m.Int64Counter("hotword.process.errors",
		metric.WithDescription("Total engine processing failures by source and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("hotword.active_sessions",
		metric.WithDescription("Number of live engine sessions."),
	); err != nil {
		return nil, err
	}
	if met.RejectedSessions, err = m.Int64Counter("hotword.sessions.rejected",
		metric.WithDescription("Streaming sessions refused at capacity."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hotword.http.request.duration",
		metric.WithDescription("HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared [Metrics] bound to the global meter
// provider. Call [InitProvider] first if the instruments should be exported;
// the OTel global delegates instruments created before registration.
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

// RecordDetection records a detection counter increment with the standard
// attribute set.
func (m *Metrics) RecordDetection(ctx context.Context, source, keyword string) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("keyword", keyword),
		),
	)
}

// RecordProcessError records an engine failure counter increment.
func (m *Metrics) RecordProcessError(ctx context.Context, source, status string) {
	m.ProcessErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

// RecordRejectedSession records a session refused at capacity.
func (m *Metrics) RecordRejectedSession(ctx context.Context) {
	m.RejectedSessions.Add(ctx, 1)
}
