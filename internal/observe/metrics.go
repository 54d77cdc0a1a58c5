// Package observe provides the observability primitives for framegate:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Codec sessions report through [Metrics.SessionObserver], which implements
// [session.Observer] for one engine.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/framegate/pkg/session"
)

// meterName is the instrumentation scope name used for all framegate metrics.
const meterName = "github.com/MrWong99/framegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionsOpened counts successfully opened codec sessions. Use with
	// attributes:
	//   attribute.String("engine", ...), attribute.String("kind", ...)
	SessionsOpened metric.Int64Counter

	// ActiveSessions tracks the number of open codec sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionErrors counts failed session operations. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("op", ...),
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Encode path ---

	// FramesSubmitted counts frames handed to engine encoders.
	FramesSubmitted metric.Int64Counter

	// PacketsProduced counts compressed units copied out to callers.
	PacketsProduced metric.Int64Counter

	// PacketBytes counts compressed bytes copied out to callers.
	PacketBytes metric.Int64Counter

	// --- Decode path ---

	// UnitsDecoded counts access units that produced a frame.
	UnitsDecoded metric.Int64Counter

	// SilencePads counts decoded units padded with silence to their declared
	// length.
	SilencePads metric.Int64Counter

	// SamplesConverted counts samples per channel written by converters.
	SamplesConverted metric.Int64Counter

	// --- Jobs ---

	// JobDuration tracks batch transcode job duration. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	JobDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// jobBuckets defines histogram bucket boundaries (in seconds) for transcode
// jobs.
var jobBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionsOpened, err = m.Int64Counter("framegate.sessions.opened",
		metric.WithDescription("Total codec sessions opened by engine and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("framegate.active_sessions",
		metric.WithDescription("Number of open codec sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("framegate.session.errors",
		metric.WithDescription("Total failed session operations by engine, operation and error kind."),
	); err != nil {
		return nil, err
	}

	// Encode path.
	if met.FramesSubmitted, err = m.Int64Counter("framegate.frames.submitted",
		metric.WithDescription("Total frames submitted to engine encoders."),
	); err != nil {
		return nil, err
	}
	if met.PacketsProduced, err = m.Int64Counter("framegate.packets.produced",
		metric.WithDescription("Total compressed units handed to callers."),
	); err != nil {
		return nil, err
	}
	if met.PacketBytes, err = m.Int64Counter("framegate.packets.bytes",
		metric.WithDescription("Total compressed bytes handed to callers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Decode path.
	if met.UnitsDecoded, err = m.Int64Counter("framegate.units.decoded",
		metric.WithDescription("Total access units decoded to a frame."),
	); err != nil {
		return nil, err
	}
	if met.SilencePads, err = m.Int64Counter("framegate.silence_pads",
		metric.WithDescription("Total decoded units padded with silence to the declared length."),
	); err != nil {
		return nil, err
	}
	if met.SamplesConverted, err = m.Int64Counter("framegate.samples.converted",
		metric.WithDescription("Total samples per channel written by output converters."),
	); err != nil {
		return nil, err
	}

	// Jobs.
	if met.JobDuration, err = m.Float64Histogram("framegate.job.duration",
		metric.WithDescription("Duration of batch transcode jobs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("framegate.http.request.duration",
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

// RecordJob records one finished transcode job.
func (m *Metrics) RecordJob(ctx context.Context, mode, status string, seconds float64) {
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// SessionObserver returns a [session.Observer] that records the events of
// sessions running on engine. ctx is used for every measurement.
func (m *Metrics) SessionObserver(ctx context.Context, engine string) session.Observer {
	return &sessionObserver{m: m, ctx: ctx, engine: attribute.String("engine", engine)}
}

type sessionObserver struct {
	m      *Metrics
	ctx    context.Context
	engine attribute.KeyValue
}

func (o *sessionObserver) SessionOpened(kind string) {
	attrs := metric.WithAttributes(o.engine, attribute.String("kind", kind))
	o.m.SessionsOpened.Add(o.ctx, 1, attrs)
	o.m.ActiveSessions.Add(o.ctx, 1, attrs)
}

func (o *sessionObserver) SessionClosed(kind string) {
	o.m.ActiveSessions.Add(o.ctx, -1, metric.WithAttributes(o.engine, attribute.String("kind", kind)))
}

func (o *sessionObserver) FrameSubmitted(int) {
	o.m.FramesSubmitted.Add(o.ctx, 1, metric.WithAttributes(o.engine))
}

func (o *sessionObserver) PacketProduced(bytes int) {
	attrs := metric.WithAttributes(o.engine)
	o.m.PacketsProduced.Add(o.ctx, 1, attrs)
	o.m.PacketBytes.Add(o.ctx, int64(bytes), attrs)
}

func (o *sessionObserver) UnitDecoded(_ int, padded bool) {
	attrs := metric.WithAttributes(o.engine)
	o.m.UnitsDecoded.Add(o.ctx, 1, attrs)
	if padded {
		o.m.SilencePads.Add(o.ctx, 1, attrs)
	}
}

func (o *sessionObserver) SamplesConverted(samples int) {
	o.m.SamplesConverted.Add(o.ctx, int64(samples), metric.WithAttributes(o.engine))
}

func (o *sessionObserver) Failed(op string, code session.Code) {
	o.m.SessionErrors.Add(o.ctx, 1,
		metric.WithAttributes(
			o.engine,
			attribute.String("op", op),
			attribute.String("kind", code.Kind().String()),
		),
	)
}
