package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/framegate/pkg/session"
)

// tracerName is the instrumentation scope name for the framegate tracer.
const tracerName = "github.com/MrWong99/framegate"

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Job identifies a transcode job in spans.
type Job struct {
	Name   string
	ID     string
	Mode   string
	Engine string
}

// StartJobSpan starts the span "transcode.<mode>" carrying the job's
// identity.
func StartJobSpan(ctx context.Context, job Job) (context.Context, trace.Span) {
	return StartSpan(ctx, "transcode."+job.Mode,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job", job.Name),
			attribute.String("job_id", job.ID),
			attribute.String("engine", job.Engine),
		),
	)
}

// EndJobSpan records the outcome of a job on span and ends it. A failed job
// gets an error status; when err carries a session code it is added as
// session.code and session.error_kind.
func EndJobSpan(span trace.Span, err error, units int, samples int64) {
	defer span.End()
	span.SetAttributes(attribute.Int("units", units), attribute.Int64("samples", samples))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	if code := session.CodeOf(err); code != 0 {
		span.SetAttributes(
			attribute.String("session.code", code.String()),
			attribute.String("session.error_kind", code.Kind().String()),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. Job logs and the X-Correlation-ID response header use it.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base (slog.Default() when nil) with trace_id and span_id
// from ctx. Without an active span base is returned unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
