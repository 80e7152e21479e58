package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the podbot tracer.
const tracerName = "github.com/MrWong99/podbot"

// Tracer returns the package-level [trace.Tracer] for podbot. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// StartSpeakerSpan starts a span for work on one speaker of a session and
// returns a logger carrying the session, speaker and trace attributes.
func StartSpeakerSpan(ctx context.Context, name, session, speaker string) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(
		attribute.String("podbot.session", session),
		attribute.String("podbot.speaker", speaker),
	))
	l := Logger(ctx).With(slog.String("session", session), slog.String("speaker", speaker))
	return ctx, span, l
}
