package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hotword"

type sessionKey struct{}

// StartSpan starts a span on the global tracer provider. The caller must
// call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartSession starts the span that covers one detection session and stores
// the session ID in the returned context for [Logger].
func StartSession(ctx context.Context, sessionID, source string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, sessionKey{}, sessionID)
	return StartSpan(ctx, "hotword.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.source", source),
		),
	)
}

// SessionID returns the session ID stored by [StartSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// TraceID returns the hex trace ID of the span in ctx, or "" when there is
// no valid span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// AddDetection records a detection as an event on the span in ctx.
func AddDetection(ctx context.Context, index int, keyword string) {
	trace.SpanFromContext(ctx).AddEvent("wakeword.detected",
		trace.WithAttributes(
			attribute.Int("keyword.index", index),
			attribute.String("keyword", keyword),
		),
	)
}

// FailSpan marks the span in ctx as failed with err.
func FailSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Logger returns the default logger with trace_id, span_id and session_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	return l
}
