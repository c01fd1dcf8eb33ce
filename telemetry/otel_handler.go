package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelHandler wraps a slog.Handler to inject the OTel trace ID and record
// warn/error logs onto the active span.
type OTelHandler struct {
	slog.Handler
}

func NewOTelHandler(h slog.Handler) *OTelHandler {
	return &OTelHandler{Handler: h}
}

func (h *OTelHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)

	if span.IsRecording() {
		sc := span.SpanContext()
		if sc.HasTraceID() {
			r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
		}
		if sc.HasSpanID() {
			r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
		}

		if r.Level >= slog.LevelWarn {
			h.enrichSpan(span, r)
		}
	}

	return h.Handler.Handle(ctx, r)
}

func (h *OTelHandler) enrichSpan(span trace.Span, r slog.Record) {
	otelAttrs := make([]attribute.KeyValue, 0, r.NumAttrs())

	var errFound error

	r.Attrs(func(a slog.Attr) bool {
		switch a.Value.Kind() {
		case slog.KindString:
			otelAttrs = append(otelAttrs, attribute.String(a.Key, a.Value.String()))
		case slog.KindInt64:
			otelAttrs = append(otelAttrs, attribute.Int64(a.Key, a.Value.Int64()))
		case slog.KindFloat64:
			otelAttrs = append(otelAttrs, attribute.Float64(a.Key, a.Value.Float64()))
		case slog.KindBool:
			otelAttrs = append(otelAttrs, attribute.Bool(a.Key, a.Value.Bool()))
		default:
			if a.Key == "error" {
				if err, ok := a.Value.Any().(error); ok {
					errFound = err
					return true
				}
			}
			otelAttrs = append(otelAttrs, attribute.String(a.Key, a.Value.String()))
		}
		return true
	})

	span.AddEvent(r.Message, trace.WithAttributes(otelAttrs...))

	if r.Level >= slog.LevelError {
		if errFound == nil {
			errFound = errors.New(r.Message)
		}
		span.RecordError(errFound)
		span.SetStatus(codes.Error, r.Message)
	}
}
