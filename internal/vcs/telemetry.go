package vcs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "folio/api/internal/vcs"

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish closes the span of op and reports its outcome to the observer.
func (e *Engine) finish(span trace.Span, op string, started time.Time, err error) {
	kind := KindOf(err)
	if err != nil {
		if kind == 0 {
			kind = KindStorage
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
	}
	span.End()
	e.observer.ObserveOperation(op, kind, e.now().Sub(started))
}
