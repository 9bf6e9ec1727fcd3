package lease

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of the lease services.
const tracerName = "github.com/openjobspec/ojs-lease/internal/lease"

func (s *Service) startSpan(ctx context.Context, op, jobID, topic string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if jobID != "" {
		attrs = append(attrs, attribute.String("ojs.job.id", jobID))
	}
	if topic != "" {
		attrs = append(attrs, attribute.String("ojs.topic", topic))
	}
	return s.tracer.Start(ctx, "ojs.lease."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
