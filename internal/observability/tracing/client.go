package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartGatewaySpan opens a client span around an outbound gateway call.
func StartGatewaySpan(ctx context.Context, gateway, operation string) (context.Context, trace.Span) {
	tracer := otel.Tracer("gamestore/gateway")
	return tracer.Start(ctx, gateway+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(SafeAttributes(
			attribute.String("gateway", gateway),
			attribute.String("operation", operation),
		)...),
	)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, "gateway error")
	}
	span.End()
}
