package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "projectchat"

// StartSubmitSpan starts the span covering one submitted user message.
func StartSubmitSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "conversation.submit",
		trace.WithAttributes(attribute.String("project.id", projectID)),
	)
}

// StartCompletionSpan starts a span for one gateway call. round 0 is the
// initial call, later rounds follow a tool batch.
func StartCompletionSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("completion.round", round)),
	)
}

// StartToolCallSpan starts a span for a single tool execution.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StateEvent records an orchestrator state transition on the span in ctx.
func StateEvent(ctx context.Context, state string) {
	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(attribute.String("state", state)))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
