package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexcodex/arassist/framework"
)

const tracerName = "github.com/lexcodex/arassist/orchestrator"

func startTurnSpan(ctx context.Context, threadID, turnID, mode string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "turn")
	span.SetAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("turn.id", turnID),
		attribute.String("turn.mode", mode),
	)
	return ctx, span
}

func startNodeSpan(ctx context.Context, node string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, node)
}

func startStepSpan(ctx context.Context, step framework.Step, index, total int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.step")
	span.SetAttributes(
		attribute.String("step.agent", step.Agent),
		attribute.Int("step.index", index),
		attribute.Int("step.total", total),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
