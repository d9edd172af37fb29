// Tracing instrumentation for the pipeline.
package pipeline

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan starts the span covering every attempt of a run.
func (c *Controller) startRunSpan(ctx context.Context, report *Report) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "audit.run")
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("run.project_path", report.ProjectPath),
		attribute.Int("run.stages", len(c.stages)),
	)
	return ctx, span
}

// endRunSpan ends the run span with its outcome.
func (c *Controller) endRunSpan(span trace.Span, report *Report, err error) {
	span.SetAttributes(
		attribute.String("run.status", report.Status),
		attribute.Int("run.attempts", report.Attempts),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startStageSpan starts a span for one stage execution.
func (c *Controller) startStageSpan(ctx context.Context, name string, attempt int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "stage."+name)
	span.SetAttributes(
		attribute.String("stage.name", name),
		attribute.Int("stage.attempt", attempt),
	)
	return ctx, span
}

// endStageSpan ends the stage span.
func (c *Controller) endStageSpan(span trace.Span, res StageResult, err error) {
	span.SetAttributes(
		attribute.String("stage.strategy", res.Strategy),
		attribute.Int("stage.iterations", res.Iterations),
		attribute.Int("stage.findings", res.Findings),
	)
	if res.Error != "" {
		span.SetAttributes(attribute.String("stage.error", res.Error))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
