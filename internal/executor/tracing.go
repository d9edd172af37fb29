// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startLoopSpan starts a span for one stage conversation.
func (e *Executor) startLoopSpan(ctx context.Context, toolsEnabled bool, maxIterations int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "loop."+e.stage)
	span.SetAttributes(
		attribute.String("stage.name", e.stage),
		attribute.Int("stage.attempt", e.attempt),
		attribute.Bool("loop.tools_enabled", toolsEnabled),
		attribute.Int("loop.max_iterations", maxIterations),
	)
	return ctx, span
}

// endLoopSpan ends the conversation span with its counters.
func (e *Executor) endLoopSpan(span trace.Span, res *Result, err error) {
	tracer := telemetry.GetTracer()
	span.SetAttributes(
		attribute.Int("loop.iterations", res.Iterations),
		attribute.Int("loop.tool_calls", res.ToolCalls),
		attribute.Bool("loop.exhausted", res.Exhausted),
	)
	if tracer.Debug() && res.Output != "" {
		span.SetAttributes(attribute.String("loop.output", truncateForLog(res.Output, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startToolSpan starts a span for a single tool call.
func (e *Executor) startToolSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "tool."+name)
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("stage.name", e.stage),
	)
	return ctx, span
}

// endToolSpan ends the tool span.
func (e *Executor) endToolSpan(span trace.Span, ok bool) {
	span.SetAttributes(attribute.Bool("tool.ok", ok))
	span.End()
}

// truncateForLog shortens s to maxLen bytes for span attributes.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
