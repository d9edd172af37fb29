// Session event logging for the executor.
package executor

import (
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/auditagent/internal/session"
)

// logEvent records a conversation message.
func (e *Executor) logEvent(eventType, content string) {
	e.recorder.Record(session.Event{
		Type:    eventType,
		Stage:   e.stage,
		Attempt: e.attempt,
		Content: content,
	})
}

// logModelCall records one assistant turn with its usage.
func (e *Executor) logModelCall(resp *llm.ChatResponse, duration time.Duration) {
	e.logger.Debug("model response", map[string]interface{}{
		"stage":      e.stage,
		"tool_calls": len(resp.ToolCalls),
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"latency_ms": duration.Milliseconds(),
	})
	e.recorder.Record(session.Event{
		Type:       session.EventAssistant,
		Stage:      e.stage,
		Attempt:    e.attempt,
		Content:    resp.Content,
		DurationMs: duration.Milliseconds(),
		Meta: &session.EventMeta{
			Model:     resp.Model,
			LatencyMs: duration.Milliseconds(),
			TokensIn:  resp.InputTokens,
			TokensOut: resp.OutputTokens,
			ToolCalls: len(resp.ToolCalls),
		},
	})
}

// logModelError records a failed model call.
func (e *Executor) logModelError(err error, duration time.Duration) {
	e.recorder.Record(session.Event{
		Type:       session.EventAssistant,
		Stage:      e.stage,
		Attempt:    e.attempt,
		Error:      err.Error(),
		DurationMs: duration.Milliseconds(),
	})
}

// logToolCall records a dispatched call and returns the ID linking it to its result.
func (e *Executor) logToolCall(name string, args map[string]interface{}) string {
	corrID := session.NewCorrelationID()
	e.recorder.Record(session.Event{
		Type:          session.EventToolCall,
		CorrelationID: corrID,
		Stage:         e.stage,
		Attempt:       e.attempt,
		Tool:          name,
		Args:          args,
	})
	return corrID
}

// logToolResult records the rendered result of a call.
func (e *Executor) logToolResult(name string, args map[string]interface{}, corrID, content string, ok bool, duration time.Duration) {
	event := session.Event{
		Type:          session.EventToolResult,
		CorrelationID: corrID,
		Stage:         e.stage,
		Attempt:       e.attempt,
		Tool:          name,
		Args:          args,
		Content:       content,
		Success:       &ok,
		DurationMs:    duration.Milliseconds(),
	}
	if !ok {
		event.Error = content
	}
	e.recorder.Record(event)
}
