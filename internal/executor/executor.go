// Package executor runs the bounded model/tool conversation for one stage.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/auditagent/internal/pathresolve"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/tools"
)

// DefaultMaxIterations bounds a conversation when the caller passes zero.
const DefaultMaxIterations = 25

// PathInstruction is appended to every system prompt.
const PathInstruction = "\n\nCRITICAL: ALWAYS use forward slashes `/` for file paths (e.g. `backend/app/main.py`). " +
	"DO NOT use backslashes `\\` to avoid JSON escape sequence errors."

// ErrModel wraps every failure of the model service.
var ErrModel = errors.New("model service failure")

// modelError carries the provider error while matching ErrModel.
type modelError struct {
	err error
}

func (e *modelError) Error() string { return "LLM error: " + e.err.Error() }

func (e *modelError) Unwrap() []error { return []error{ErrModel, e.err} }

// Result is the outcome of one conversation.
type Result struct {
	Output       string
	Transcript   []llm.Message
	Iterations   int
	Exhausted    bool
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Executor drives the model through tool calls until it answers.
type Executor struct {
	provider llm.Provider
	registry *tools.Registry
	resolver *pathresolve.Resolver
	logger   *logging.Logger
	recorder *session.Recorder

	toolTimeout time.Duration
	maxTokens   int

	stage   string
	attempt int

	// Callbacks
	OnModelCall func(stage string, resp *llm.ChatResponse, duration time.Duration, err error)
	OnToolCall  func(stage, name string, ok bool, duration time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger replaces the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l.WithComponent("executor") }
}

// WithRecorder records the conversation into a session log.
func WithRecorder(r *session.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithToolTimeout bounds each tool call. Zero disables the bound.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Executor) { e.toolTimeout = d }
}

// WithMaxTokens sets the completion limit sent with each request.
func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

// New creates an executor. The resolver grounds path arguments for one run.
func New(provider llm.Provider, registry *tools.Registry, resolver *pathresolve.Resolver, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		registry: registry,
		resolver: resolver,
		logger:   logging.New().WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForStage returns a copy labelled with the stage name and attempt number.
func (e *Executor) ForStage(stage string, attempt int) *Executor {
	c := *e
	c.stage = stage
	c.attempt = attempt
	return &c
}

// Run seeds the transcript with the two prompts and loops up to maxIterations
// model turns. The first answer without tool calls ends the loop. When the
// budget runs out the last received content is returned with Exhausted set.
// Model failures are returned wrapping ErrModel.
func (e *Executor) Run(ctx context.Context, systemPrompt, userPrompt string, toolsEnabled bool, maxIterations int) (*Result, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	start := time.Now()
	ctx, span := e.startLoopSpan(ctx, toolsEnabled, maxIterations)

	system := systemPrompt + PathInstruction
	res := &Result{
		Transcript: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userPrompt},
		},
	}
	e.logEvent(session.EventSystem, system)
	e.logEvent(session.EventUser, userPrompt)

	var toolDefs []llm.ToolDef
	if toolsEnabled && e.registry != nil {
		toolDefs = e.registry.Definitions()
	}
	e.logger.Debug("conversation start", map[string]interface{}{
		"stage":          e.stage,
		"tools":          len(toolDefs),
		"max_iterations": maxIterations,
	})

	var last string
	for res.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			e.endLoopSpan(span, res, err)
			return res, err
		}
		res.Iterations++

		llmStart := time.Now()
		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Messages:  res.Transcript,
			Tools:     toolDefs,
			MaxTokens: e.maxTokens,
		})
		llmDuration := time.Since(llmStart)
		if e.OnModelCall != nil {
			e.OnModelCall(e.stage, resp, llmDuration, err)
		}
		if err != nil {
			e.logger.Error("model call failed", map[string]interface{}{
				"stage":     e.stage,
				"iteration": res.Iterations,
				"error":     err.Error(),
			})
			merr := &modelError{err: err}
			e.logModelError(merr, llmDuration)
			e.endLoopSpan(span, res, merr)
			return res, merr
		}
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		e.logModelCall(resp, llmDuration)

		res.Transcript = append(res.Transcript, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		last = resp.Content

		if len(resp.ToolCalls) == 0 {
			res.Output = resp.Content
			e.logger.Debug("conversation complete", map[string]interface{}{
				"stage":      e.stage,
				"iterations": res.Iterations,
				"tool_calls": res.ToolCalls,
				"duration":   time.Since(start).String(),
			})
			e.endLoopSpan(span, res, nil)
			return res, nil
		}

		// Calls run strictly in order, one tool message per call id.
		for _, tc := range resp.ToolCalls {
			content := e.callTool(ctx, tc)
			res.ToolCalls++
			res.Transcript = append(res.Transcript, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	res.Output = last
	res.Exhausted = true
	e.logger.Warn("iteration limit reached", map[string]interface{}{
		"stage":          e.stage,
		"max_iterations": maxIterations,
		"tool_calls":     res.ToolCalls,
	})
	e.endLoopSpan(span, res, nil)
	return res, nil
}

// callTool grounds path arguments and dispatches one call through the registry.
func (e *Executor) callTool(ctx context.Context, tc llm.ToolCallResponse) string {
	args := tc.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	if e.resolver != nil {
		args = e.resolver.ResolveArgs(args)
	}

	if e.registry == nil {
		return fmt.Sprintf("Unknown tool: %s", tc.Name)
	}

	ctx, cancel := e.applyToolTimeout(ctx)
	defer cancel()
	ctx, span := e.startToolSpan(ctx, tc.Name)

	corrID := e.logToolCall(tc.Name, args)
	start := time.Now()
	content, ok := e.registry.Invoke(ctx, tc.Name, args)
	duration := time.Since(start)
	e.logToolResult(tc.Name, args, corrID, content, ok, duration)
	e.endToolSpan(span, ok)

	if e.OnToolCall != nil {
		e.OnToolCall(e.stage, tc.Name, ok, duration)
	}
	return content
}

// applyToolTimeout derives a per-call deadline unless the parent context
// already ends sooner.
func (e *Executor) applyToolTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.toolTimeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < e.toolTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.toolTimeout)
}
