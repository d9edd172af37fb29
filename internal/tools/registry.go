// Package tools provides the tool registry and the read-only audit tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// DefaultMaxResultChars bounds the text of a single tool result.
const DefaultMaxResultChars = 8000

// TruncationMarker is appended to results cut at the size limit.
const TruncationMarker = "\n... [truncated]"

// argSummaryChars bounds the argument summary written to the log.
const argSummaryChars = 200

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the LLM.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Registry holds all registered tools.
type Registry struct {
	tools          map[string]Tool
	order          []string
	maxResultChars int
	logger         *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:          make(map[string]Tool),
		maxResultChars: DefaultMaxResultChars,
		logger:         logging.New().WithComponent("tools"),
	}
}

// SetMaxResultChars overrides the result size limit. Values <= 0 restore the default.
func (r *Registry) SetMaxResultChars(n int) {
	if n <= 0 {
		n = DefaultMaxResultChars
	}
	r.maxResultChars = n
}

// Register adds a tool to the registry. Registering a name twice replaces the tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns LLM-facing definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Invoke runs a tool and returns its textual result.
// It never returns an error: handler failures, panics included, become
// "Error calling <name>: <message>" with ok=false, and unknown names become
// "Unknown tool: <name>".
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, bool) {
	t := r.tools[name]
	if t == nil {
		r.logger.Warn("unknown tool", map[string]interface{}{
			"tool": name,
			"args": SummarizeArgs(args, argSummaryChars),
		})
		return fmt.Sprintf("Unknown tool: %s", name), false
	}

	r.logger.Info("tool call", map[string]interface{}{
		"tool": name,
		"args": SummarizeArgs(args, argSummaryChars),
	})

	start := time.Now()
	result, err := r.execute(ctx, t, args)
	r.logger.ToolResult(name, time.Since(start), err)
	if err != nil {
		return fmt.Sprintf("Error calling %s: %v", name, err), false
	}
	return Truncate(Render(result), r.maxResultChars), true
}

// execute calls the handler, converting a panic into an error.
func (r *Registry) execute(ctx context.Context, t Tool, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panic", map[string]interface{}{
				"tool":  t.Name(),
				"panic": fmt.Sprint(p),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Execute(ctx, args)
}

// Render converts a handler result to text. Strings pass through, other
// values are rendered as indented JSON.
func Render(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return "No result"
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// Truncate cuts s to max characters and appends the truncation marker.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}

// SummarizeArgs renders arguments for logging, shortening long string values
// before serialization so large payloads are never fully encoded.
func SummarizeArgs(args map[string]interface{}, max int) string {
	if len(args) == 0 {
		return "{}"
	}
	short := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > max {
			short[k] = s[:max] + "..."
			continue
		}
		short[k] = v
	}
	data, err := json.Marshal(short)
	if err != nil {
		return fmt.Sprintf("%v", short)
	}
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
