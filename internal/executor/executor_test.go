package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/auditagent/internal/pathresolve"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/tools"
)

type recordTool struct {
	name     string
	result   string
	err      error
	calls    []map[string]interface{}
	deadline bool
}

func (r *recordTool) Name() string                       { return r.name }
func (r *recordTool) Description() string                { return "records calls" }
func (r *recordTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (r *recordTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	r.calls = append(r.calls, args)
	_, r.deadline = ctx.Deadline()
	return r.result, r.err
}

// scripted returns a ChatFunc that replays responses in order and captures requests.
func scripted(reqs *[]llm.ChatRequest, responses ...*llm.ChatResponse) func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	i := 0
	return func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		msgs := make([]llm.Message, len(req.Messages))
		copy(msgs, req.Messages)
		req.Messages = msgs
		*reqs = append(*reqs, req)
		resp := responses[len(responses)-1]
		if i < len(responses) {
			resp = responses[i]
		}
		i++
		return resp, nil
	}
}

func newRegistry(ts ...tools.Tool) *tools.Registry {
	r := tools.NewRegistry()
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func TestRun_SingleToolCall(t *testing.T) {
	reader := &recordTool{name: "read_file", result: "print('hi')"}
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs,
		&llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
			{ID: "call_1", Name: "read_file", Args: map[string]interface{}{"file_path": "src/a.py"}},
		}},
		&llm.ChatResponse{Content: `{"ok": true}`},
	)
	exec := New(provider, newRegistry(reader), pathresolve.New("/work/app"))

	res, err := exec.Run(context.Background(), "You audit code.", "Go.", true, 5)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	if res.Output != `{"ok": true}` || res.Exhausted {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Transcript) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(res.Transcript))
	}
	wantRoles := []string{"system", "user", "assistant", "tool", "assistant"}
	for i, m := range res.Transcript {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d: expected role %s, got %s", i, wantRoles[i], m.Role)
		}
	}
	if res.Transcript[3].ToolCallID != "call_1" || res.Transcript[3].Content != "print('hi')" {
		t.Errorf("unexpected tool message %+v", res.Transcript[3])
	}
	if got := reader.calls[0]["file_path"]; got != "/work/app/src/a.py" {
		t.Errorf("path should be resolved against the root, got %v", got)
	}
	if !strings.HasSuffix(res.Transcript[0].Content, PathInstruction) {
		t.Error("system prompt should carry the path instruction")
	}
	if len(reqs) != 2 || len(reqs[0].Tools) != 1 {
		t.Errorf("expected 2 requests with one tool definition, got %d", len(reqs))
	}
	if res.Iterations != 2 || res.ToolCalls != 1 {
		t.Errorf("expected 2 iterations and 1 call, got %d/%d", res.Iterations, res.ToolCalls)
	}
}

func TestRun_IterationCap(t *testing.T) {
	loop := &llm.ChatResponse{
		Content:   "still looking",
		ToolCalls: []llm.ToolCallResponse{{ID: "c", Name: "search_by_keyword", Args: map[string]interface{}{}}},
	}
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs, loop)
	exec := New(provider, newRegistry(&recordTool{name: "search_by_keyword", result: "[]"}), nil)

	res, err := exec.Run(context.Background(), "s", "u", true, 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(reqs) != 3 {
		t.Errorf("expected exactly 3 model calls, got %d", len(reqs))
	}
	if !res.Exhausted || res.Output != "still looking" {
		t.Errorf("expected exhausted result with last content, got %+v", res)
	}
}

func TestRun_OneToolMessagePerCall(t *testing.T) {
	failing := &recordTool{name: "find_definition", err: errors.New("bad symbol")}
	ok := &recordTool{name: "read_file", result: "content"}
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs,
		&llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
			{ID: "a", Name: "find_definition", Args: map[string]interface{}{"symbol_name": "x"}},
			{ID: "b", Name: "nonexistent"},
			{ID: "c", Name: "read_file"},
		}},
		&llm.ChatResponse{Content: "done"},
	)
	exec := New(provider, newRegistry(failing, ok), pathresolve.New("/p"))

	res, err := exec.Run(context.Background(), "s", "u", true, 5)
	if err != nil {
		t.Fatal(err)
	}

	toolMsgs := res.Transcript[3:6]
	want := []struct{ id, content string }{
		{"a", "Error calling find_definition: bad symbol"},
		{"b", "Unknown tool: nonexistent"},
		{"c", "content"},
	}
	for i, w := range want {
		if toolMsgs[i].Role != "tool" || toolMsgs[i].ToolCallID != w.id || toolMsgs[i].Content != w.content {
			t.Errorf("tool message %d: got %+v, want id=%s content=%q", i, toolMsgs[i], w.id, w.content)
		}
	}
	if ok.calls[0] == nil {
		t.Error("absent arguments should arrive as an empty map")
	}
	if res.Output != "done" {
		t.Errorf("unexpected output %q", res.Output)
	}
}

func TestRun_ModelError(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("503 overloaded")
	}
	var failures int
	exec := New(provider, nil, nil)
	exec.OnModelCall = func(stage string, resp *llm.ChatResponse, d time.Duration, err error) {
		if err != nil {
			failures++
		}
	}

	_, err := exec.Run(context.Background(), "s", "u", false, 5)

	if !errors.Is(err, ErrModel) {
		t.Fatalf("expected ErrModel, got %v", err)
	}
	if !strings.Contains(err.Error(), "503 overloaded") {
		t.Errorf("provider error should be preserved: %v", err)
	}
	if failures != 1 {
		t.Errorf("expected one failed model callback, got %d", failures)
	}
}

func TestRun_ToolsDisabled(t *testing.T) {
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs, &llm.ChatResponse{Content: "report"})
	exec := New(provider, newRegistry(&recordTool{name: "read_file"}), nil)

	res, err := exec.Run(context.Background(), "s", "u", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs[0].Tools) != 0 {
		t.Error("no tool definitions should be sent when tools are disabled")
	}
	if res.Output != "report" || res.Iterations != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_ToolTimeout(t *testing.T) {
	slow := &recordTool{name: "search_by_regex", result: "[]"}
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs,
		&llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{{ID: "x", Name: "search_by_regex"}}},
		&llm.ChatResponse{Content: "ok"},
	)
	exec := New(provider, newRegistry(slow), nil, WithToolTimeout(time.Minute))

	if _, err := exec.Run(context.Background(), "s", "u", true, 3); err != nil {
		t.Fatal(err)
	}
	if !slow.deadline {
		t.Error("tool context should carry a deadline")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("never")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(provider, nil, nil).Run(ctx, "s", "u", false, 3)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_RecordsSession(t *testing.T) {
	var reqs []llm.ChatRequest
	provider := llm.NewMockProvider()
	provider.ChatFunc = scripted(&reqs,
		&llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{{ID: "1", Name: "read_file", Args: map[string]interface{}{"file_path": "a"}}}},
		&llm.ChatResponse{Content: "{}"},
	)
	sess := session.New("/p")
	exec := New(provider, newRegistry(&recordTool{name: "read_file", result: "x"}), pathresolve.New("/p"),
		WithRecorder(session.NewRecorder(sess, nil))).ForStage("ProjectAnalyzer", 2)

	if _, err := exec.Run(context.Background(), "s", "u", true, 5); err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, ev := range sess.Events {
		types = append(types, ev.Type)
		if ev.Stage != "ProjectAnalyzer" || ev.Attempt != 2 {
			t.Errorf("event %s not labelled with stage and attempt", ev.Type)
		}
	}
	want := "system user assistant tool_call tool_result assistant"
	if strings.Join(types, " ") != want {
		t.Errorf("expected events %q, got %q", want, strings.Join(types, " "))
	}
	if sess.Events[3].CorrelationID != sess.Events[4].CorrelationID {
		t.Error("tool call and result should share a correlation id")
	}
}
