package tools

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/logging"
)

type stubTool struct {
	name   string
	result interface{}
	err    error
	panic  string
	got    map[string]interface{}
}

func (s *stubTool) Name() string                       { return s.name }
func (s *stubTool) Description() string                { return "stub " + s.name }
func (s *stubTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s.got = args
	if s.panic != "" {
		panic(s.panic)
	}
	return s.result, s.err
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "b"})
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Name != "b" || defs[1].Name != "a" {
		t.Errorf("expected registration order [b a], got [%s %s]", defs[0].Name, defs[1].Name)
	}
	if defs[1].Description != "stub a" {
		t.Errorf("unexpected description %q", defs[1].Description)
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	r := NewRegistry()

	out, ok := r.Invoke(context.Background(), "missing", nil)

	if ok {
		t.Error("unknown tool should not be ok")
	}
	if out != "Unknown tool: missing" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvoke_HandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "read_file", err: errors.New("boom")})

	out, ok := r.Invoke(context.Background(), "read_file", map[string]interface{}{"file_path": "x"})

	if ok {
		t.Error("failed call should not be ok")
	}
	if out != "Error calling read_file: boom" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvoke_Panic(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "explode", panic: "kaboom"})

	out, ok := r.Invoke(context.Background(), "explode", nil)

	if ok {
		t.Error("panicking call should not be ok")
	}
	if !strings.HasPrefix(out, "Error calling explode: ") || !strings.Contains(out, "kaboom") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvoke_NilArgsBecomeEmptyMap(t *testing.T) {
	stub := &stubTool{name: "s", result: "ok"}
	r := NewRegistry()
	r.Register(stub)

	r.Invoke(context.Background(), "s", nil)

	if stub.got == nil {
		t.Error("handler should receive an empty map, not nil")
	}
}

func TestInvoke_RendersJSON(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "s", result: []map[string]interface{}{{"file": "a.go", "line": 3}}})

	out, ok := r.Invoke(context.Background(), "s", nil)

	if !ok {
		t.Fatal("expected ok")
	}
	if !strings.Contains(out, "\"file\": \"a.go\"") {
		t.Errorf("expected indented JSON, got %q", out)
	}
}

func TestInvoke_Truncates(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "big", result: strings.Repeat("x", 9000)})

	out, _ := r.Invoke(context.Background(), "big", nil)

	if !strings.HasSuffix(out, TruncationMarker) {
		t.Error("expected truncation marker")
	}
	if len(out) != DefaultMaxResultChars+len(TruncationMarker) {
		t.Errorf("expected %d chars, got %d", DefaultMaxResultChars+len(TruncationMarker), len(out))
	}
}

func TestTruncate_ExactLimitUnchanged(t *testing.T) {
	s := strings.Repeat("y", 8000)
	if got := Truncate(s, 8000); got != s {
		t.Error("text at the limit should not be truncated")
	}
}

func TestSummarizeArgs(t *testing.T) {
	args := map[string]interface{}{"content": strings.Repeat("z", 5000), "n": 1}

	got := SummarizeArgs(args, 200)

	if len(got) > 203 {
		t.Errorf("summary too long: %d", len(got))
	}
	if SummarizeArgs(nil, 200) != "{}" {
		t.Error("empty args should summarize as {}")
	}
}

func TestInvoke_UnknownToolLogsArgs(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry()
	r.logger = logging.New()
	r.logger.SetOutput(&buf)

	out, ok := r.Invoke(context.Background(), "read_fiel", map[string]interface{}{"file_path": "src/Login.java"})
	if ok || out != "Unknown tool: read_fiel" {
		t.Fatalf("got %q ok=%v", out, ok)
	}
	logged := buf.String()
	if !strings.Contains(logged, "unknown tool") || !strings.Contains(logged, "src/Login.java") {
		t.Errorf("unknown tool warning should carry the arguments, got %q", logged)
	}
}
