package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract_FencedBlock(t *testing.T) {
	text := "Here is the analysis:\n```json\n{\"tech_stack\": {\"language\": \"Go\"}, \"routes\": []}\n```\nDone."

	res := New().ExtractResult(text)

	if res.Strategy != StrategyFence {
		t.Errorf("expected fence strategy, got %s", res.Strategy)
	}
	want := map[string]interface{}{
		"tech_stack": map[string]interface{}{"language": "Go"},
		"routes":     []interface{}{},
	}
	if !reflect.DeepEqual(res.Object, want) {
		t.Errorf("expected %v, got %v", want, res.Object)
	}
}

func TestExtract_FencedBlockPreferredOverProse(t *testing.T) {
	text := "Note {not json} first.\n```json\n{\"a\": 1}\n```\n and {\"b\": 2} trailing"

	got := Extract(text)

	if !reflect.DeepEqual(got, map[string]interface{}{"a": float64(1)}) {
		t.Errorf("expected fenced object, got %v", got)
	}
}

func TestExtract_BracesFallback(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]interface{}
	}{
		{
			name: "prose wrapped",
			text: `The result is {"vulnerabilities": [{"type": "IDOR"}]} as requested.`,
			want: map[string]interface{}{
				"vulnerabilities": []interface{}{map[string]interface{}{"type": "IDOR"}},
			},
		},
		{
			name: "unterminated fence",
			text: "```json\n{\"a\": 1}",
			want: map[string]interface{}{"a": float64(1)},
		},
		{
			name: "generic fence",
			text: "```\n{\"a\": true}\n```",
			want: map[string]interface{}{"a": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New().ExtractResult(tt.text)
			if res.Strategy != StrategyBraces {
				t.Errorf("expected braces strategy, got %s", res.Strategy)
			}
			if !reflect.DeepEqual(res.Object, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, res.Object)
			}
		})
	}
}

func TestExtract_NoBraces(t *testing.T) {
	inputs := []string{
		"",
		"plain text without any json",
		"```json\nnot json at all\n```",
		"[1, 2, 3]",
	}
	for _, in := range inputs {
		got := Extract(in)
		if got == nil {
			t.Fatalf("Extract(%q) returned nil", in)
		}
		if len(got) != 0 {
			t.Errorf("Extract(%q) expected empty object, got %v", in, got)
		}
	}
}

func TestExtract_RepairsTrailingComma(t *testing.T) {
	res := New().ExtractResult("```json\n{\"a\": 1,}\n```")

	if !res.Repaired {
		t.Error("expected repaired result")
	}
	if res.Object["a"] != float64(1) {
		t.Errorf("expected a=1, got %v", res.Object)
	}
}

func TestExtract_GarbledEscapesReturnEmpty(t *testing.T) {
	inputs := []string{
		"{-x1\"r'11[-e[\\,'e:\\}",
		"{\"a\": \"x\\, \"b}",
		"```json\n{\"file\": \"C:\\,\" 'line': 3}\n```",
	}
	for _, in := range inputs {
		res := New().ExtractResult(in)
		if res.Strategy != StrategyNone || len(res.Object) != 0 {
			t.Errorf("ExtractResult(%q) = %+v, want empty result", in, res)
		}
	}
}

func TestExtract_EscapedBackslashBeforeComma(t *testing.T) {
	res := New().ExtractResult(`{"path": "a\\,b"}`)

	if res.Strategy != StrategyBraces || res.Repaired {
		t.Errorf("valid JSON should decode without repair, got %+v", res)
	}
	if res.Object["path"] != `a\,b` {
		t.Errorf("expected path a\\,b, got %v", res.Object["path"])
	}
}

func TestRepairable(t *testing.T) {
	if !repairable(`{"a": 1,}`) {
		t.Error("trailing comma should be repairable")
	}
	if repairable(`{"a": "b\,"}`) {
		t.Error("escaped comma should skip repair")
	}
	if repairable("{" + strings.Repeat("a", maxRepairInput) + "}") {
		t.Error("oversized input should skip repair")
	}
}

func TestExtract_ScenarioPlainTextWithFence(t *testing.T) {
	text := "no tool calls, plain text with fenced JSON ```json\n{\"a\":1}\n```"

	got := Extract(text)

	if !reflect.DeepEqual(got, map[string]interface{}{"a": float64(1)}) {
		t.Errorf("expected {a:1}, got %v", got)
	}
}
