package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/vinayprograms/auditagent/internal/state"
)

func prompt(string) func(PromptContext) (string, error) {
	return func(PromptContext) (string, error) { return "x", nil }
}

func TestValidateStages(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageDefinition
	}{
		{"empty", nil},
		{"unnamed", []StageDefinition{{BuildUserPrompt: prompt("")}}},
		{"duplicate", []StageDefinition{
			{Name: "A", BuildUserPrompt: prompt("")},
			{Name: "A", BuildUserPrompt: prompt("")},
		}},
		{"no prompt", []StageDefinition{{Name: "A"}}},
		{"unknown handoff", []StageDefinition{{Name: "A", BuildUserPrompt: prompt(""), CanHandoffTo: []string{"B"}}}},
		{"self handoff", []StageDefinition{{Name: "A", BuildUserPrompt: prompt(""), CanHandoffTo: []string{"A"}}}},
		{"list without field", []StageDefinition{{Name: "A", BuildUserPrompt: prompt(""),
			OutputKeys: []OutputKey{{Key: "items", Kind: state.KindList}}}}},
		{"writes project path", []StageDefinition{{Name: "A", BuildUserPrompt: prompt(""),
			OutputKeys: []OutputKey{{Key: state.KeyProjectPath, Kind: state.KindObject}}}}},
		{"conflicting kinds", []StageDefinition{
			{Name: "A", BuildUserPrompt: prompt(""), OutputKeys: []OutputKey{{Key: "k", Kind: state.KindObject}}},
			{Name: "B", BuildUserPrompt: prompt(""), OutputKeys: []OutputKey{{Key: "k", Field: "f", Kind: state.KindList}}},
		}},
		{"mandatory key kind", []StageDefinition{{Name: "A", BuildUserPrompt: prompt(""),
			OutputKeys: []OutputKey{{Key: state.KeyFinalReport, Field: "f", Kind: state.KindList}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStages(tt.stages)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected invalid config, got %v", err)
			}
		})
	}
}

func TestValidateStages_Defaults(t *testing.T) {
	if err := ValidateStages(DefaultStages()); err != nil {
		t.Fatalf("reference stages should validate: %v", err)
	}
}

func TestPromptContext_Bound(t *testing.T) {
	st := state.New("/p")
	big := make([]interface{}, 500)
	for i := range big {
		big[i] = map[string]interface{}{"description": "a long repeated finding description"}
	}
	st.Append(state.KeyVulnerabilities, big...)

	bounded := PromptContext{State: st, TokenBudget: 50}.JSON(state.KeyVulnerabilities)
	if !strings.HasSuffix(bounded, ContextTruncationMarker) {
		t.Errorf("expected truncation marker, got tail %q", bounded[len(bounded)-30:])
	}

	full := PromptContext{State: st, TokenBudget: -1}.JSON(state.KeyVulnerabilities)
	if strings.Contains(full, ContextTruncationMarker) || len(full) <= len(bounded) {
		t.Error("negative budget should not truncate")
	}
}

func TestCompleteFinalReport_Fallback(t *testing.T) {
	st := state.New("/p")
	st.Append(state.KeyVulnerabilities,
		map[string]interface{}{"type": "IDOR", "severity": "LOW", "file": "a.py", "line": 3, "description": "short"},
		map[string]interface{}{"type": "IDOR", "severity": "LOW", "file": "a.py", "line": 5, "description": "the longer one"},
		map[string]interface{}{"type": "SQLi", "severity": "CRITICAL", "file": "b.py", "description": "raw query"},
	)
	st.Replace(state.KeyFinalReport, map[string]interface{}{"summary": "model summary"})

	if err := CompleteFinalReport(st); err != nil {
		t.Fatal(err)
	}

	report := st.Object(state.KeyFinalReport)
	if report["fallback"] != true {
		t.Error("expected fallback flag")
	}
	vulns := report["vulnerabilities"].([]interface{})
	if len(vulns) != 2 {
		t.Fatalf("expected deduplicated findings, got %d", len(vulns))
	}
	if vulns[0].(map[string]interface{})["severity"] != "CRITICAL" {
		t.Errorf("expected critical first, got %v", vulns[0])
	}
	if report["summary"] != "model summary" {
		t.Error("model fields should be preserved")
	}
	stats := report["statistics"].(map[string]interface{})
	if stats["total_count"] != 2 {
		t.Errorf("unexpected statistics %v", stats)
	}
}

func TestCompleteFinalReport_Empty(t *testing.T) {
	st := state.New("/p")

	if err := CompleteFinalReport(st); err != nil {
		t.Fatal(err)
	}

	report := st.Object(state.KeyFinalReport)
	if _, ok := report["fallback"]; ok {
		t.Error("no fallback without findings")
	}
	if vulns, ok := report["vulnerabilities"].([]interface{}); !ok || len(vulns) != 0 {
		t.Errorf("expected empty list, got %v", report["vulnerabilities"])
	}
	if report["summary"] == nil || report["report_time"] == nil {
		t.Error("summary and report time should be derived")
	}
}
