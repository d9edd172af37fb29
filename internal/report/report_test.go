package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/state"
)

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		RunID:       "run-1",
		ProjectPath: "/srv/shop",
		Status:      pipeline.StatusComplete,
		Attempts:    1,
		Duration:    3 * time.Second,
		State: map[string]interface{}{
			state.KeyProjectAnalysis: map[string]interface{}{
				"tech_stack": map[string]interface{}{"language": "Python", "framework": "Flask"},
				"routes": []interface{}{
					map[string]interface{}{"path": "/orders/<id>", "method": "GET", "auth_required": false},
					map[string]interface{}{"path": "/admin", "method": "POST", "auth_required": true},
				},
				"high_risk_areas": []interface{}{"order lookup"},
			},
		},
		FinalReport: map[string]interface{}{
			"summary": "Two issues found.",
			"vulnerabilities": []interface{}{
				map[string]interface{}{"type": "IDOR", "severity": "high", "file": "/srv/shop/app/orders.py", "line": 12.0,
					"description": "Order lookup has no owner check.", "code": "Order.get(id)", "confidence": "High"},
				map[string]interface{}{"type": "Mass Assignment", "severity": "MEDIUM", "file": "app/users.py",
					"description": "User update binds every field.", "recommendation": "Allow-list fields."},
				map[string]interface{}{"type": "noise"},
			},
			"statistics": map[string]interface{}{
				"by_severity": map[string]interface{}{"HIGH": 1, "MEDIUM": 1},
			},
			"recommendations": []interface{}{"Add ownership checks."},
		},
		Stages: []pipeline.StageResult{
			{Name: "ProjectAnalyzer", Attempt: 1, Strategy: "fence"},
			{Name: "ReportGenerator", Attempt: 1, Strategy: "none", Error: "output \"final_report\": expected object"},
		},
	}
}

func TestFindings_NormalizesAndSkipsInvalid(t *testing.T) {
	findings := Findings(sampleReport())

	if len(findings) != 2 {
		t.Fatalf("expected 2 valid findings, got %d", len(findings))
	}
	if findings[0].Severity != "HIGH" || findings[0].Line != 12 || findings[0].CodeSnippet != "Order.get(id)" {
		t.Errorf("finding not normalized: %+v", findings[0])
	}
}

func TestWriteConsole(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteConsole(&buf, sampleReport(), ConsoleOptions{Width: 60, Verbose: true}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"SECURITY AUDIT", "/srv/shop", "Python / Flask", "2 (1 without auth)",
		"FINDINGS (2)", "IDOR", "/srv/shop/app/orders.py:12", "Fix: Allow-list fields.",
		"Two issues found.", "Add ownership checks.", "STAGES", "expected object",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q", want)
		}
	}
}

func TestWriteConsole_NoFindings(t *testing.T) {
	rep := &pipeline.Report{ProjectPath: "/p", Status: pipeline.StatusFailed, FinalReport: map[string]interface{}{}}
	var buf bytes.Buffer
	if err := WriteConsole(&buf, rep, ConsoleOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No vulnerabilities reported.") {
		t.Error("expected empty findings message")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "run-1" || decoded["final_report"] == nil {
		t.Errorf("unexpected JSON %v", decoded)
	}
}

func TestToSARIF(t *testing.T) {
	log := ToSARIF(sampleReport(), "1.2.3")

	if log.Version != "2.1.0" || len(log.Runs) != 1 {
		t.Fatalf("unexpected log %+v", log)
	}
	run := log.Runs[0]
	if run.Tool.Driver.Name != ToolName || run.Tool.Driver.Version != "1.2.3" {
		t.Errorf("unexpected driver %+v", run.Tool.Driver)
	}
	if len(run.Tool.Driver.Rules) != 2 || len(run.Results) != 2 {
		t.Fatalf("expected 2 rules and results, got %d/%d", len(run.Tool.Driver.Rules), len(run.Results))
	}

	idor := run.Results[0]
	if idor.RuleID != "audit/idor" || idor.Level != "error" {
		t.Errorf("unexpected result %+v", idor)
	}
	if run.Tool.Driver.Rules[idor.RuleIndex].ID != idor.RuleID {
		t.Error("rule index should point at the result's rule")
	}
	loc := idor.Locations[0].PhysicalLocation
	if loc.ArtifactLocation.URI != "app/orders.py" || loc.ArtifactLocation.URIBaseID != "SRCROOT" {
		t.Errorf("path should be relative to the root, got %+v", loc.ArtifactLocation)
	}
	if loc.Region == nil || loc.Region.StartLine != 12 || loc.Region.Snippet.Text != "Order.get(id)" {
		t.Errorf("unexpected region %+v", loc.Region)
	}

	mass := run.Results[1]
	if mass.Level != "warning" || mass.Locations[0].PhysicalLocation.Region != nil {
		t.Errorf("unexpected result %+v", mass)
	}
	if run.OriginalURIBaseIDs["SRCROOT"].URI != "file:///srv/shop/" {
		t.Errorf("unexpected base %v", run.OriginalURIBaseIDs)
	}
}

func TestRuleID(t *testing.T) {
	tests := map[string]string{
		"IDOR":                  "audit/idor",
		"Mass Assignment":       "audit/mass-assignment",
		"Privilege Escalation!": "audit/privilege-escalation",
		"???":                   "audit/finding",
	}
	for in, want := range tests {
		if got := RuleID(in); got != want {
			t.Errorf("RuleID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, sampleReport(), "xml", ConsoleOptions{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
