package state

import (
	"strings"
	"testing"
)

func TestNew_InitialValues(t *testing.T) {
	s := New("/srv/app")

	if s.ProjectPath() != "/srv/app" {
		t.Errorf("expected project path /srv/app, got %s", s.ProjectPath())
	}
	if len(s.Object(KeyProjectAnalysis)) != 0 {
		t.Error("project_analysis should start empty")
	}
	if len(s.List(KeyVulnerabilities)) != 0 {
		t.Error("business_vulnerabilities should start empty")
	}
	if len(s.Object(KeyFinalReport)) != 0 {
		t.Error("final_report should start empty")
	}
}

func TestAppend_Cumulative(t *testing.T) {
	s := New("/srv/app")

	first := []interface{}{
		map[string]interface{}{"type": "IDOR"},
		map[string]interface{}{"type": "Mass Assignment"},
	}
	second := []interface{}{
		map[string]interface{}{"type": "Race Condition"},
	}

	if _, err := s.Append(KeyVulnerabilities, first...); err != nil {
		t.Fatalf("append error: %v", err)
	}
	n, err := s.Append(KeyVulnerabilities, second...)
	if err != nil {
		t.Fatalf("append error: %v", err)
	}

	if n != len(first)+len(second) {
		t.Errorf("expected %d findings, got %d", len(first)+len(second), n)
	}
	list := s.List(KeyVulnerabilities)
	if list[0].(map[string]interface{})["type"] != "IDOR" {
		t.Error("append must preserve order")
	}
}

func TestReplace_Object(t *testing.T) {
	s := New("/srv/app")

	s.Replace(KeyProjectAnalysis, map[string]interface{}{"a": 1})
	if err := s.Replace(KeyProjectAnalysis, map[string]interface{}{"b": 2}); err != nil {
		t.Fatalf("replace error: %v", err)
	}

	obj := s.Object(KeyProjectAnalysis)
	if _, ok := obj["a"]; ok {
		t.Error("replace should drop previous fields")
	}
	if obj["b"] != 2 {
		t.Errorf("expected b=2, got %v", obj["b"])
	}
}

func TestWriteKindMismatch(t *testing.T) {
	s := New("/srv/app")

	if err := s.Replace(KeyVulnerabilities, map[string]interface{}{}); err == nil {
		t.Error("replace on list key should fail")
	}
	if _, err := s.Append(KeyFinalReport, 1); err == nil {
		t.Error("append on object key should fail")
	}
	if err := s.Replace(KeyFinalReport, "text"); err == nil {
		t.Error("object key should reject non-object value")
	}
	if err := s.Replace("missing", 1); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestDeclare(t *testing.T) {
	s := New("/srv/app")

	if err := s.Declare("dependency_findings", KindList); err != nil {
		t.Fatalf("declare error: %v", err)
	}
	if err := s.Declare("dependency_findings", KindList); err != nil {
		t.Errorf("redeclare with same kind should succeed: %v", err)
	}
	if err := s.Declare(KeyFinalReport, KindList); err == nil {
		t.Error("redeclare with different kind should fail")
	}
	if _, err := s.Append("dependency_findings", "x"); err != nil {
		t.Errorf("append to declared key failed: %v", err)
	}
}

func TestReset(t *testing.T) {
	s := New("/one")
	s.Append(KeyVulnerabilities, "x")
	s.Replace(KeyFinalReport, map[string]interface{}{"summary": "s"})

	s.Reset("/two")

	if s.ProjectPath() != "/two" {
		t.Errorf("expected /two, got %s", s.ProjectPath())
	}
	if len(s.List(KeyVulnerabilities)) != 0 {
		t.Error("reset should clear findings")
	}
	if len(s.Object(KeyFinalReport)) != 0 {
		t.Error("reset should clear report")
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := New("/srv/app")
	s.Replace(KeyProjectAnalysis, map[string]interface{}{
		"routes": []interface{}{"/login"},
	})

	snap := s.Snapshot()
	snap[KeyProjectAnalysis].(map[string]interface{})["routes"].([]interface{})[0] = "/changed"

	routes := s.Object(KeyProjectAnalysis)["routes"].([]interface{})
	if routes[0] != "/login" {
		t.Error("snapshot mutation leaked into store")
	}
}

func TestJSON(t *testing.T) {
	s := New("/srv/app")
	s.Replace(KeyProjectAnalysis, map[string]interface{}{"language": "Go"})

	out, err := s.JSON(KeyProjectAnalysis)
	if err != nil {
		t.Fatalf("json error: %v", err)
	}
	if !strings.Contains(out, `"language": "Go"`) {
		t.Errorf("unexpected JSON: %s", out)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"object": KindObject, "append": KindList, "list": KindList, "replace": KindObject, "scalar": KindScalar} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("merge"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
