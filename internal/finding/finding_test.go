package finding

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	raw := map[string]interface{}{
		"type":        "IDOR",
		"severity":    " high ",
		"file":        "app/orders.py",
		"line":        "42",
		"code":        "Order.query.get(id)",
		"description": "Order lookup ignores owner",
		"confidence":  "High",
		"extra":       "kept",
	}

	m, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}

	if m["severity"] != "HIGH" {
		t.Errorf("expected HIGH, got %v", m["severity"])
	}
	if m["code_snippet"] != "Order.query.get(id)" {
		t.Errorf("code should move to code_snippet, got %v", m["code_snippet"])
	}
	if _, ok := m["code"]; ok {
		t.Error("code alias should be removed")
	}
	if m["line"] != 42 {
		t.Errorf("line should be numeric, got %#v", m["line"])
	}
	if m["confidence"] != "high" || m["extra"] != "kept" {
		t.Errorf("unexpected map %v", m)
	}
	if raw["severity"] != " high " {
		t.Error("input map should not be modified")
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
	}{
		{"not an object", "IDOR in orders"},
		{"missing file", map[string]interface{}{"type": "XSS", "severity": "LOW", "description": "d"}},
		{"unknown severity", map[string]interface{}{"type": "XSS", "severity": "URGENT", "file": "a", "description": "d"}},
		{"bad exploitability", map[string]interface{}{"type": "XSS", "severity": "LOW", "file": "a", "description": "d", "exploitability": 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.raw); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestNormalize_SeverityAlias(t *testing.T) {
	m, err := Normalize(map[string]interface{}{"type": "Info leak", "severity": "info", "file": "a", "description": "d"})
	if err != nil {
		t.Fatal(err)
	}
	if m["severity"] != "LOW" {
		t.Errorf("expected LOW, got %v", m["severity"])
	}
}

func TestNormalizeAll(t *testing.T) {
	kept, errs := NormalizeAll([]interface{}{
		map[string]interface{}{"type": "SQLi", "severity": "CRITICAL", "file": "a.py", "description": "d"},
		map[string]interface{}{"severity": "LOW"},
	})
	if len(kept) != 1 || len(errs) != 1 {
		t.Errorf("expected 1 kept and 1 error, got %d/%d", len(kept), len(errs))
	}
}

func TestDedup(t *testing.T) {
	findings := []Finding{
		{Type: "IDOR", File: "a.py", Line: 10, Severity: "HIGH", Description: "short"},
		{Type: "idor", File: "a.py", Line: 14, Severity: "HIGH", Description: "with poc", PoC: "GET /orders/2"},
		{Type: "IDOR", File: "a.py", Line: 30, Severity: "HIGH", Description: "far away"},
		{Type: "IDOR", File: "b.py", Line: 10, Severity: "HIGH", Description: "other file"},
	}

	out := Dedup(findings)

	if len(out) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(out))
	}
	if out[0].PoC == "" {
		t.Error("the duplicate with a PoC should be kept")
	}
}

func TestRank(t *testing.T) {
	findings := []Finding{
		{Type: "a", Severity: "LOW", Exploitability: 5},      // 20
		{Type: "b", Severity: "CRITICAL", Exploitability: 1}, // 42
		{Type: "c", Severity: "HIGH", Exploitability: 5},     // 40
		{Type: "d", Severity: "MEDIUM"},                      // 20
	}

	out := Rank(findings, 3)

	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	if out[0].Type != "b" || out[1].Type != "c" || out[2].Type != "a" {
		t.Errorf("unexpected order %s %s %s", out[0].Type, out[1].Type, out[2].Type)
	}
	if len(Rank(findings, 0)) != 4 {
		t.Error("n <= 0 should keep all")
	}
}

func TestStats(t *testing.T) {
	s := Stats([]Finding{
		{Type: "IDOR", Severity: "HIGH", Exploitability: 4},
		{Type: "IDOR", Severity: "LOW"},
	})

	if s.TotalCount != 2 || s.BySeverity["HIGH"] != 1 || s.BySeverity["CRITICAL"] != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.ByType["IDOR"] != 2 || s.HighExploitabilityCount != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestFromList(t *testing.T) {
	out := FromList([]interface{}{
		map[string]interface{}{"type": "XSS", "severity": "LOW", "file": "a", "description": "d", "line": 3},
		"garbage",
	})
	if len(out) != 1 || out[0].Line != 3 {
		t.Errorf("unexpected findings %+v", out)
	}
	if ToMap(out[0])["type"] != "XSS" {
		t.Error("ToMap should round trip the type")
	}
}
