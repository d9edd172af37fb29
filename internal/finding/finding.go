// Package finding normalizes, validates and ranks vulnerability findings.
package finding

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Severities in descending order.
var Severities = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}

var severityScore = map[string]int{"CRITICAL": 4, "HIGH": 3, "MEDIUM": 2, "LOW": 1}

var severityAliases = map[string]string{
	"INFO":          "LOW",
	"INFORMATIONAL": "LOW",
	"MODERATE":      "MEDIUM",
	"SEVERE":        "HIGH",
}

var confidenceRank = map[string]int{"high": 3, "medium": 2, "low": 1}

// DefaultTop is how many findings a ranked report keeps.
const DefaultTop = 10

// LineWindow is the line distance within which same type and file findings
// count as duplicates.
const LineWindow = 5

// Finding is a single reported vulnerability.
type Finding struct {
	Type           string `json:"type" validate:"required"`
	Severity       string `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	File           string `json:"file" validate:"required"`
	Line           int    `json:"line,omitempty" validate:"gte=0"`
	CodeSnippet    string `json:"code_snippet,omitempty"`
	Description    string `json:"description" validate:"required"`
	CWE            string `json:"cwe,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	PoC            string `json:"poc,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
	Exploitability int    `json:"exploitability,omitempty" validate:"gte=0,lte=5"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalid is returned for findings that fail validation.
var ErrInvalid = errors.New("invalid finding")

// Normalize cleans a raw finding from model output. Severity is uppercased,
// a "code" field becomes "code_snippet" and numeric strings become numbers.
// Fields the model added beyond the known set are kept. The returned map is
// JSON-compatible.
func Normalize(raw interface{}) (map[string]interface{}, error) {
	src, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrInvalid, raw)
	}
	m := make(map[string]interface{}, len(src))
	for k, v := range src {
		m[k] = v
	}

	if code, ok := m["code"]; ok {
		if _, has := m["code_snippet"]; !has {
			m["code_snippet"] = code
		}
		delete(m, "code")
	}
	if s, ok := m["severity"].(string); ok {
		m["severity"] = normalizeSeverity(s)
	}
	if c, ok := m["confidence"].(string); ok {
		m["confidence"] = strings.ToLower(strings.TrimSpace(c))
	}
	for _, key := range []string{"line", "exploitability"} {
		if v, present := m[key]; present {
			n, ok := toInt(v)
			if !ok {
				delete(m, key)
				continue
			}
			m[key] = n
		}
	}

	f, err := decode(m)
	if err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	return m, nil
}

// NormalizeAll normalizes a list of raw findings, returning the valid ones
// and the errors for the rest.
func NormalizeAll(raw []interface{}) ([]interface{}, []error) {
	kept := make([]interface{}, 0, len(raw))
	var errs []error
	for i, r := range raw {
		m, err := Normalize(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("finding %d: %w", i, err))
			continue
		}
		kept = append(kept, m)
	}
	return kept, errs
}

// Validate checks required fields and value ranges.
func Validate(f Finding) error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// FromMap converts a normalized map into a Finding.
func FromMap(m map[string]interface{}) (Finding, error) {
	return decode(m)
}

// FromList converts a list of normalized maps, skipping anything that
// does not decode.
func FromList(items []interface{}) []Finding {
	out := make([]Finding, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if f, err := decode(m); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// ToMap converts a Finding into a JSON-compatible map.
func ToMap(f Finding) map[string]interface{} {
	data, _ := json.Marshal(f)
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	return m
}

func decode(m map[string]interface{}) (Finding, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Finding{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var f Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return Finding{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return f, nil
}

func normalizeSeverity(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := severityAliases[s]; ok {
		return alias
	}
	return s
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// SeverityScore maps a severity to 4..1, zero when unknown.
func SeverityScore(severity string) int {
	return severityScore[normalizeSeverity(severity)]
}

// Score orders findings for the top-N report.
func Score(f Finding) int {
	return SeverityScore(f.Severity)*10 + f.Exploitability*2
}

// IsDuplicate reports whether two findings describe the same issue.
func IsDuplicate(a, b Finding) bool {
	if !strings.EqualFold(a.Type, b.Type) || a.File != b.File {
		return false
	}
	if a.Line == 0 || b.Line == 0 {
		return a.Line == b.Line
	}
	d := a.Line - b.Line
	if d < 0 {
		d = -d
	}
	return d <= LineWindow
}

// better reports whether a should be kept over its duplicate b.
func better(a, b Finding) bool {
	if (a.PoC != "") != (b.PoC != "") {
		return a.PoC != ""
	}
	if ca, cb := confidenceRank[a.Confidence], confidenceRank[b.Confidence]; ca != cb {
		return ca > cb
	}
	return len(a.Description) > len(b.Description)
}

// Dedup collapses duplicates, keeping the most complete finding in the
// position of the first occurrence.
func Dedup(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		merged := false
		for i := range out {
			if IsDuplicate(out[i], f) {
				if better(f, out[i]) {
					out[i] = f
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, f)
		}
	}
	return out
}

// Rank sorts by Score, highest first, and keeps the top n. n <= 0 keeps all.
func Rank(findings []Finding, n int) []Finding {
	out := make([]Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool { return Score(out[i]) > Score(out[j]) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Statistics summarizes a finding set.
type Statistics struct {
	TotalCount              int            `json:"total_count"`
	BySeverity              map[string]int `json:"by_severity"`
	ByType                  map[string]int `json:"by_type"`
	HighExploitabilityCount int            `json:"high_exploitability_count"`
}

// Stats counts findings by severity and type.
func Stats(findings []Finding) Statistics {
	s := Statistics{
		TotalCount: len(findings),
		BySeverity: map[string]int{},
		ByType:     map[string]int{},
	}
	for _, sev := range Severities {
		s.BySeverity[sev] = 0
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByType[f.Type]++
		if f.Exploitability >= 4 {
			s.HighExploitabilityCount++
		}
	}
	return s
}
