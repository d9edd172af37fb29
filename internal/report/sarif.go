package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/vinayprograms/auditagent/internal/pipeline"
)

// SARIF 2.1.0 constants.
const (
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
	ToolName     = "auditagent"
)

// SARIFLog is a SARIF 2.1.0 log with a single run.
type SARIFLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SARIFRun `json:"runs"`
}

// SARIFRun is one tool run.
type SARIFRun struct {
	Tool    SARIFTool     `json:"tool"`
	Results []SARIFResult `json:"results"`
	// OriginalURIBaseIDs anchors relative artifact URIs at the project root.
	OriginalURIBaseIDs map[string]SARIFArtifactLocation `json:"originalUriBaseIds,omitempty"`
}

// SARIFTool describes the analysis tool.
type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

// SARIFDriver carries the tool name and rules.
type SARIFDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []SARIFRule `json:"rules"`
}

// SARIFRule is one vulnerability class.
type SARIFRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription SARIFMessage           `json:"shortDescription"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
}

// SARIFResult is one finding.
type SARIFResult struct {
	RuleID     string                 `json:"ruleId"`
	RuleIndex  int                    `json:"ruleIndex"`
	Level      string                 `json:"level"`
	Message    SARIFMessage           `json:"message"`
	Locations  []SARIFLocation        `json:"locations"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// SARIFMessage is a plain text message.
type SARIFMessage struct {
	Text string `json:"text"`
}

// SARIFLocation wraps a physical location.
type SARIFLocation struct {
	PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
}

// SARIFPhysicalLocation points into a file.
type SARIFPhysicalLocation struct {
	ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
	Region           *SARIFRegion          `json:"region,omitempty"`
}

// SARIFArtifactLocation is a file URI.
type SARIFArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

// SARIFRegion is a line range with an optional snippet.
type SARIFRegion struct {
	StartLine int           `json:"startLine"`
	Snippet   *SARIFMessage `json:"snippet,omitempty"`
}

var securitySeverity = map[string]string{
	"CRITICAL": "9.5",
	"HIGH":     "8.0",
	"MEDIUM":   "5.5",
	"LOW":      "3.0",
}

// Level maps a finding severity to a SARIF level.
func Level(severity string) string {
	switch severity {
	case "CRITICAL", "HIGH":
		return "error"
	case "MEDIUM":
		return "warning"
	default:
		return "note"
	}
}

// ToSARIF converts the final report's findings to a SARIF log. File paths
// under the project root become relative URIs against %SRCROOT%.
func ToSARIF(rep *pipeline.Report, toolVersion string) *SARIFLog {
	findings := Findings(rep)
	root := strings.TrimSuffix(rep.ProjectPath, "/")

	ruleIndex := make(map[string]int)
	var rules []SARIFRule
	types := make([]string, 0)
	for _, f := range findings {
		id := RuleID(f.Type)
		if _, ok := ruleIndex[id]; !ok {
			ruleIndex[id] = -1
			types = append(types, f.Type)
		}
	}
	sort.Slice(types, func(i, j int) bool { return RuleID(types[i]) < RuleID(types[j]) })
	for i, t := range types {
		id := RuleID(t)
		ruleIndex[id] = i
		rules = append(rules, SARIFRule{
			ID:               id,
			Name:             t,
			ShortDescription: SARIFMessage{Text: t},
			Properties:       map[string]interface{}{"tags": []string{"security"}},
		})
	}

	results := make([]SARIFResult, 0, len(findings))
	for _, f := range findings {
		id := RuleID(f.Type)
		loc := SARIFPhysicalLocation{ArtifactLocation: artifact(root, f.File)}
		if f.Line > 0 {
			loc.Region = &SARIFRegion{StartLine: f.Line}
			if f.CodeSnippet != "" {
				loc.Region.Snippet = &SARIFMessage{Text: f.CodeSnippet}
			}
		}
		props := map[string]interface{}{
			"severity":          f.Severity,
			"security-severity": securitySeverity[f.Severity],
		}
		if f.Confidence != "" {
			props["confidence"] = f.Confidence
		}
		if f.CWE != "" {
			props["cwe"] = f.CWE
		}
		if f.Recommendation != "" {
			props["recommendation"] = f.Recommendation
		}
		if f.PoC != "" {
			props["poc"] = f.PoC
		}
		results = append(results, SARIFResult{
			RuleID:     id,
			RuleIndex:  ruleIndex[id],
			Level:      Level(f.Severity),
			Message:    SARIFMessage{Text: f.Description},
			Locations:  []SARIFLocation{{PhysicalLocation: loc}},
			Properties: props,
		})
	}

	run := SARIFRun{
		Tool: SARIFTool{Driver: SARIFDriver{
			Name:    ToolName,
			Version: toolVersion,
			Rules:   rules,
		}},
		Results: results,
	}
	if root != "" {
		run.OriginalURIBaseIDs = map[string]SARIFArtifactLocation{
			"SRCROOT": {URI: "file://" + ensureLeadingSlash(root) + "/"},
		}
	}
	return &SARIFLog{Schema: SARIFSchema, Version: SARIFVersion, Runs: []SARIFRun{run}}
}

// WriteSARIF writes the SARIF log for rep.
func WriteSARIF(w io.Writer, rep *pipeline.Report, toolVersion string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToSARIF(rep, toolVersion)); err != nil {
		return fmt.Errorf("encode sarif: %w", err)
	}
	return nil
}

// RuleID turns a vulnerability type into a stable rule ID.
func RuleID(vulnType string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(vulnType) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimSuffix(b.String(), "-")
	if id == "" {
		id = "finding"
	}
	return "audit/" + id
}

func artifact(root, file string) SARIFArtifactLocation {
	file = strings.ReplaceAll(file, "\\", "/")
	if root != "" && strings.HasPrefix(file, root+"/") {
		return SARIFArtifactLocation{URI: strings.TrimPrefix(file, root+"/"), URIBaseID: "SRCROOT"}
	}
	if !path.IsAbs(file) && !strings.Contains(file, ":") {
		return SARIFArtifactLocation{URI: path.Clean(file), URIBaseID: "SRCROOT"}
	}
	return SARIFArtifactLocation{URI: file}
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
