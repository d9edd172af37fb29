package pipeline

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/vinayprograms/auditagent/internal/finding"
	"github.com/vinayprograms/auditagent/internal/state"
)

// Reference stage names.
const (
	StageProjectAnalyzer       = "ProjectAnalyzer"
	StageVulnerabilityDetector = "VulnerabilityDetector"
	StageReportGenerator       = "ReportGenerator"
)

var (
	//go:embed prompts/project_analysis.md
	projectAnalysisPrompt string
	//go:embed prompts/vulnerability_detection.md
	vulnerabilityDetectionPrompt string
	//go:embed prompts/report_generation.md
	reportGenerationPrompt string
)

// DefaultStages returns the reference pipeline:
// ProjectAnalyzer, VulnerabilityDetector, ReportGenerator.
func DefaultStages() []StageDefinition {
	return []StageDefinition{
		ProjectAnalyzerStage(),
		VulnerabilityDetectorStage(),
		ReportGeneratorStage(),
	}
}

// ProjectAnalyzerStage maps the project's stack, routes and security config.
func ProjectAnalyzerStage() StageDefinition {
	return StageDefinition{
		Name:               StageProjectAnalyzer,
		Description:        "Analyze project structure, identify tech stack, extract routes and security configs",
		SystemInstructions: projectAnalysisPrompt,
		BuildUserPrompt:    projectAnalyzerPrompt,
		ToolsEnabled:       true,
		OutputKeys: []OutputKey{
			{Key: state.KeyProjectAnalysis, Kind: state.KindObject},
		},
		CanHandoffTo: []string{StageVulnerabilityDetector},
	}
}

// VulnerabilityDetectorStage hunts business logic flaws with the tools.
func VulnerabilityDetectorStage() StageDefinition {
	return StageDefinition{
		Name:               StageVulnerabilityDetector,
		Description:        "Detect business logic vulnerabilities like IDOR, privilege escalation, mass assignment",
		SystemInstructions: vulnerabilityDetectionPrompt,
		BuildUserPrompt:    vulnerabilityDetectorPrompt,
		ToolsEnabled:       true,
		OutputKeys: []OutputKey{
			{Key: state.KeyVulnerabilities, Field: "vulnerabilities", Kind: state.KindList, Normalize: normalizeFinding},
		},
		CanHandoffTo: []string{StageReportGenerator},
	}
}

// ReportGeneratorStage consolidates findings into the final report. It has
// no tools.
func ReportGeneratorStage() StageDefinition {
	return StageDefinition{
		Name:               StageReportGenerator,
		Description:        "Consolidate vulnerabilities, deduplicate, assess severity, generate final audit report",
		SystemInstructions: reportGenerationPrompt,
		BuildUserPrompt:    reportGeneratorPrompt,
		ToolsEnabled:       false,
		OutputKeys: []OutputKey{
			{Key: state.KeyFinalReport, Kind: state.KindObject},
		},
		AfterWrite: CompleteFinalReport,
	}
}

func normalizeFinding(item interface{}) (interface{}, error) {
	return finding.Normalize(item)
}

func projectAnalyzerPrompt(pc PromptContext) (string, error) {
	return fmt.Sprintf(`Analyze the project at: %s

Use available tools to:
1. Visualize directory structure (get_file_tree) - **DO THIS FIRST**
2. List project files (get_project_files)
3. Identify tech stack from dependency files (read_file on pom.xml/package.json/requirements.txt/go.mod)
4. Extract HTTP routes (extract_routes)
5. Find security configs (discover_security_config_files, then analyze_security_config_content)
6. Search for patterns using retrieval (query_with_llm / semantic_search)

Output ONLY valid JSON:
`+"```json"+`
{
  "tech_stack": {"language": "...", "framework": "...", "version": "..."},
  "routes": [{"path": "...", "method": "...", "handler": "...", "auth_required": true}],
  "security_configs": [...],
  "high_risk_areas": [...]
}
`+"```", pc.ProjectPath()), nil
}

func vulnerabilityDetectorPrompt(pc PromptContext) (string, error) {
	root := pc.ProjectPath()
	return fmt.Sprintf(`Find business logic vulnerabilities (IDOR, privilege escalation, mass assignment, race conditions, auth bypass, etc).

**IMPORTANT: The project root path is: %[1]s**
All tool calls MUST use this full absolute path. For example:
- search_by_keyword(project_path="%[1]s", keyword="...")
- read_file(file_path="%[1]s/backend/app/api/v1/auth.py")

**Project Context:**
`+"```json"+`
%[2]s
`+"```"+`

Use tools: read_file, search_by_keyword, find_definition, semantic_search to examine auth, authorization, and business workflows.

Output ONLY valid JSON with TOP 10 vulnerabilities:
`+"```json"+`
{
  "vulnerabilities": [
    {
      "type": "IDOR",
      "severity": "HIGH",
      "file": "path/to/file",
      "line": 123,
      "code_snippet": "vulnerable code here",
      "description": "description",
      "poc": "proof of concept",
      "recommendation": "how to fix",
      "confidence": "high"
    }
  ]
}
`+"```", root, pc.JSON(state.KeyProjectAnalysis)), nil
}

func reportGeneratorPrompt(pc PromptContext) (string, error) {
	findings := map[string]interface{}{
		"business": pc.State.List(state.KeyVulnerabilities),
	}
	return fmt.Sprintf(`Generate final audit report.

**Project Analysis:**
`+"```json"+`
%s
`+"```"+`

**All Findings:**
`+"```json"+`
%s
`+"```"+`

Deduplicate, rank by severity, select TOP 10 most critical.

Output ONLY valid JSON:
`+"```json"+`
{
  "summary": "Executive summary of the audit...",
  "statistics": {"total_count": 0, "by_severity": {"CRITICAL": 0, "HIGH": 0, "MEDIUM": 0, "LOW": 0}, "by_type": {}, "high_exploitability_count": 0},
  "vulnerabilities": [...],
  "recommendations": [...]
}
`+"```", pc.JSON(state.KeyProjectAnalysis), pc.Bound(findings)), nil
}

// CompleteFinalReport fills gaps in the model's report. When the report
// carries no vulnerabilities but earlier stages recorded some, they are
// deduplicated, ranked and the top ones included. Missing statistics and
// report time are derived.
func CompleteFinalReport(st *state.Store) error {
	report := st.Object(state.KeyFinalReport)
	out := make(map[string]interface{}, len(report)+4)
	for k, v := range report {
		out[k] = v
	}

	vulns, _ := out["vulnerabilities"].([]interface{})
	if len(vulns) == 0 {
		detected := finding.FromList(st.List(state.KeyVulnerabilities))
		if len(detected) > 0 {
			top := finding.Rank(finding.Dedup(detected), finding.DefaultTop)
			vulns = make([]interface{}, len(top))
			for i, f := range top {
				vulns[i] = finding.ToMap(f)
			}
			out["vulnerabilities"] = vulns
			out["fallback"] = true
		}
	}
	if _, ok := out["vulnerabilities"]; !ok {
		out["vulnerabilities"] = []interface{}{}
	}
	if _, ok := out["statistics"]; !ok {
		out["statistics"] = statisticsMap(finding.Stats(finding.FromList(vulns)))
	}
	if _, ok := out["summary"]; !ok {
		out["summary"] = fmt.Sprintf("%d vulnerabilities reported.", len(vulns))
	}
	if _, ok := out["report_time"]; !ok {
		out["report_time"] = time.Now().UTC().Format(time.RFC3339)
	}
	return st.Replace(state.KeyFinalReport, out)
}

func statisticsMap(s finding.Statistics) map[string]interface{} {
	bySeverity := make(map[string]interface{}, len(s.BySeverity))
	for k, v := range s.BySeverity {
		bySeverity[k] = v
	}
	byType := make(map[string]interface{}, len(s.ByType))
	for k, v := range s.ByType {
		byType[k] = v
	}
	return map[string]interface{}{
		"total_count":               s.TotalCount,
		"by_severity":               bySeverity,
		"by_type":                   byType,
		"high_exploitability_count": s.HighExploitabilityCount,
	}
}
