package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/auditagent/internal/finding"
	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/state"
)

// ConsoleOptions tunes console output.
type ConsoleOptions struct {
	Width       int // wrap width, 0 means 100
	Verbose     bool
	ToolVersion string
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	severityStyles = map[string]lipgloss.Style{
		"CRITICAL": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")),
		"HIGH":     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		"MEDIUM":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"LOW":      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}

	rule = strings.Repeat("━", 60)
)

// WriteConsole renders the project analysis, findings and summary.
func WriteConsole(w io.Writer, rep *pipeline.Report, opts ConsoleOptions) error {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	c := &console{w: w, width: width, verbose: opts.Verbose}

	c.header(rep)
	c.analysis(rep)
	c.findings(Findings(rep), fallbackUsed(rep))
	c.summary(rep)
	if opts.Verbose {
		c.stages(rep)
	}
	return c.err
}

type console struct {
	w       io.Writer
	width   int
	verbose bool
	err     error
}

func (c *console) printf(format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	_, c.err = fmt.Fprintf(c.w, format, args...)
}

func (c *console) section(title string) {
	c.printf("\n%s\n%s\n", headingStyle.Render(title), labelStyle.Render(rule))
}

func (c *console) kv(label, value string) {
	c.printf("%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

// wrapped prints text wrapped to the console width under an indent.
func (c *console) wrapped(indent, text string) {
	for _, line := range strings.Split(wordwrap.String(text, c.width-len(indent)), "\n") {
		c.printf("%s%s\n", indent, line)
	}
}

func (c *console) header(rep *pipeline.Report) {
	c.section("SECURITY AUDIT")
	c.kv("Project: ", rep.ProjectPath)
	status := okStyle.Render(rep.Status)
	if rep.Status != pipeline.StatusComplete {
		status = failStyle.Render(rep.Status)
	}
	c.printf("%s %s %s\n", labelStyle.Render("Status:  "), status,
		labelStyle.Render(fmt.Sprintf("(%d attempt(s), %s)", rep.Attempts, rep.Duration.Round(1e6))))
	if rep.SessionID != "" {
		c.kv("Session: ", rep.SessionID)
	}
}

func (c *console) analysis(rep *pipeline.Report) {
	analysis, _ := rep.State[state.KeyProjectAnalysis].(map[string]interface{})
	if len(analysis) == 0 {
		return
	}
	c.section("PROJECT ANALYSIS")
	if stack, ok := analysis["tech_stack"].(map[string]interface{}); ok {
		var parts []string
		for _, k := range []string{"language", "framework", "version"} {
			if v := stringField(stack, k); v != "" {
				parts = append(parts, v)
			}
		}
		c.kv("Tech stack:", strings.Join(parts, " / "))
	}

	routes := listField(analysis, "routes")
	if len(routes) > 0 {
		unauth := 0
		for _, r := range routes {
			if m, ok := r.(map[string]interface{}); ok && m["auth_required"] == false {
				unauth++
			}
		}
		c.kv("Routes:    ", fmt.Sprintf("%d (%d without auth)", len(routes), unauth))
		if c.verbose {
			for _, r := range routes {
				if m, ok := r.(map[string]interface{}); ok {
					c.printf("  %-7s %s %s\n", stringField(m, "method"), stringField(m, "path"),
						labelStyle.Render(stringField(m, "handler")))
				}
			}
		}
	}

	if risks := listField(analysis, "high_risk_areas"); len(risks) > 0 {
		c.printf("%s\n", labelStyle.Render("High risk areas:"))
		for _, r := range risks {
			c.wrapped("  - ", describe(r))
		}
	}
}

func (c *console) findings(findings []finding.Finding, fallback bool) {
	title := fmt.Sprintf("FINDINGS (%d)", len(findings))
	if fallback {
		title += " derived from detection results"
	}
	c.section(title)
	if len(findings) == 0 {
		c.printf("%s\n", okStyle.Render("No vulnerabilities reported."))
		return
	}

	for i, f := range findings {
		style, ok := severityStyles[f.Severity]
		if !ok {
			style = valueStyle
		}
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		c.printf("\n%2d. %s %s %s\n", i+1, style.Render(" "+f.Severity+" "), headingStyle.Render(f.Type), labelStyle.Render(loc))
		c.wrapped("    ", f.Description)
		if f.CodeSnippet != "" && c.verbose {
			for _, line := range strings.Split(f.CodeSnippet, "\n") {
				c.printf("    %s %s\n", labelStyle.Render("│"), line)
			}
		}
		if f.PoC != "" {
			c.wrapped("    ", "PoC: "+f.PoC)
		}
		if f.Recommendation != "" {
			c.wrapped("    ", "Fix: "+f.Recommendation)
		}
		if f.Confidence != "" {
			c.printf("    %s\n", labelStyle.Render("confidence: "+f.Confidence))
		}
	}
}

func (c *console) summary(rep *pipeline.Report) {
	fr := rep.FinalReport
	c.section("SUMMARY")
	if s := stringField(fr, "summary"); s != "" {
		c.wrapped("", s)
	}

	if stats, ok := fr["statistics"].(map[string]interface{}); ok {
		if bySev, ok := stats["by_severity"].(map[string]interface{}); ok {
			var parts []string
			for _, sev := range finding.Severities {
				n := fmt.Sprint(bySev[sev])
				if bySev[sev] == nil {
					n = "0"
				}
				parts = append(parts, severityStyles[sev].Render(sev)+" "+n)
			}
			c.printf("\n%s\n", strings.Join(parts, "  "))
		}
	}

	if recs := listField(fr, "recommendations"); len(recs) > 0 {
		c.printf("\n%s\n", labelStyle.Render("Recommendations:"))
		for _, r := range recs {
			c.wrapped("  - ", describe(r))
		}
	}
}

func (c *console) stages(rep *pipeline.Report) {
	c.section("STAGES")
	for _, s := range rep.Stages {
		status := okStyle.Render("ok")
		if s.Error != "" {
			status = failStyle.Render("failed")
		}
		c.printf("  #%d %-22s %s %s\n", s.Attempt, s.Name, status,
			labelStyle.Render(fmt.Sprintf("iter=%d tools=%d extract=%s %s", s.Iterations, s.ToolCalls, s.Strategy, s.Duration.Round(1e6))))
		if s.Error != "" {
			c.wrapped("      ", s.Error)
		}
	}
}

func fallbackUsed(rep *pipeline.Report) bool {
	v, _ := rep.FinalReport["fallback"].(bool)
	return v
}

// describe renders a list item that may be a string or an object.
func describe(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
