// Package report renders audit results for people and tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vinayprograms/auditagent/internal/finding"
	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/state"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatSARIF   = "sarif"
)

// Write renders rep in format.
func Write(w io.Writer, rep *pipeline.Report, format string, opts ConsoleOptions) error {
	switch strings.ToLower(format) {
	case "", FormatConsole:
		return WriteConsole(w, rep, opts)
	case FormatJSON:
		return WriteJSON(w, rep)
	case FormatSARIF:
		return WriteSARIF(w, rep, opts.ToolVersion)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteJSON writes the full run report as indented JSON.
func WriteJSON(w io.Writer, rep *pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Findings returns the final report's vulnerabilities, normalized. Entries
// that fail validation are skipped.
func Findings(rep *pipeline.Report) []finding.Finding {
	raw, _ := rep.FinalReport["vulnerabilities"].([]interface{})
	norm, _ := finding.NormalizeAll(raw)
	return finding.FromList(norm)
}

// DetectedFindings returns every finding the detection stages recorded.
func DetectedFindings(rep *pipeline.Report) []finding.Finding {
	raw, _ := rep.State[state.KeyVulnerabilities].([]interface{})
	return finding.FromList(raw)
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func listField(m map[string]interface{}, key string) []interface{} {
	l, _ := m[key].([]interface{})
	return l
}
