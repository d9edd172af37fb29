// Package extract recovers structured JSON results from free-form model replies.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/vinayprograms/agentkit/logging"
)

const fenceMarker = "```json"

// maxRepairInput bounds the text handed to the repair pass.
const maxRepairInput = 256 << 10

// Strategy names which layer produced a result.
type Strategy string

const (
	StrategyFence  Strategy = "fence"
	StrategyBraces Strategy = "braces"
	StrategyNone   Strategy = "none"
)

// Result is the outcome of an extraction.
type Result struct {
	Object   map[string]interface{}
	Strategy Strategy
	Repaired bool
}

// Extractor parses JSON objects out of model text.
type Extractor struct {
	logger *logging.Logger
}

// New creates an extractor.
func New() *Extractor {
	return NewWithLogger(logging.New())
}

// NewWithLogger creates an extractor logging through l.
func NewWithLogger(l *logging.Logger) *Extractor {
	return &Extractor{logger: l.WithComponent("extract")}
}

var defaultExtractor = New()

// Extract parses text with the default extractor. It never returns nil.
func Extract(text string) map[string]interface{} {
	return defaultExtractor.Extract(text)
}

// Extract returns the structured object found in text, or an empty map.
func (e *Extractor) Extract(text string) map[string]interface{} {
	return e.ExtractResult(text).Object
}

// ExtractResult runs the layered strategies and reports which one succeeded.
//  1. the interior of the first ```json fenced block
//  2. the span from the first '{' to the last '}'
//  3. an empty object, with a warning carrying only the text length
func (e *Extractor) ExtractResult(text string) Result {
	if body, ok := fencedBlock(text); ok {
		if obj, repaired, ok := parseObject(body); ok {
			return Result{Object: obj, Strategy: StrategyFence, Repaired: repaired}
		}
	}

	if span, ok := braceSpan(text); ok {
		if obj, repaired, ok := parseObject(span); ok {
			return Result{Object: obj, Strategy: StrategyBraces, Repaired: repaired}
		}
	}

	e.logger.Warn("failed to parse JSON from response", map[string]interface{}{
		"text_length": len(text),
	})
	return Result{Object: map[string]interface{}{}, Strategy: StrategyNone}
}

// fencedBlock returns the text between the JSON fence marker and the next fence.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, fenceMarker)
	if start == -1 {
		return "", false
	}
	body := text[start+len(fenceMarker):]
	end := strings.Index(body, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

// braceSpan returns the substring from the first '{' through the last '}'.
func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// parseObject decodes s strictly, then once more after repair.
// Only JSON objects are accepted.
func parseObject(s string) (map[string]interface{}, bool, bool) {
	if obj, ok := decodeObject(s); ok {
		return obj, false, true
	}
	if !repairable(s) {
		return nil, false, false
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false, false
	}
	if obj, ok := decodeObject(fixed); ok {
		return obj, true, true
	}
	return nil, false, false
}

func decodeObject(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// repairable reports whether s is safe to hand to jsonrepair. The repair
// pass backtracks a broken string to its last comma and recurses without
// bound when an escape pair such as `\,` steps over that comma.
func repairable(s string) bool {
	return len(s) <= maxRepairInput && !strings.Contains(s, `\,`)
}
