package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/auditagent/internal/state"
)

// StageFile is the YAML form of a pipeline. The listed order is the run
// order. An entry whose name matches a reference stage starts from that
// stage and overrides only the fields it sets.
type StageFile struct {
	Stages []StageSpec `yaml:"stages"`
}

// StageSpec describes one stage in a stage file.
type StageSpec struct {
	Name             string       `yaml:"name"`
	Description      string       `yaml:"description,omitempty"`
	Disabled         bool         `yaml:"disabled,omitempty"`
	Instructions     string       `yaml:"instructions,omitempty"`
	InstructionsFile string       `yaml:"instructions_file,omitempty"`
	Prompt           string       `yaml:"prompt,omitempty"`
	Tools            *bool        `yaml:"tools,omitempty"`
	MaxIterations    int          `yaml:"max_iterations,omitempty"`
	Handoff          []string     `yaml:"handoff,omitempty"`
	Outputs          []OutputSpec `yaml:"outputs,omitempty"`
}

// OutputSpec describes one output key.
type OutputSpec struct {
	Key       string `yaml:"key"`
	Field     string `yaml:"field,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Normalize string `yaml:"normalize,omitempty"`
}

// LoadStageFile reads and builds the stages in path. Relative
// instructions_file entries resolve against the file's directory.
func LoadStageFile(path string) ([]StageDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage file: %w", err)
	}
	return ParseStageFile(data, filepath.Dir(path))
}

// ParseStageFile builds stages from YAML data and validates them.
func ParseStageFile(data []byte, baseDir string) ([]StageDefinition, error) {
	var f StageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse stage file: %v", ErrInvalidConfig, err)
	}

	builtin := make(map[string]StageDefinition)
	for _, d := range DefaultStages() {
		builtin[d.Name] = d
	}

	var stages []StageDefinition
	var explicit []bool
	for i, entry := range f.Stages {
		if entry.Disabled {
			continue
		}
		def, err := entry.build(builtin, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d (%s): %v", ErrInvalidConfig, i, entry.Name, err)
		}
		stages = append(stages, def)
		explicit = append(explicit, entry.Handoff != nil)
	}

	// Inherited handoffs to disabled stages are dropped. Handoffs written in
	// the file are left for ValidateStages to reject.
	enabled := make(map[string]bool, len(stages))
	for _, s := range stages {
		enabled[s.Name] = true
	}
	for i := range stages {
		if explicit[i] {
			continue
		}
		var kept []string
		for _, h := range stages[i].CanHandoffTo {
			if enabled[h] || !isBuiltin(builtin, h) {
				kept = append(kept, h)
			}
		}
		stages[i].CanHandoffTo = kept
	}

	if err := ValidateStages(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

func isBuiltin(builtin map[string]StageDefinition, name string) bool {
	_, ok := builtin[name]
	return ok
}

func (s StageSpec) build(builtin map[string]StageDefinition, baseDir string) (StageDefinition, error) {
	def, isRef := builtin[s.Name]
	if !isRef {
		def = StageDefinition{Name: s.Name, ToolsEnabled: true}
	}
	if s.Description != "" {
		def.Description = s.Description
	}

	switch {
	case s.InstructionsFile != "":
		p := s.InstructionsFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return def, fmt.Errorf("read instructions: %w", err)
		}
		def.SystemInstructions = string(data)
	case s.Instructions != "":
		def.SystemInstructions = s.Instructions
	}
	if def.SystemInstructions == "" {
		return def, fmt.Errorf("instructions are required")
	}

	if s.Prompt != "" {
		tmpl, err := template.New(s.Name).Funcs(templateFuncs()).Parse(s.Prompt)
		if err != nil {
			return def, fmt.Errorf("parse prompt template: %w", err)
		}
		def.BuildUserPrompt = templatePrompt(tmpl)
	}
	if def.BuildUserPrompt == nil {
		return def, fmt.Errorf("prompt is required")
	}

	if s.Tools != nil {
		def.ToolsEnabled = *s.Tools
	}
	if s.MaxIterations != 0 {
		def.MaxIterations = s.MaxIterations
	}
	if s.Handoff != nil {
		def.CanHandoffTo = s.Handoff
	}
	if s.Outputs != nil {
		keys, err := buildOutputKeys(s.Outputs)
		if err != nil {
			return def, err
		}
		def.OutputKeys = keys
		// A reference stage's finalizer assumes its own outputs.
		if isRef {
			def.AfterWrite = nil
		}
	}
	return def, nil
}

func buildOutputKeys(specs []OutputSpec) ([]OutputKey, error) {
	keys := make([]OutputKey, 0, len(specs))
	for _, o := range specs {
		kind := state.KindObject
		if o.Kind != "" {
			k, err := state.ParseKind(o.Kind)
			if err != nil {
				return nil, err
			}
			kind = k
		}
		key := OutputKey{Key: o.Key, Field: o.Field, Kind: kind}
		switch o.Normalize {
		case "":
		case "finding":
			key.Normalize = normalizeFinding
		default:
			return nil, fmt.Errorf("unknown normalizer %q", o.Normalize)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// promptData is the template context of a stage file prompt.
type promptData struct {
	ProjectPath string
	State       map[string]interface{}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// json is rebound per execution; this stub only satisfies Parse.
		"json":  func(key string) string { return "" },
		"upper": strings.ToUpper,
	}
}

func templatePrompt(tmpl *template.Template) func(pc PromptContext) (string, error) {
	return func(pc PromptContext) (string, error) {
		t, err := tmpl.Clone()
		if err != nil {
			return "", err
		}
		t.Funcs(template.FuncMap{"json": pc.JSON})
		data := promptData{
			ProjectPath: pc.ProjectPath(),
			State:       pc.State.Snapshot(),
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render prompt: %w", err)
		}
		return buf.String(), nil
	}
}
