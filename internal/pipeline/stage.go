package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vinayprograms/auditagent/internal/state"
	"github.com/vinayprograms/auditagent/internal/tokenutil"
)

// ErrInvalidConfig is returned when the stage list fails validation.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// ContextTruncationMarker ends upstream JSON cut to the token budget.
const ContextTruncationMarker = "\n... [truncated]"

// OutputKey maps part of a stage's extracted object into shared state.
type OutputKey struct {
	// Key is the state key written.
	Key string
	// Field selects a field of the extracted object. Empty means the whole object.
	Field string
	// Kind decides replace (object) or append (list) semantics.
	Kind state.Kind
	// Normalize is applied to every item of a list value. Items it rejects are dropped.
	Normalize func(item interface{}) (interface{}, error)
}

// PromptContext is handed to BuildUserPrompt.
type PromptContext struct {
	State *state.Store
	// TokenBudget bounds each upstream JSON block, in tokens. Values <= 0
	// leave it unbounded. The controller passes Options.PromptTokenBudget,
	// which New sets to DefaultPromptTokenBudget when zero.
	TokenBudget int
}

// ProjectPath returns the run's root.
func (pc PromptContext) ProjectPath() string {
	return pc.State.ProjectPath()
}

// JSON renders the state value under key, bounded by the token budget.
func (pc PromptContext) JSON(key string) string {
	v, _ := pc.State.Get(key)
	return pc.Bound(v)
}

// Bound renders v as indented JSON, bounded by the token budget.
func (pc PromptContext) Bound(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return tokenutil.Truncate(string(data), pc.TokenBudget, ContextTruncationMarker)
}

// StageDefinition is one step of the pipeline.
type StageDefinition struct {
	Name               string
	Description        string
	SystemInstructions string
	BuildUserPrompt    func(pc PromptContext) (string, error)
	ToolsEnabled       bool
	OutputKeys         []OutputKey
	// CanHandoffTo names the stages this one may pass control to. It is
	// validated but never drives sequencing.
	CanHandoffTo []string
	// MaxIterations overrides the controller default when positive.
	MaxIterations int
	// AfterWrite runs once the stage's outputs are in state.
	AfterWrite func(st *state.Store) error
}

// OutputKeyNames returns the state keys the stage writes.
func (d StageDefinition) OutputKeyNames() []string {
	names := make([]string, len(d.OutputKeys))
	for i, k := range d.OutputKeys {
		names[i] = k.Key
	}
	return names
}

// ValidateStages checks a stage list. Errors wrap ErrInvalidConfig.
func ValidateStages(stages []StageDefinition) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrInvalidConfig)
	}

	names := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidConfig, i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidConfig, s.Name)
		}
		names[s.Name] = true
	}

	// Keys must keep one kind across all stages and agree with the mandatory keys.
	probe := state.New("")
	for _, s := range stages {
		if s.BuildUserPrompt == nil {
			return fmt.Errorf("%w: stage %q has no prompt builder", ErrInvalidConfig, s.Name)
		}
		if s.MaxIterations < 0 {
			return fmt.Errorf("%w: stage %q has negative max iterations", ErrInvalidConfig, s.Name)
		}
		for _, target := range s.CanHandoffTo {
			if target == s.Name {
				return fmt.Errorf("%w: stage %q hands off to itself", ErrInvalidConfig, s.Name)
			}
			if !names[target] {
				return fmt.Errorf("%w: stage %q hands off to unknown stage %q", ErrInvalidConfig, s.Name, target)
			}
		}
		for _, k := range s.OutputKeys {
			if err := validateOutputKey(probe, s.Name, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateOutputKey(probe *state.Store, stage string, k OutputKey) error {
	if k.Key == "" {
		return fmt.Errorf("%w: stage %q has an output key without a name", ErrInvalidConfig, stage)
	}
	if k.Key == state.KeyProjectPath {
		return fmt.Errorf("%w: stage %q cannot write %s", ErrInvalidConfig, stage, state.KeyProjectPath)
	}
	switch k.Kind {
	case state.KindObject:
	case state.KindList:
		if k.Field == "" {
			return fmt.Errorf("%w: stage %q list key %q needs a field", ErrInvalidConfig, stage, k.Key)
		}
	default:
		return fmt.Errorf("%w: stage %q key %q has unsupported kind %s", ErrInvalidConfig, stage, k.Key, k.Kind)
	}
	if err := probe.Declare(k.Key, k.Kind); err != nil {
		return fmt.Errorf("%w: stage %q: %v", ErrInvalidConfig, stage, err)
	}
	return nil
}

// declareKeys registers every output key on st.
func declareKeys(st *state.Store, stages []StageDefinition) error {
	for _, s := range stages {
		for _, k := range s.OutputKeys {
			if err := st.Declare(k.Key, k.Kind); err != nil {
				return err
			}
		}
	}
	return nil
}
