// Package pipeline runs the ordered audit stages over shared state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/auditagent/internal/executor"
	"github.com/vinayprograms/auditagent/internal/extract"
	"github.com/vinayprograms/auditagent/internal/pathresolve"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/state"
	"github.com/vinayprograms/auditagent/internal/tools"
)

// Defaults for Options.
const (
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = 2 * time.Second
	DefaultPromptTokenBudget = 12000
)

// Status constants for runs.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Options tunes a Controller.
type Options struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxIterations int
	// PromptTokenBudget bounds each block of upstream JSON in a user prompt.
	// Zero selects DefaultPromptTokenBudget; negative disables the bound.
	PromptTokenBudget int
	ToolTimeout       time.Duration
	MaxTokens         int
	// Model labels the session log.
	Model  string
	Logger *logging.Logger
	// Sessions persists a JSONL log per run when set.
	Sessions session.Store
}

// StageResult describes one stage execution.
type StageResult struct {
	Name         string        `json:"name"`
	Attempt      int           `json:"attempt"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"tool_calls"`
	Exhausted    bool          `json:"exhausted,omitempty"`
	Strategy     string        `json:"strategy"`
	Repaired     bool          `json:"repaired,omitempty"`
	Keys         []string      `json:"keys,omitempty"`
	Findings     int           `json:"findings,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// Report is the outcome of Run.
type Report struct {
	RunID       string                 `json:"run_id"`
	ProjectPath string                 `json:"project_path"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	FinalReport map[string]interface{} `json:"final_report"`
	State       map[string]interface{} `json:"state"`
	Stages      []StageResult          `json:"stages"`
	StartedAt   time.Time              `json:"started_at"`
	Duration    time.Duration          `json:"duration"`
	// SessionID is set when a session log was written.
	SessionID string `json:"session_id,omitempty"`
}

// Controller runs the stage list as a linear state machine.
type Controller struct {
	provider  llm.Provider
	registry  *tools.Registry
	stages    []StageDefinition
	opts      Options
	logger    *logging.Logger
	extractor *extract.Extractor

	// Callbacks
	OnAttemptStart  func(runID string, attempt int)
	OnAttemptFailed func(runID string, attempt int, err error)
	OnStageStart    func(runID, stage string, attempt int)
	OnStageComplete func(runID string, result StageResult)
	OnRunComplete   func(report *Report, err error)
	OnModelCall     func(stage string, resp *llm.ChatResponse, duration time.Duration, err error)
	OnToolCall      func(stage, name string, ok bool, duration time.Duration)
}

// New validates the stages and returns a controller.
func New(provider llm.Provider, registry *tools.Registry, stages []StageDefinition, opts Options) (*Controller, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no model provider", ErrInvalidConfig)
	}
	if err := ValidateStages(stages); err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = executor.DefaultMaxIterations
	}
	if opts.PromptTokenBudget == 0 {
		opts.PromptTokenBudget = DefaultPromptTokenBudget
	}
	root := opts.Logger
	if root == nil {
		root = logging.New()
	}
	return &Controller{
		provider:  provider,
		registry:  registry,
		stages:    stages,
		opts:      opts,
		logger:    root.WithComponent("pipeline"),
		extractor: extract.NewWithLogger(root),
	}, nil
}

// Stages returns the validated stage list.
func (c *Controller) Stages() []StageDefinition {
	return c.stages
}

// StageNames returns the stage names in execution order.
func (c *Controller) StageNames() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}

// Run audits the project at projectPath. Stages run in order over a fresh
// shared state. A model failure aborts the attempt and the whole pipeline is
// retried up to MaxAttempts times. Other stage failures are logged and the
// next stage runs. The report is returned even when the run fails.
func (c *Controller) Run(ctx context.Context, projectPath string) (*Report, error) {
	root := pathresolve.ToSlash(projectPath)
	start := time.Now()
	report := &Report{
		RunID:       uuid.NewString(),
		ProjectPath: root,
		StartedAt:   start,
	}

	st := state.New(root)
	if err := declareKeys(st, c.stages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	recorder := c.newRecorder(report)
	if recorder != nil {
		report.SessionID = report.RunID
	}
	ctx, span := c.startRunSpan(ctx, report)

	exec := executor.New(c.provider, c.registry, pathresolve.New(root),
		executor.WithLogger(c.rootLogger()),
		executor.WithRecorder(recorder),
		executor.WithToolTimeout(c.opts.ToolTimeout),
		executor.WithMaxTokens(c.opts.MaxTokens),
	)
	exec.OnModelCall = c.OnModelCall
	exec.OnToolCall = c.OnToolCall

	c.logger.ExecutionStart(root)
	recorder.Record(session.Event{Type: session.EventRunStart, Content: root})

	var err error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		report.Attempts = attempt
		st.Reset(root)

		err = c.runAttempt(ctx, exec, st, report, recorder, attempt)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		if attempt == c.opts.MaxAttempts {
			break
		}
		c.logger.Warn("retrying pipeline", map[string]interface{}{
			"attempt": attempt,
			"delay":   c.opts.RetryDelay.String(),
			"error":   err.Error(),
		})
		if werr := sleep(ctx, c.opts.RetryDelay); werr != nil {
			err = werr
			break
		}
	}

	report.FinalReport = st.Object(state.KeyFinalReport)
	report.State = st.Snapshot()
	report.Duration = time.Since(start)
	report.Status = StatusComplete
	if err != nil {
		report.Status = StatusFailed
		err = fmt.Errorf("pipeline failed after %d attempts: %w", report.Attempts, err)
	}

	status := report.Status
	c.logger.ExecutionComplete(root, report.Duration, status)
	recorder.Record(session.Event{Type: session.EventRunEnd, Content: status, DurationMs: report.Duration.Milliseconds(), Error: errString(err)})
	recorder.Finish(report.Attempts, report.State, err)
	if rerr := recorder.Err(); rerr != nil {
		c.logger.Warn("session log write failed", map[string]interface{}{"error": rerr.Error()})
	}
	c.endRunSpan(span, report, err)
	if c.OnRunComplete != nil {
		c.OnRunComplete(report, err)
	}
	return report, err
}

// runAttempt runs every stage once. Only model and context errors escape.
func (c *Controller) runAttempt(ctx context.Context, exec *executor.Executor, st *state.Store, report *Report, recorder *session.Recorder, attempt int) error {
	c.logger.Info("attempt start", map[string]interface{}{"attempt": attempt, "stages": len(c.stages)})
	recorder.Record(session.Event{Type: session.EventAttemptStart, Attempt: attempt})
	if c.OnAttemptStart != nil {
		c.OnAttemptStart(report.RunID, attempt)
	}

	for i, def := range c.stages {
		label := fmt.Sprintf("attempt %d", attempt)
		step := fmt.Sprintf("%d/%d", i+1, len(c.stages))
		c.logger.PhaseStart(def.Name, label, step)
		if c.OnStageStart != nil {
			c.OnStageStart(report.RunID, def.Name, attempt)
		}

		res, err := c.runStage(ctx, exec, st, def, attempt, recorder)
		report.Stages = append(report.Stages, res)
		c.logger.PhaseComplete(def.Name, label, step, res.Duration, stageStatus(res, err))
		if c.OnStageComplete != nil {
			c.OnStageComplete(report.RunID, res)
		}

		if err != nil {
			recorder.Record(session.Event{Type: session.EventAttemptEnd, Attempt: attempt, Error: err.Error()})
			if c.OnAttemptFailed != nil {
				c.OnAttemptFailed(report.RunID, attempt, err)
			}
			return err
		}
	}

	recorder.Record(session.Event{Type: session.EventAttemptEnd, Attempt: attempt})
	return nil
}

func (c *Controller) newRecorder(report *Report) *session.Recorder {
	if c.opts.Sessions == nil {
		return nil
	}
	sess := session.New(report.ProjectPath)
	sess.ID = report.RunID
	sess.Model = c.opts.Model
	sess.Stages = c.StageNames()
	return session.NewRecorder(sess, c.opts.Sessions)
}

func (c *Controller) rootLogger() *logging.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	return logging.New()
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stageStatus(res StageResult, err error) string {
	switch {
	case err != nil:
		return "aborted"
	case res.Error != "":
		return "failed"
	case res.Exhausted:
		return "exhausted"
	default:
		return "ok"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsModelFailure reports whether err came from the model service.
func IsModelFailure(err error) bool {
	return errors.Is(err, executor.ErrModel)
}
