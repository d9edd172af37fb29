// Package main provides runtime assembly for audit runs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/auditagent/internal/config"
	"github.com/vinayprograms/auditagent/internal/metrics"
	"github.com/vinayprograms/auditagent/internal/notify"
	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/retrieval"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/tools"
)

// runtimeOptions are the command-line choices that shape a runtime.
type runtimeOptions struct {
	projectPath string
	stagesFile  string
	reindex     bool
	noRAG       bool
	noSession   bool
	verbose     int
}

// runtime assembles the components of one audit run.
type runtime struct {
	cfg    *config.Config
	creds  *credentials.Credentials
	opts   runtimeOptions
	logger *logging.Logger

	// Components
	provider   llm.Provider
	index      retrieval.Index
	retriever  *retrieval.Retriever
	registry   *tools.Registry
	stages     []pipeline.StageDefinition
	sessions   *session.FileStore
	telem      telemetry.Exporter
	metrics    *metrics.Metrics
	notifier   *notify.Notifier
	controller *pipeline.Controller

	// Cleanup
	closers []func()
}

// newRuntime creates a runtime from loaded configuration.
func newRuntime(cfg *config.Config, creds *credentials.Credentials, opts runtimeOptions) *runtime {
	logger := logging.New()
	logger.SetOutput(os.Stderr)
	if opts.verbose > 0 {
		logger.SetLevel(logging.LevelDebug)
	}
	return &runtime{
		cfg:    cfg,
		creds:  creds,
		opts:   opts,
		logger: logger,
	}
}

// setup initializes all runtime components. Returns error on failure.
func (rt *runtime) setup(ctx context.Context) error {
	if err := rt.createProvider(); err != nil {
		return err
	}
	if err := rt.setupRetrieval(ctx); err != nil {
		return err
	}
	rt.setupRegistry()
	if err := rt.loadStages(); err != nil {
		return err
	}
	if err := rt.setupSession(); err != nil {
		return err
	}
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	if err := rt.createController(); err != nil {
		return err
	}
	rt.setupMetrics(ctx)
	if err := rt.setupEvents(); err != nil {
		return err
	}
	rt.setupCallbacks()
	return nil
}

// createProvider creates the LLM provider.
func (rt *runtime) createProvider() error {
	llmProvider := rt.cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if llmProvider == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured")
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:    llmProvider,
		Model:       rt.cfg.LLM.Model,
		APIKey:      rt.apiKey(llmProvider, rt.cfg.GetAPIKey),
		MaxTokens:   rt.cfg.LLM.MaxTokens,
		BaseURL:     rt.cfg.LLM.BaseURL,
		Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(rt.cfg.LLM.Thinking)},
		RetryConfig: parseRetryConfig(rt.cfg.LLM.MaxRetries, rt.cfg.LLM.RetryBackoff),
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// apiKey prefers the credentials file and falls back to the environment.
func (rt *runtime) apiKey(provider string, fromEnv func() string) string {
	if rt.creds != nil {
		if key := rt.creds.GetAPIKey(provider); key != "" {
			return key
		}
	}
	return fromEnv()
}

// setupRetrieval opens the index and builds it when needed. Retrieval is
// skipped when disabled; the retrieval tools then return empty results.
func (rt *runtime) setupRetrieval(ctx context.Context) error {
	if !rt.cfg.RAG.Enabled || rt.opts.noRAG {
		rt.logger.Info("retrieval disabled", nil)
		return nil
	}
	idx, err := openIndex(rt.cfg, rt.creds, rt.opts.projectPath)
	if err != nil {
		return err
	}
	rt.index = idx
	rt.addCloser(func() { idx.Close() })

	stats, err := retrieval.EnsureBuilt(ctx, idx, rt.opts.projectPath, rt.opts.reindex, rt.buildOptions())
	if err != nil {
		return fmt.Errorf("building retrieval index: %w", err)
	}
	rt.logger.Info("retrieval ready", map[string]interface{}{
		"backend": rt.cfg.RAG.Backend,
		"chunks":  stats.Chunks,
	})
	rt.retriever = retrieval.NewRetriever(idx, rt.provider)
	return nil
}

func (rt *runtime) buildOptions() retrieval.BuildOptions {
	return retrieval.BuildOptions{
		Extensions: rt.cfg.Audit.Extensions,
		Chunker:    retrieval.NewChunker(rt.cfg.RAG.ChunkSize, rt.cfg.RAG.ChunkOverlap, rt.cfg.RAG.ChunkTokens),
		Workers:    rt.cfg.RAG.Workers,
		Logger:     rt.logger.WithComponent("retrieval"),
	}
}

// openIndex opens the configured backend. A persistent index lives in a
// per-project directory below rag.path.
func openIndex(cfg *config.Config, creds *credentials.Credentials, projectPath string) (retrieval.Index, error) {
	opts := retrieval.Options{Backend: cfg.RAG.Backend}
	if base := cfg.IndexPath(); base != "" {
		opts.Path = filepath.Join(base, projectKey(projectPath))
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	if cfg.RAG.Backend == retrieval.BackendVector {
		key := cfg.GetEmbeddingAPIKey()
		if creds != nil {
			if k := creds.GetAPIKey(cfg.Embedding.Provider); k != "" {
				key = k
			}
		}
		embedder, err := retrieval.NewHTTPEmbedder(retrieval.EmbedderConfig{
			Model:     cfg.Embedding.Model,
			APIKey:    key,
			BaseURL:   cfg.Embedding.BaseURL,
			CacheSize: cfg.Embedding.CacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		opts.Embedder = embedder
	}
	idx, err := retrieval.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening retrieval index: %w", err)
	}
	return idx, nil
}

// setupRegistry creates the audit tool registry.
func (rt *runtime) setupRegistry() {
	opts := tools.CatalogOptions{
		Extensions:     rt.cfg.Audit.Extensions,
		MaxResultChars: rt.cfg.Audit.MaxResultChars,
	}
	if rt.retriever != nil {
		opts.Retriever = rt.retriever
	}
	rt.registry = tools.NewAuditRegistry(opts)
}

// loadStages picks the stage file from the flag, then the config, then the
// reference pipeline.
func (rt *runtime) loadStages() error {
	stages, err := resolveStages(rt.opts.stagesFile, rt.cfg.Audit.StagesFile)
	if err != nil {
		return err
	}
	rt.stages = stages
	return nil
}

func resolveStages(flagPath, cfgPath string) ([]pipeline.StageDefinition, error) {
	path := flagPath
	if path == "" {
		path = config.ExpandHome(cfgPath)
	}
	if path == "" {
		return pipeline.DefaultStages(), nil
	}
	stages, err := pipeline.LoadStageFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading stages from %s: %w", path, err)
	}
	return stages, nil
}

// setupSession creates the session store.
func (rt *runtime) setupSession() error {
	if rt.opts.noSession {
		return nil
	}
	store, err := session.NewFileStore(rt.cfg.SessionsDir())
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	rt.sessions = store
	return nil
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// createController creates the pipeline controller.
func (rt *runtime) createController() error {
	opts := pipeline.Options{
		MaxAttempts:       rt.cfg.Audit.MaxAttempts,
		RetryDelay:        rt.cfg.RetryDelay(),
		MaxIterations:     rt.cfg.Audit.MaxIterations,
		PromptTokenBudget: rt.cfg.Audit.PromptTokenBudget,
		ToolTimeout:       rt.cfg.ToolTimeout(),
		MaxTokens:         rt.cfg.LLM.MaxTokens,
		Model:             rt.cfg.LLM.Model,
		Logger:            rt.logger,
	}
	if rt.sessions != nil {
		opts.Sessions = rt.sessions
	}
	var err error
	rt.controller, err = pipeline.New(rt.provider, rt.registry, rt.stages, opts)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	return nil
}

// setupMetrics attaches Prometheus collectors and serves them when a listen
// address is configured.
func (rt *runtime) setupMetrics(ctx context.Context) {
	rt.metrics = metrics.New()
	rt.metrics.Attach(rt.controller)
	addr := rt.cfg.Metrics.Listen
	if addr == "" {
		return
	}
	go func() {
		if err := rt.metrics.Serve(ctx, addr); err != nil {
			rt.logger.Warn("metrics server stopped", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	rt.logger.Info("metrics listening", map[string]interface{}{"addr": addr})
}

// setupEvents publishes pipeline events to NATS when configured.
func (rt *runtime) setupEvents() error {
	url := rt.cfg.Events.NATSURL
	if url == "" {
		return nil
	}
	nc, err := notify.Connect(url)
	if err != nil {
		return err
	}
	rt.addCloser(func() {
		nc.Flush()
		nc.Close()
	})
	rt.notifier = notify.New(nc, rt.cfg.Events.Subject, rt.logger)
	rt.notifier.Attach(rt.controller)
	return nil
}

// setupCallbacks wires telemetry events and progress logging.
func (rt *runtime) setupCallbacks() {
	c := rt.controller

	prevStage := c.OnStageStart
	c.OnStageStart = func(runID, stage string, attempt int) {
		if prevStage != nil {
			prevStage(runID, stage, attempt)
		}
		rt.telem.LogEvent("stage_started", map[string]interface{}{"run_id": runID, "stage": stage, "attempt": attempt})
	}

	prevDone := c.OnStageComplete
	c.OnStageComplete = func(runID string, res pipeline.StageResult) {
		if prevDone != nil {
			prevDone(runID, res)
		}
		rt.telem.LogEvent("stage_complete", map[string]interface{}{
			"run_id":     runID,
			"stage":      res.Name,
			"attempt":    res.Attempt,
			"tool_calls": res.ToolCalls,
			"findings":   res.Findings,
			"error":      res.Error,
		})
	}

	prevTool := c.OnToolCall
	c.OnToolCall = func(stage, name string, ok bool, d time.Duration) {
		if prevTool != nil {
			prevTool(stage, name, ok, d)
		}
		event := "tool_call"
		if !ok {
			event = "tool_error"
		}
		rt.telem.LogEvent(event, map[string]interface{}{"stage": stage, "tool": name, "duration_ms": d.Milliseconds()})
	}

	prevFailed := c.OnAttemptFailed
	c.OnAttemptFailed = func(runID string, attempt int, err error) {
		if prevFailed != nil {
			prevFailed(runID, attempt, err)
		}
		rt.telem.LogEvent("attempt_failed", map[string]interface{}{"run_id": runID, "attempt": attempt, "error": err.Error()})
	}
}

// run audits the project.
func (rt *runtime) run(ctx context.Context) (*pipeline.Report, error) {
	return rt.controller.Run(ctx, rt.opts.projectPath)
}

// cleanup runs every registered closer in reverse order.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}
