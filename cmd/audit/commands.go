package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vinayprograms/auditagent/internal/config"
	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/replay"
	"github.com/vinayprograms/auditagent/internal/report"
	"github.com/vinayprograms/auditagent/internal/retrieval"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/setup"
)

// Run audits a project and writes the report to stdout.
func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	root, err := projectRoot(c.ProjectPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	rt := newRuntime(cfg, globalCreds, runtimeOptions{
		projectPath: root,
		stagesFile:  c.Stages,
		reindex:     c.Reindex,
		noRAG:       c.NoRAG,
		noSession:   c.NoSession,
		verbose:     c.Verbose,
	})
	defer rt.cleanup()
	if err := rt.setup(ctx); err != nil {
		return err
	}

	rep, runErr := rt.run(ctx)
	if rep == nil {
		return runErr
	}

	opts := report.ConsoleOptions{Verbose: c.Verbose > 0, ToolVersion: version}
	if err := report.Write(os.Stdout, rep, c.Format, opts); err != nil {
		return err
	}
	if c.SARIF != "" {
		if err := writeSARIFFile(c.SARIF, rep); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "SARIF written to %s\n", c.SARIF)
	}
	if rep.SessionID != "" && rt.sessions != nil {
		fmt.Fprintf(os.Stderr, "Session: %s\n", rt.sessions.Path(rep.SessionID))
	}
	return runErr
}

// Run writes the starter configuration.
func (c *InitCmd) Run() error {
	err := setup.WriteConfig(c.Output, setup.Options{
		Provider:    c.Provider,
		Model:       c.Model,
		Backend:     c.Backend,
		IndexPath:   c.IndexPath,
		NATSURL:     c.NATSURL,
		MetricsAddr: c.Metrics,
	}, c.Force)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", c.Output)
	return nil
}

// Run builds the retrieval index.
func (c *IndexCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	root, err := projectRoot(c.ProjectPath)
	if err != nil {
		return err
	}
	if cfg.IndexPath() == "" {
		return fmt.Errorf("rag.path is not configured; an in-memory index cannot be kept")
	}

	ctx, stop := signalContext()
	defer stop()

	rt := newRuntime(cfg, globalCreds, runtimeOptions{projectPath: root})
	idx, err := openIndex(cfg, globalCreds, root)
	if err != nil {
		return err
	}
	defer idx.Close()

	stats, err := retrieval.EnsureBuilt(ctx, idx, root, c.Rebuild, rt.buildOptions())
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d files into %d chunks (%d skipped) in %s\n",
		stats.Files, stats.Chunks, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return nil
}

// Run prints the stages in execution order.
func (c *StagesCmd) Run() error {
	cfgStages := ""
	if c.File == "" {
		cfg, err := loadConfig(c.Config)
		if err != nil {
			return err
		}
		cfgStages = cfg.Audit.StagesFile
	}
	stages, err := resolveStages(c.File, cfgStages)
	if err != nil {
		return err
	}
	for i, s := range stages {
		mode := "tools"
		if !s.ToolsEnabled {
			mode = "no tools"
		}
		fmt.Printf("%d. %s (%s)\n", i+1, s.Name, mode)
		if s.Description != "" {
			fmt.Printf("   %s\n", s.Description)
		}
		for _, k := range s.OutputKeys {
			fmt.Printf("   -> %s [%s]\n", k.Key, k.Kind)
		}
	}
	return nil
}

// Run lists recorded session IDs.
func (c *SessionsCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	store, err := session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		return err
	}
	ids, err := store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// Run replays one or more sessions.
func (c *ReplayCmd) Run() error {
	files, err := c.resolveFiles()
	if err != nil {
		return err
	}

	r := replay.New(os.Stdout, c.Verbose)
	usePager := !c.NoPager && isTerminal(os.Stdout)

	for i, file := range files {
		if len(files) > 1 && !usePager {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("=== %s ===\n", file)
		}
		switch {
		case c.Live && usePager:
			err = r.ReplayFileLive(file)
		case usePager:
			err = r.ReplayFileInteractive(file)
		default:
			err = r.ReplayFile(file)
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", file, err)
		}
	}
	return nil
}

// resolveFiles expands globs and maps bare IDs into the session store.
func (c *ReplayCmd) resolveFiles() ([]string, error) {
	files, err := filepath.Glob(c.Session)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if len(files) > 0 {
		return files, nil
	}
	if _, err := os.Stat(c.Session); err == nil {
		return []string{c.Session}, nil
	}
	if strings.ContainsAny(c.Session, `/\`) {
		return nil, fmt.Errorf("no sessions match %s", c.Session)
	}
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return nil, err
	}
	store, err := session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		return nil, err
	}
	path := store.Path(strings.TrimSuffix(c.Session, ".jsonl"))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("session %s not found in %s", c.Session, cfg.SessionsDir())
	}
	return []string{path}, nil
}

// Run prints the version.
func (c *VersionCmd) Run() error {
	fmt.Printf("audit version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

// loadConfig loads path, or ./audit.toml when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.LoadFile(path)
}

// projectRoot checks that path is a directory and returns it absolute.
func projectRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", abs)
	}
	return abs, nil
}

func writeSARIFFile(path string, rep *pipeline.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sarif file: %w", err)
	}
	if err := report.WriteSARIF(f, rep, version); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
