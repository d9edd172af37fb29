// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Audit a project"`
	Init     InitCmd     `cmd:"" help:"Write a starter audit.toml"`
	Index    IndexCmd    `cmd:"" help:"Build the retrieval index for a project"`
	Stages   StagesCmd   `cmd:"" help:"List or validate pipeline stages"`
	Sessions SessionsCmd `cmd:"" help:"List recorded sessions"`
	Replay   ReplayCmd   `cmd:"" help:"Replay session for forensic analysis"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd executes the audit pipeline over a project.
type RunCmd struct {
	ProjectPath string `short:"p" required:"" help:"Root of the project to audit"`
	Config      string `short:"c" help:"Config file path (default ./audit.toml)"`
	Stages      string `help:"Stage file overriding the reference pipeline"`
	Format      string `short:"o" default:"console" enum:"console,json,sarif" help:"Report format (console, json, sarif)"`
	SARIF       string `name:"sarif" help:"Also write a SARIF log to this path"`
	Reindex     bool   `help:"Rebuild the retrieval index before auditing"`
	NoRAG       bool   `name:"no-rag" help:"Disable retrieval tools"`
	NoSession   bool   `help:"Do not record a session log"`
	Verbose     int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
}

// InitCmd writes a configuration file.
type InitCmd struct {
	Output    string `short:"o" default:"audit.toml" help:"File to write"`
	Provider  string `default:"anthropic" enum:"anthropic,openai,google,groq,mistral,ollama-local,litellm" help:"LLM provider"`
	Model     string `help:"Model name (default depends on provider)"`
	Backend   string `default:"bleve" enum:"bleve,vector" help:"Retrieval backend"`
	IndexPath string `help:"Persistent index directory"`
	NATSURL   string `name:"nats-url" help:"Publish pipeline events to this NATS server"`
	Metrics   string `help:"Serve Prometheus metrics on host:port"`
	Force     bool   `help:"Overwrite an existing file"`
}

// IndexCmd builds or refreshes the retrieval index.
type IndexCmd struct {
	ProjectPath string `short:"p" required:"" help:"Root of the project to index"`
	Config      string `short:"c" help:"Config file path"`
	Rebuild     bool   `help:"Clear the index first"`
}

// StagesCmd prints the pipeline the run command would execute.
type StagesCmd struct {
	File   string `arg:"" optional:"" help:"Stage file to validate (default: reference pipeline)"`
	Config string `short:"c" help:"Config file path"`
}

// SessionsCmd lists session IDs in the storage directory.
type SessionsCmd struct {
	Config string `short:"c" help:"Config file path"`
}

// ReplayCmd replays a session for analysis.
type ReplayCmd struct {
	Session string `arg:"" help:"Session file or ID (supports glob patterns)"`
	Config  string `short:"c" help:"Config file path"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager bool   `help:"Disable pager for output"`
	Live    bool   `help:"Follow a running session"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
