// Package setup writes a starter audit.toml.
package setup

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/auditagent/internal/config"
)

// Provider options
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderGroq      = "groq"
	ProviderMistral   = "mistral"
	ProviderOllama    = "ollama-local"
	ProviderLiteLLM   = "litellm"
)

// ErrExists is returned when the target file exists and overwrite is off.
var ErrExists = errors.New("config file already exists")

// Options holds the answers that shape the generated file.
type Options struct {
	Provider string
	Model    string
	BaseURL  string
	Thinking string

	// Retrieval
	Backend    string // bleve or vector
	IndexPath  string // empty keeps the index in memory
	Extensions []string

	StoragePath string
	NATSURL     string
	MetricsAddr string
}

// DefaultModel returns the suggested model for a provider.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGoogle:
		return "gemini-2.0-flash"
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	case ProviderMistral:
		return "mistral-large-latest"
	case ProviderOllama:
		return "llama3.1"
	default:
		return ""
	}
}

// defaultBaseURL returns the endpoint of local and proxy providers.
func defaultBaseURL(provider string) string {
	switch provider {
	case ProviderOllama:
		return "http://localhost:11434/v1"
	case ProviderLiteLLM:
		return "http://localhost:4000/v1"
	default:
		return ""
	}
}

// llmProvider maps a setup choice to the provider name the LLM client knows.
func llmProvider(choice string) string {
	switch choice {
	case ProviderOllama, ProviderLiteLLM:
		return "openai-compat"
	default:
		return choice
	}
}

// withDefaults fills unset options from the config defaults.
func (o Options) withDefaults() Options {
	d := config.New()
	if o.Provider == "" {
		o.Provider = d.LLM.Provider
	}
	if o.Model == "" {
		o.Model = DefaultModel(o.Provider)
	}
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL(o.Provider)
	}
	if o.Backend == "" {
		o.Backend = d.RAG.Backend
	}
	if len(o.Extensions) == 0 {
		o.Extensions = d.Audit.Extensions
	}
	if o.StoragePath == "" {
		o.StoragePath = d.Storage.Path
	}
	return o
}

// GenerateConfig renders audit.toml for opts.
func GenerateConfig(opts Options) string {
	opts = opts.withDefaults()
	d := config.New()
	provider := llmProvider(opts.Provider)

	var sb strings.Builder
	sb.WriteString("# Audit Configuration\n")
	sb.WriteString("# Generated by: audit init\n\n")

	sb.WriteString("[llm]\n")
	sb.WriteString(fmt.Sprintf("provider = %q\n", provider))
	sb.WriteString(fmt.Sprintf("model = %q\n", opts.Model))
	sb.WriteString(fmt.Sprintf("max_tokens = %d\n", d.LLM.MaxTokens))
	if opts.BaseURL != "" {
		sb.WriteString(fmt.Sprintf("base_url = %q\n", opts.BaseURL))
	}
	if opts.Thinking != "" {
		sb.WriteString(fmt.Sprintf("thinking = %q\n", opts.Thinking))
	}
	if env := config.DefaultAPIKeyEnv(provider); env != "" {
		sb.WriteString(fmt.Sprintf("api_key_env = %q\n", env))
	}
	sb.WriteString("\n")

	sb.WriteString("# Code retrieval\n")
	sb.WriteString("[rag]\n")
	sb.WriteString("enabled = true\n")
	sb.WriteString(fmt.Sprintf("backend = %q\n", opts.Backend))
	if opts.IndexPath != "" {
		sb.WriteString(fmt.Sprintf("path = %q\n", opts.IndexPath))
	}
	sb.WriteString(fmt.Sprintf("chunk_size = %d\n", d.RAG.ChunkSize))
	sb.WriteString(fmt.Sprintf("chunk_overlap = %d\n", d.RAG.ChunkOverlap))
	sb.WriteString(fmt.Sprintf("top_k = %d\n\n", d.RAG.TopK))

	if opts.Backend == "vector" {
		sb.WriteString("[embedding]\n")
		sb.WriteString(fmt.Sprintf("provider = %q\n", d.Embedding.Provider))
		sb.WriteString(fmt.Sprintf("model = %q\n", d.Embedding.Model))
		sb.WriteString(fmt.Sprintf("api_key_env = %q\n\n", d.Embedding.APIKeyEnv))
	}

	sb.WriteString("[audit]\n")
	sb.WriteString(fmt.Sprintf("extensions = [%s]\n", quoteList(opts.Extensions)))
	sb.WriteString(fmt.Sprintf("max_iterations = %d\n", d.Audit.MaxIterations))
	sb.WriteString(fmt.Sprintf("max_attempts = %d\n", d.Audit.MaxAttempts))
	sb.WriteString(fmt.Sprintf("retry_delay = %q\n\n", d.Audit.RetryDelay))

	sb.WriteString("[storage]\n")
	sb.WriteString(fmt.Sprintf("path = %q\n", opts.StoragePath))

	if opts.NATSURL != "" {
		sb.WriteString("\n# Pipeline events\n")
		sb.WriteString("[events]\n")
		sb.WriteString(fmt.Sprintf("nats_url = %q\n", opts.NATSURL))
		sb.WriteString(fmt.Sprintf("subject = %q\n", d.Events.Subject))
	}
	if opts.MetricsAddr != "" {
		sb.WriteString("\n[metrics]\n")
		sb.WriteString(fmt.Sprintf("listen = %q\n", opts.MetricsAddr))
	}
	return sb.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

// WriteConfig generates the file, checks that it loads, and writes it to path.
func WriteConfig(path string, opts Options, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	content := GenerateConfig(opts)

	tmp, err := os.CreateTemp("", "audit-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if _, err := config.LoadFile(tmp.Name()); err != nil {
		return fmt.Errorf("generated config does not load: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
