// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// DefaultFile is the configuration file looked up in the current directory.
const DefaultFile = "audit.toml"

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the audit configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	RAG       RAGConfig       `toml:"rag"`
	Audit     AuditConfig     `toml:"audit"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Timeouts  TimeoutsConfig  `toml:"timeouts"`
	Events    EventsConfig    `toml:"events"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens" validate:"gte=0"`
	BaseURL      string `toml:"base_url" validate:"omitempty,url"` // OpenAI-compatible endpoint (LiteLLM, Ollama, LMStudio)
	Thinking     string `toml:"thinking" validate:"omitempty,oneof=auto off low medium high"`
	MaxRetries   int    `toml:"max_retries" validate:"gte=0"`
	RetryBackoff string `toml:"retry_backoff" validate:"omitempty,duration"`
}

// EmbeddingConfig configures the embedder of the vector backend.
type EmbeddingConfig struct {
	Provider  string `toml:"provider" validate:"omitempty,oneof=openai"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url" validate:"omitempty,url"`
	APIKeyEnv string `toml:"api_key_env"`
	CacheSize int    `toml:"cache_size" validate:"gte=0"`
}

// RAGConfig contains retrieval index settings.
type RAGConfig struct {
	Enabled      bool   `toml:"enabled"`
	Backend      string `toml:"backend" validate:"oneof=bleve vector"`
	Path         string `toml:"path"` // empty keeps the index in memory
	ChunkSize    int    `toml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int    `toml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	ChunkTokens  int    `toml:"chunk_tokens" validate:"gte=0"`
	TopK         int    `toml:"top_k" validate:"gt=0"`
	Workers      int    `toml:"workers" validate:"gt=0"`
}

// AuditConfig tunes the pipeline.
type AuditConfig struct {
	Extensions        []string `toml:"extensions" validate:"dive,startswith=."`
	MaxIterations     int      `toml:"max_iterations" validate:"gt=0"`
	MaxAttempts       int      `toml:"max_attempts" validate:"gt=0"`
	RetryDelay        string   `toml:"retry_delay" validate:"duration"`
	PromptTokenBudget int      `toml:"prompt_token_budget"` // negative disables
	MaxResultChars    int      `toml:"max_result_chars" validate:"gte=0"`
	StagesFile        string   `toml:"stages_file"`
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // base directory for sessions
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol" validate:"oneof=grpc http noop"`
	Insecure bool   `toml:"insecure"`
}

// TimeoutsConfig contains timeout settings in seconds.
type TimeoutsConfig struct {
	Tool int `toml:"tool" validate:"gte=0"` // per tool call, 0 disables
}

// EventsConfig enables pipeline event publishing over NATS.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject" validate:"required_with=NATSURL"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			CacheSize: 10000,
		},
		RAG: RAGConfig{
			Enabled:      true,
			Backend:      "bleve",
			ChunkSize:    60,
			ChunkOverlap: 10,
			ChunkTokens:  512,
			TopK:         5,
			Workers:      4,
		},
		Audit: AuditConfig{
			Extensions:        []string{".java", ".py", ".go", ".php", ".js", ".ts"},
			MaxIterations:     25,
			MaxAttempts:       3,
			RetryDelay:        "2s",
			PromptTokenBudget: 12000,
			MaxResultChars:    20000,
		},
		Storage: StorageConfig{
			Path: "~/.local/auditagent",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Events: EventsConfig{
			Subject: "audit",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file and validates it.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads audit.toml from the current directory. A missing file
// yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(path)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// Validate checks field constraints. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// RetryDelay returns the pause between pipeline attempts.
func (c *Config) RetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Audit.RetryDelay)
	return d
}

// ToolTimeout returns the per tool call timeout, zero when disabled.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Timeouts.Tool) * time.Second
}

// StoragePath returns the storage directory with ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Storage.Path)
}

// SessionsDir is where session logs are written.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StoragePath(), "sessions")
}

// IndexPath is the retrieval index directory, empty for in-memory.
func (c *Config) IndexPath() string {
	return ExpandHome(c.RAG.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// GetEmbeddingAPIKey returns the embedder's API key.
func (c *Config) GetEmbeddingAPIKey() string {
	envVar := c.Embedding.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.Embedding.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openai-compat":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
