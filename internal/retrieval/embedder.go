package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig configures the OpenAI-compatible embedding client.
type EmbedderConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int
	Retries   int
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint and caches
// vectors by input text.
type HTTPEmbedder struct {
	config EmbedderConfig
	client *http.Client
	cache  *lru.Cache[string, []float32]
}

// NewHTTPEmbedder creates an embedder, filling defaults for zero values.
func NewHTTPEmbedder(cfg EmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &HTTPEmbedder{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		cache:  cache,
	}, nil
}

// Embed returns the embedding of text, retrying with exponential backoff.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}

	var (
		vec []float32
		err error
	)
	backoff := time.Second
	for attempt := 0; attempt < e.config.Retries; attempt++ {
		vec, err = e.call(ctx, text)
		if err == nil {
			break
		}
		if attempt == e.config.Retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("embed after retries: %w", err)
	}
	e.cache.Add(text, vec)
	return vec, nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": e.config.Model,
		"input": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return out.Data[0].Embedding, nil
}
