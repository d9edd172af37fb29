package retrieval

import (
	"context"
	"fmt"
)

// Hit is one retrieved chunk.
type Hit struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
	NodeID   string            `json:"node_id"`
}

// SourceFile returns the file the hit was chunked from.
func (h Hit) SourceFile() string {
	return h.Metadata["source_file"]
}

// Index stores chunks and answers text queries over them.
type Index interface {
	// Add stores chunks, replacing documents with the same ID.
	Add(ctx context.Context, chunks []Chunk) error
	// Search returns up to limit chunks ranked by relevance to query.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	// FileChunks returns up to limit chunks of file in chunk order.
	FileChunks(ctx context.Context, file string, limit int) ([]Hit, error)
	// Count returns the number of stored chunks.
	Count() (int, error)
	// Clear removes every chunk.
	Clear(ctx context.Context) error
	// Close releases the index.
	Close() error
}

// Backend names.
const (
	BackendBleve  = "bleve"
	BackendVector = "vector"
)

// Options selects and configures an index backend.
type Options struct {
	Backend  string // bleve (default) or vector
	Path     string // storage directory; empty keeps the index in memory
	Embedder Embedder
}

// Open creates or opens the configured index.
func Open(opts Options) (Index, error) {
	switch opts.Backend {
	case "", BackendBleve:
		return NewBleveIndex(opts.Path)
	case BackendVector:
		if opts.Embedder == nil {
			return nil, fmt.Errorf("vector backend requires an embedder")
		}
		return NewVectorIndex(opts.Path, opts.Embedder)
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", opts.Backend)
	}
}
