package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "code_audit"

// VectorIndex stores chunk embeddings in a chromem-go collection.
type VectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorIndex opens a persistent vector store under dir, or an in-memory
// one when dir is empty.
func NewVectorIndex(dir string, embedder Embedder) (*VectorIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(filepath.Join(dir, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &VectorIndex{db: db, collection: collection}, nil
}

// Add embeds and stores chunks one at a time.
func (v *VectorIndex) Add(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		err := v.collection.AddDocument(ctx, chromem.Document{
			ID:       c.ID,
			Content:  c.Content,
			Metadata: c.Metadata(),
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", c.ID, err)
		}
	}
	return nil
}

// Search returns the chunks most similar to queryText.
func (v *VectorIndex) Search(ctx context.Context, queryText string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	// chromem rejects result counts above the collection size.
	if n := v.collection.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return []Hit{}, nil
	}
	results, err := v.collection.Query(ctx, queryText, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    float64(r.Similarity),
			NodeID:   r.ID,
		})
	}
	return hits, nil
}

// FileChunks looks chunks of file up by their sequential IDs.
func (v *VectorIndex) FileChunks(ctx context.Context, file string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	hits := []Hit{}
	for i := 0; i < limit; i++ {
		doc, err := v.collection.GetByID(ctx, ChunkID(file, i))
		if err != nil {
			break
		}
		hits = append(hits, Hit{Content: doc.Content, Metadata: doc.Metadata, Score: 1.0, NodeID: doc.ID})
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (v *VectorIndex) Count() (int, error) {
	return v.collection.Count(), nil
}

// Clear deletes every chunk document.
func (v *VectorIndex) Clear(ctx context.Context) error {
	if v.collection.Count() == 0 {
		return nil
	}
	if err := v.collection.Delete(ctx, map[string]string{"chunk_type": "code"}, nil); err != nil {
		return fmt.Errorf("clear collection: %w", err)
	}
	return nil
}

// Close is a no-op; the persistent DB writes through on every add.
func (v *VectorIndex) Close() error {
	return nil
}
