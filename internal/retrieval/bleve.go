package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
)

// BleveIndex is a BM25 full-text index over code chunks.
type BleveIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// chunkDocument is the stored form of a chunk.
type chunkDocument struct {
	Content    string `json:"content"`
	SourceFile string `json:"source_file"`
	Language   string `json:"language"`
	ChunkIndex int    `json:"chunk_index"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

// NewBleveIndex opens the index under dir, creating it when missing.
// An empty dir keeps the index in memory.
func NewBleveIndex(dir string) (*BleveIndex, error) {
	idx, path, err := openBleve(dir)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{index: idx, path: path}, nil
}

func openBleve(dir string) (bleve.Index, string, error) {
	if dir == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, "", fmt.Errorf("failed to create bleve index: %w", err)
		}
		return idx, "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create index directory: %w", err)
	}
	path := filepath.Join(dir, "code.bleve")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err := bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, "", fmt.Errorf("failed to create bleve index: %w", err)
		}
		return idx, path, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open bleve index: %w", err)
	}
	return idx, path, nil
}

func buildIndexMapping() mapping.IndexMapping {
	chunkMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	numericFieldMapping := bleve.NewNumericFieldMapping()

	chunkMapping.AddFieldMappingsAt("content", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("source_file", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("language", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("chunk_index", numericFieldMapping)
	chunkMapping.AddFieldMappingsAt("start_line", numericFieldMapping)
	chunkMapping.AddFieldMappingsAt("end_line", numericFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Add indexes chunks in one batch.
func (b *BleveIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := chunkDocument{
			Content:    c.Content,
			SourceFile: c.File,
			Language:   c.Language,
			ChunkIndex: c.Index,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

// Search runs a match query against chunk content.
func (b *BleveIndex) Search(ctx context.Context, queryText string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	q := bleve.NewMatchQuery(queryText)
	q.SetField("content")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	return b.run(ctx, req)
}

// FileChunks returns the chunks of one file ordered by chunk index.
func (b *BleveIndex) FileChunks(ctx context.Context, file string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	q := bleve.NewTermQuery(file)
	q.SetField("source_file")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	req.SortBy([]string{"chunk_index"})
	hits, err := b.run(ctx, req)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = 1.0
	}
	return hits, nil
}

func (b *BleveIndex) run(ctx context.Context, req *bleve.SearchRequest) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, toHit(h))
	}
	return hits, nil
}

func toHit(h *search.DocumentMatch) Hit {
	// BM25 scores are unbounded; squash into 0..1.
	score := h.Score
	if score > 1 {
		score = 1 - (1 / (1 + score))
	}
	content, _ := h.Fields["content"].(string)
	file, _ := h.Fields["source_file"].(string)
	lang, _ := h.Fields["language"].(string)
	meta := map[string]string{
		"file_path":   file,
		"source_file": file,
		"language":    lang,
		"chunk_type":  "code",
	}
	for _, key := range []string{"chunk_index", "start_line", "end_line"} {
		if n, ok := h.Fields[key].(float64); ok {
			meta[key] = strconv.Itoa(int(n))
		}
	}
	return Hit{Content: content, Metadata: meta, Score: score, NodeID: h.ID}
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}

// Clear drops and recreates the index.
func (b *BleveIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	dir := ""
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("failed to remove index: %w", err)
		}
		dir = filepath.Dir(b.path)
	}
	idx, path, err := openBleve(dir)
	if err != nil {
		return err
	}
	b.index, b.path = idx, path
	return nil
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
