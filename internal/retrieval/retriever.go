package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
)

// searchPool is the minimum number of candidates fetched before filtering.
const searchPool = 10

const askSystemPrompt = "You are a code assistant. Answer the question using only the code context provided. " +
	"Cite file paths and line ranges. Say so if the context is insufficient."

// Retriever serves the retrieval tools on top of an Index.
type Retriever struct {
	index    Index
	provider llm.Provider
}

// NewRetriever creates a retriever. provider may be nil, which disables Ask.
func NewRetriever(index Index, provider llm.Provider) *Retriever {
	return &Retriever{index: index, provider: provider}
}

// Search returns up to topK chunks relevant to query. When fileFilter is set
// only chunks whose source file contains it are kept.
func (r *Retriever) Search(ctx context.Context, query string, topK int, fileFilter string) ([]Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if topK <= 0 {
		topK = 5
	}
	pool := topK
	if fileFilter != "" {
		pool = topK * 4
	}
	if pool < searchPool {
		pool = searchPool
	}

	hits, err := r.index.Search(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, topK)
	for _, h := range hits {
		if fileFilter != "" && !strings.Contains(h.SourceFile(), fileFilter) {
			continue
		}
		out = append(out, h)
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// SearchInFile searches one file, or lists its first chunks when query is empty.
func (r *Retriever) SearchInFile(ctx context.Context, file, query string, topK int) ([]Hit, error) {
	if query == "" {
		return r.index.FileChunks(ctx, file, topK)
	}
	return r.Search(ctx, query, topK, file)
}

// RelatedCode returns the content of the first n chunks of file.
func (r *Retriever) RelatedCode(ctx context.Context, file string, n int) ([]string, error) {
	hits, err := r.index.FileChunks(ctx, file, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out, nil
}

// Ask answers query with the model over the top-k retrieved chunks.
func (r *Retriever) Ask(ctx context.Context, query string, topK int) (string, error) {
	if r.provider == nil {
		return "", fmt.Errorf("no model configured for retrieval queries")
	}
	hits, err := r.Search(ctx, query, topK, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "--- context %d: %s (lines %s-%s) ---\n%s\n\n",
			i+1, h.SourceFile(), h.Metadata["start_line"], h.Metadata["end_line"], h.Content)
	}
	fmt.Fprintf(&b, "Question: %s", query)

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: askSystemPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("LLM error: %w", err)
	}
	return resp.Content, nil
}

// Index returns the underlying index.
func (r *Retriever) Index() Index {
	return r.index
}
