package tools

import (
	"context"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/auditagent/internal/retrieval"
)

// Retriever is the retrieval backend used by the code-search tools.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, fileFilter string) ([]retrieval.Hit, error)
	SearchInFile(ctx context.Context, file, query string, topK int) ([]retrieval.Hit, error)
	RelatedCode(ctx context.Context, file string, n int) ([]string, error)
	Ask(ctx context.Context, query string, topK int) (string, error)
}

// ragTool carries the shared retriever. A nil retriever makes every
// retrieval tool return an empty result and log an error.
type ragTool struct {
	retriever Retriever
	logger    *logging.Logger
}

func (t *ragTool) unavailable(name string) bool {
	if t.retriever != nil {
		return false
	}
	t.logger.Error("retrieval index not initialized", map[string]interface{}{"tool": name})
	return true
}

func (t *ragTool) failed(name string, err error) {
	t.logger.Error("retrieval failed", map[string]interface{}{"tool": name, "error": err.Error()})
}

// semanticSearchTool implements semantic_search.
type semanticSearchTool struct{ ragTool }

func (t *semanticSearchTool) Name() string { return "semantic_search" }

func (t *semanticSearchTool) Description() string {
	return "Search the indexed codebase by meaning, e.g. \"where are user permissions checked\". Returns code chunks with file metadata."
}

func (t *semanticSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural language or code query",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results (default 5)",
			},
			"file_filter": map[string]interface{}{
				"type":        "string",
				"description": "Only return chunks whose file path contains this text",
			},
		},
		"required": []string{"query"},
	}
}

func (t *semanticSearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	if t.unavailable(t.Name()) {
		return []retrieval.Hit{}, nil
	}
	hits, err := t.retriever.Search(ctx, query, optInt(args, "top_k", 5), optString(args, "file_filter"))
	if err != nil {
		t.failed(t.Name(), err)
		return []retrieval.Hit{}, nil
	}
	return hits, nil
}

// relatedCodeTool implements get_related_code.
type relatedCodeTool struct{ ragTool }

func (t *relatedCodeTool) Name() string { return "get_related_code" }

func (t *relatedCodeTool) Description() string {
	return "Return the first indexed code chunks of a file."
}

func (t *relatedCodeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Indexed file path",
			},
			"context_size": map[string]interface{}{
				"type":        "integer",
				"description": "Number of chunks to return (default 3)",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *relatedCodeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	file, err := stringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	if t.unavailable(t.Name()) {
		return []string{}, nil
	}
	snippets, err := t.retriever.RelatedCode(ctx, file, optInt(args, "context_size", 3))
	if err != nil {
		t.failed(t.Name(), err)
		return []string{}, nil
	}
	return snippets, nil
}

// searchInFileTool implements search_in_file.
type searchInFileTool struct{ ragTool }

func (t *searchInFileTool) Name() string { return "search_in_file" }

func (t *searchInFileTool) Description() string {
	return "Search within one indexed file. Without a query, returns the file's first chunks."
}

func (t *searchInFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Indexed file path",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Optional query",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results (default 5)",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *searchInFileTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	file, err := stringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	if t.unavailable(t.Name()) {
		return []retrieval.Hit{}, nil
	}
	hits, err := t.retriever.SearchInFile(ctx, file, optString(args, "query"), optInt(args, "top_k", 5))
	if err != nil {
		t.failed(t.Name(), err)
		return []retrieval.Hit{}, nil
	}
	return hits, nil
}

// queryWithLLMTool implements query_with_llm.
type queryWithLLMTool struct{ ragTool }

func (t *queryWithLLMTool) Name() string { return "query_with_llm" }

func (t *queryWithLLMTool) Description() string {
	return "Ask a question about the codebase; the answer is generated from the most relevant indexed code."
}

func (t *queryWithLLMTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Question about the code",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of chunks used as context (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *queryWithLLMTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	if t.unavailable(t.Name()) {
		return "", nil
	}
	answer, err := t.retriever.Ask(ctx, query, optInt(args, "top_k", 5))
	if err != nil {
		t.failed(t.Name(), err)
		return "", nil
	}
	return answer, nil
}
