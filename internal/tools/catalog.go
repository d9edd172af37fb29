package tools

import (
	"github.com/vinayprograms/agentkit/logging"
)

// CatalogOptions configures the audit tool set.
type CatalogOptions struct {
	// Extensions overrides the source extensions scanned by search tools.
	Extensions []string
	// Retriever backs the retrieval tools. Leave nil when retrieval is disabled.
	Retriever Retriever
	// MaxResultChars overrides the result size limit.
	MaxResultChars int
}

// NewAuditRegistry returns a registry holding the read-only audit tools.
func NewAuditRegistry(opts CatalogOptions) *Registry {
	r := NewRegistry()
	r.SetMaxResultChars(opts.MaxResultChars)
	exts := opts.Extensions

	r.Register(&readFileTool{})
	r.Register(&listDirectoryTool{})
	r.Register(&projectFilesTool{extensions: exts})
	r.Register(&fileTreeTool{})

	r.Register(&keywordSearchTool{extensions: exts})
	r.Register(&regexSearchTool{extensions: exts})
	r.Register(&findByNameTool{})

	r.Register(&findDefinitionTool{extensions: exts})
	r.Register(&findReferencesTool{extensions: exts})
	r.Register(&extractRoutesTool{extensions: exts})
	r.Register(&discoverConfigsTool{})
	r.Register(&analyzeConfigTool{})
	r.Register(&callGraphTool{extensions: exts})

	rag := ragTool{retriever: opts.Retriever, logger: logging.New().WithComponent("rag")}
	r.Register(&semanticSearchTool{rag})
	r.Register(&relatedCodeTool{rag})
	r.Register(&searchInFileTool{rag})
	r.Register(&queryWithLLMTool{rag})
	return r
}
