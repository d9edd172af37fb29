package retrieval

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/auditagent/internal/source"
)

// BuildOptions controls indexing of a project.
type BuildOptions struct {
	Extensions []string
	Chunker    *Chunker
	Workers    int
	Logger     *logging.Logger
}

// BuildStats summarizes one indexing pass.
type BuildStats struct {
	Files    int
	Skipped  int
	Chunks   int
	Duration time.Duration
}

// Build chunks every project file under root in parallel and adds the
// chunks to idx in file order. Unreadable files are skipped with a warning.
func Build(ctx context.Context, idx Index, root string, opts BuildOptions) (BuildStats, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = logging.New().WithComponent("retrieval")
	}
	chunker := opts.Chunker
	if chunker == nil {
		chunker = NewChunker(0, -1, 0)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files, err := source.Files(ctx, root, opts.Extensions)
	if err != nil {
		return BuildStats{}, err
	}
	logger.Info("indexing project", map[string]interface{}{
		"root":    root,
		"files":   len(files),
		"workers": workers,
	})

	perFile := make([][]Chunk, len(files))
	failed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := chunker.ChunkFile(f)
			if err != nil {
				logger.Warn("failed to chunk file", map[string]interface{}{"file": f, "error": err.Error()})
				failed[i] = true
				return nil
			}
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildStats{}, err
	}

	stats := BuildStats{Files: len(files)}
	for i, chunks := range perFile {
		if failed[i] {
			stats.Skipped++
			continue
		}
		if err := idx.Add(ctx, chunks); err != nil {
			return stats, fmt.Errorf("index %s: %w", files[i], err)
		}
		stats.Chunks += len(chunks)
		if (i+1)%50 == 0 {
			logger.Debug("indexing progress", map[string]interface{}{"processed": i + 1, "total": len(files)})
		}
	}
	stats.Duration = time.Since(start)

	logger.Info("indexing complete", map[string]interface{}{
		"chunks":      stats.Chunks,
		"skipped":     stats.Skipped,
		"duration_ms": stats.Duration.Milliseconds(),
	})
	return stats, nil
}

// EnsureBuilt builds the index when it is empty or when rebuild is set.
func EnsureBuilt(ctx context.Context, idx Index, root string, rebuild bool, opts BuildOptions) (BuildStats, error) {
	if rebuild {
		if err := idx.Clear(ctx); err != nil {
			return BuildStats{}, err
		}
	} else {
		n, err := idx.Count()
		if err != nil {
			return BuildStats{}, err
		}
		if n > 0 {
			return BuildStats{Chunks: n}, nil
		}
	}
	return Build(ctx, idx, root, opts)
}
