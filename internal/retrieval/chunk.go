// Package retrieval indexes project source code and serves the retrieval tools.
package retrieval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vinayprograms/auditagent/internal/source"
	"github.com/vinayprograms/auditagent/internal/tokenutil"
)

// Chunk is a window of consecutive lines from one source file.
type Chunk struct {
	ID        string
	File      string
	Language  string
	Index     int
	StartLine int
	EndLine   int
	Content   string
}

// ChunkID returns the stable document ID of a file's n-th chunk.
func ChunkID(file string, n int) string {
	return fmt.Sprintf("%s_%d", file, n)
}

// Metadata returns the chunk's searchable metadata.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		"file_path":   c.File,
		"source_file": c.File,
		"language":    c.Language,
		"chunk_index": strconv.Itoa(c.Index),
		"start_line":  strconv.Itoa(c.StartLine),
		"end_line":    strconv.Itoa(c.EndLine),
		"chunk_type":  "code",
	}
}

// Chunker splits files into overlapping line windows bounded by a token budget.
type Chunker struct {
	Lines     int // lines per window
	Overlap   int // lines shared with the previous window
	MaxTokens int // tokens per chunk
}

// NewChunker returns a chunker with defaults for zero values.
func NewChunker(lines, overlap, maxTokens int) *Chunker {
	if lines <= 0 {
		lines = 40
	}
	if overlap < 0 || overlap >= lines {
		overlap = 15
		if overlap >= lines {
			overlap = lines / 3
		}
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Chunker{Lines: lines, Overlap: overlap, MaxTokens: maxTokens}
}

// ChunkFile reads and chunks one file.
func (c *Chunker) ChunkFile(path string) ([]Chunk, error) {
	content, err := source.ReadText(path)
	if err != nil {
		return nil, err
	}
	return c.ChunkText(path, content), nil
}

// ChunkText chunks content as if it were read from file.
// Whitespace-only windows are dropped. Line numbers are 1-based.
func (c *Chunker) ChunkText(file, content string) []Chunk {
	lines := strings.Split(content, "\n")
	costs := make([]int, len(lines))
	for i, l := range lines {
		costs[i] = tokenutil.Count(l + "\n")
	}
	lang := source.Language(file)

	var chunks []Chunk
	emit := func(start, end int, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		n := len(chunks)
		chunks = append(chunks, Chunk{
			ID:        ChunkID(file, n),
			File:      file,
			Language:  lang,
			Index:     n,
			StartLine: start + 1,
			EndLine:   end,
			Content:   text,
		})
	}

	start := 0
	for start < len(lines) {
		end := start
		tokens := 0
		for end < len(lines) && end-start < c.Lines {
			if end > start && tokens+costs[end] > c.MaxTokens {
				break
			}
			tokens += costs[end]
			end++
		}

		if end-start == 1 && costs[start] > c.MaxTokens {
			for _, part := range splitLong(lines[start], c.MaxTokens*4) {
				emit(start, end, part)
			}
		} else {
			emit(start, end, strings.Join(lines[start:end], "\n"))
		}

		if end >= len(lines) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// splitLong cuts a single oversized line into pieces of at most size runes.
func splitLong(line string, size int) []string {
	runes := []rune(line)
	var parts []string
	for i := 0; i < len(runes); i += size {
		j := i + size
		if j > len(runes) {
			j = len(runes)
		}
		parts = append(parts, string(runes[i:j]))
	}
	return parts
}
