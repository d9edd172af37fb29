package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinayprograms/auditagent/internal/source"
)

// readFileTool implements read_file.
type readFileTool struct{}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read the full text content of a file. Use forward slashes in paths."
}

func (t *readFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the project root",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	return source.ReadText(path)
}

// listDirectoryTool implements list_directory.
type listDirectoryTool struct{}

func (t *listDirectoryTool) Name() string { return "list_directory" }

func (t *listDirectoryTool) Description() string {
	return "List files in a directory, optionally filtered by a glob pattern and recursive."
}

func (t *listDirectoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"directory_path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern for entry names, e.g. *.java",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Descend into subdirectories",
			},
		},
		"required": []string{"directory_path"},
	}
}

func (t *listDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dir := optString(args, "directory_path")
	if dir == "" {
		dir = optString(args, "dir_path")
	}
	if dir == "" {
		return nil, fmt.Errorf("directory_path is required")
	}
	return listDirectory(ctx, dir, optString(args, "pattern"), optBool(args, "recursive", false))
}

// listDirectory lists entries of dir. Without a pattern only regular files are
// returned; with one, any entry whose name matches.
func listDirectory(ctx context.Context, dir, pattern string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	accept := func(d fs.DirEntry) bool {
		if pattern == "" {
			return !d.IsDir()
		}
		return source.GlobMatch(pattern, d.Name())
	}

	files := []string{}
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		for _, e := range entries {
			if accept(e) {
				files = append(files, filepath.ToSlash(filepath.Join(dir, e.Name())))
			}
		}
		return files, nil
	}

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if accept(d) {
			files = append(files, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// projectFilesTool implements get_project_files.
type projectFilesTool struct {
	extensions []string
}

func (t *projectFilesTool) Name() string { return "get_project_files" }

func (t *projectFilesTool) Description() string {
	return "List all source files of the project, skipping vendored and build directories."
}

func (t *projectFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": map[string]interface{}{
				"type":        "string",
				"description": "Project root directory",
			},
			"extensions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "File extensions to include, e.g. [\".java\", \".py\"]",
			},
		},
		"required": []string{"project_path"},
	}
}

func (t *projectFilesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	exts := optStrings(args, "extensions")
	if len(exts) == 0 {
		exts = t.extensions
	}
	return source.Files(ctx, root, exts)
}

// fileTreeTool implements get_file_tree.
type fileTreeTool struct{}

func (t *fileTreeTool) Name() string { return "get_file_tree" }

func (t *fileTreeTool) Description() string {
	return "Render the directory tree of the project up to a maximum depth."
}

func (t *fileTreeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": map[string]interface{}{
				"type":        "string",
				"description": "Project root directory",
			},
			"max_depth": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum depth to descend (default 3)",
			},
		},
		"required": []string{"project_path"},
	}
}

func (t *fileTreeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	return FileTree(ctx, root, optInt(args, "max_depth", 3))
}

// FileTree renders root as an indented tree. Directories sort before files,
// names compare case-insensitively, excluded directories are omitted.
func FileTree(ctx context.Context, root string, maxDepth int) (string, error) {
	if _, err := os.Stat(root); err != nil {
		return fmt.Sprintf("Path not found: %s", root), nil
	}
	lines := []string{filepath.Base(filepath.Clean(root))}
	if err := addTree(ctx, &lines, root, "", 0, maxDepth); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func addTree(ctx context.Context, lines *[]string, dir, prefix string, depth, maxDepth int) error {
	if depth > maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	items := entries[:0]
	for _, e := range entries {
		if !source.IsExcludedDir(e.Name()) {
			items = append(items, e)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return strings.ToLower(items[i].Name()) < strings.ToLower(items[j].Name())
	})

	for i, item := range items {
		last := i == len(items)-1
		connector, extension := "├── ", "│   "
		if last {
			connector, extension = "└── ", "    "
		}
		*lines = append(*lines, prefix+connector+item.Name())
		if item.IsDir() {
			if err := addTree(ctx, lines, filepath.Join(dir, item.Name()), prefix+extension, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}
