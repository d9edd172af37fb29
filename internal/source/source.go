// Package source walks and decodes the files of an audited project.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultExtensions are the source extensions scanned when none are given.
var DefaultExtensions = []string{".java", ".py", ".go", ".php", ".js", ".ts"}

var excludedDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	"env":          true,
	"target":       true,
	"build":        true,
	"dist":         true,
	".idea":        true,
	".vscode":      true,
}

// IsExcludedDir reports whether a directory name is skipped during scans.
func IsExcludedDir(name string) bool {
	return excludedDirs[name]
}

// ReadText returns file content decoded as UTF-8, falling back to Latin-1.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// Walk calls fn for every regular file under root, skipping excluded
// directories. Paths passed to fn use forward slashes. The walk stops
// when ctx is done.
func Walk(ctx context.Context, root string, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(filepath.ToSlash(p), d)
	})
}

// Files lists files under root whose name ends with one of exts.
// The result is sorted.
func Files(ctx context.Context, root string, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project path not found: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	matchers := make([]*regexp.Regexp, 0, len(exts))
	for _, ext := range exts {
		pattern := ext
		if !strings.HasPrefix(pattern, "*") {
			pattern = "*" + pattern
		}
		re, err := GlobRegexp(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid extension %q: %w", ext, err)
		}
		matchers = append(matchers, re)
	}

	files := []string{}
	err = Walk(ctx, root, func(p string, d fs.DirEntry) error {
		for _, re := range matchers {
			if re.MatchString(d.Name()) {
				files = append(files, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Language maps a file extension to a language name.
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".java":
		return "java"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".go":
		return "go"
	case ".php":
		return "php"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".c", ".h":
		return "c"
	case ".rs":
		return "rust"
	default:
		return "text"
	}
}

// GlobRegexp compiles a shell glob where '*' also matches '/'.
func GlobRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end == -1 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// GlobMatch reports whether name matches pattern. Invalid patterns never match.
func GlobMatch(pattern, name string) bool {
	re, err := GlobRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
