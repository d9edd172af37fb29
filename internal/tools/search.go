package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/vinayprograms/auditagent/internal/source"
)

// KeywordMatch is a line containing a searched keyword.
type KeywordMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
	Keyword string `json:"keyword"`
}

// RegexMatch is one regular expression match within a line.
type RegexMatch struct {
	File    string   `json:"file"`
	Line    int      `json:"line"`
	Content string   `json:"content"`
	Match   string   `json:"match"`
	Groups  []string `json:"groups"`
}

var filePatternParam = map[string]interface{}{
	"type":        "string",
	"description": "Comma-separated file globs or extensions, e.g. \"*.java,py\"",
}

var projectPathParam = map[string]interface{}{
	"type":        "string",
	"description": "Project root directory",
}

// keywordSearchTool implements search_by_keyword.
type keywordSearchTool struct {
	extensions []string
}

func (t *keywordSearchTool) Name() string { return "search_by_keyword" }

func (t *keywordSearchTool) Description() string {
	return "Search project source files for a literal keyword and return matching lines."
}

func (t *keywordSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": projectPathParam,
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Literal text to search for",
			},
			"file_pattern": filePatternParam,
			"case_sensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Match case exactly (default false)",
			},
		},
		"required": []string{"project_path", "keyword"},
	}
}

func (t *keywordSearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	keyword, err := stringArg(args, "keyword")
	if err != nil {
		return nil, err
	}
	expr := regexp.QuoteMeta(keyword)
	if !optBool(args, "case_sensitive", false) {
		expr = "(?i)" + expr
	}
	re := regexp.MustCompile(expr)

	files, err := source.Files(ctx, root, t.extensions)
	if err != nil {
		return nil, err
	}
	files = filterFiles(files, optString(args, "file_pattern"))

	results := []KeywordMatch{}
	err = scanLines(ctx, files, func(file string, line int, text string) bool {
		if re.MatchString(text) {
			results = append(results, KeywordMatch{
				File:    file,
				Line:    line,
				Content: strings.TrimSpace(text),
				Keyword: keyword,
			})
		}
		return true
	})
	return results, err
}

// regexSearchTool implements search_by_regex.
type regexSearchTool struct {
	extensions []string
}

func (t *regexSearchTool) Name() string { return "search_by_regex" }

func (t *regexSearchTool) Description() string {
	return "Search project source files with a regular expression and return every match with its groups."
}

func (t *regexSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": projectPathParam,
			"regex_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression (RE2 syntax)",
			},
			"file_pattern": filePatternParam,
		},
		"required": []string{"project_path", "regex_pattern"},
	}
}

func (t *regexSearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	expr, err := stringArg(args, "regex_pattern")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}

	files, err := source.Files(ctx, root, t.extensions)
	if err != nil {
		return nil, err
	}
	files = filterFiles(files, optString(args, "file_pattern"))

	results := []RegexMatch{}
	err = scanLines(ctx, files, func(file string, line int, text string) bool {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			groups := m[1:]
			results = append(results, RegexMatch{
				File:    file,
				Line:    line,
				Content: strings.TrimSpace(text),
				Match:   m[0],
				Groups:  append([]string{}, groups...),
			})
		}
		return true
	})
	return results, err
}

// findByNameTool implements find_files_by_name.
type findByNameTool struct{}

func (t *findByNameTool) Name() string { return "find_files_by_name" }

func (t *findByNameTool) Description() string {
	return "Find files anywhere in the project whose name matches a glob such as *Controller.java."
}

func (t *findByNameTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": projectPathParam,
			"name_pattern": map[string]interface{}{
				"type":        "string",
				"description": "File name glob",
			},
		},
		"required": []string{"project_path", "name_pattern"},
	}
}

func (t *findByNameTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	pattern, err := stringArg(args, "name_pattern")
	if err != nil {
		return nil, err
	}
	return FindFilesByName(ctx, root, pattern)
}

// FindFilesByName returns files under root whose base name matches pattern.
func FindFilesByName(ctx context.Context, root, pattern string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("project path not found: %s", root)
	}
	re, err := source.GlobRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern: %w", err)
	}
	files := []string{}
	err = source.Walk(ctx, root, func(p string, d fs.DirEntry) error {
		if re.MatchString(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
