package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/auditagent/internal/source"
)

// filterFiles keeps files matching any comma-separated pattern. A bare
// extension such as "py" or ".py" is treated as "*.py".
func filterFiles(files []string, filePattern string) []string {
	if strings.TrimSpace(filePattern) == "" {
		return files
	}
	var patterns []string
	for _, p := range strings.Split(filePattern, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if isBareExtension(p) {
			if strings.HasPrefix(p, ".") {
				p = "*" + p
			} else {
				p = "*." + p
			}
		}
		patterns = append(patterns, p)
	}

	out := []string{}
	for _, f := range files {
		normalized := strings.ReplaceAll(f, `\`, "/")
		name := filepath.Base(normalized)
		for _, p := range patterns {
			if source.GlobMatch(p, normalized) || source.GlobMatch(p, name) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func isBareExtension(p string) bool {
	if strings.ContainsAny(p, `/\*`) {
		return false
	}
	rest := strings.ReplaceAll(p, ".", "")
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// scanLines calls fn for each line of each file until fn returns false.
// Unreadable files are skipped.
func scanLines(ctx context.Context, files []string, fn func(file string, line int, text string) bool) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, err := source.ReadText(f)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if !fn(f, i+1, line) {
				return nil
			}
		}
	}
	return nil
}

// stringArg returns a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// optString returns an optional string argument.
func optString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// optInt returns an integer argument, accepting JSON numbers and numeric strings.
func optInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// optBool returns a boolean argument, accepting "true"/"false" strings.
func optBool(args map[string]interface{}, key string, def bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		}
	}
	return def
}

// optStrings returns a list argument given as an array or a comma-separated string.
func optStrings(args map[string]interface{}, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
