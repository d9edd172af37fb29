package main

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// parseRetryConfig converts config values to RetryConfig.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	cfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			cfg.MaxBackoff = d
		}
	}
	return cfg
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// projectKey names the index directory of a project: its base name plus a
// short hash of the full path.
func projectKey(root string) string {
	clean := filepath.ToSlash(filepath.Clean(root))
	sum := sha256.Sum256([]byte(clean))
	base := unsafeName.ReplaceAllString(filepath.Base(clean), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "project"
	}
	return base + "-" + hex.EncodeToString(sum[:])[:12]
}
