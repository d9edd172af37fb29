// Package pathresolve grounds relative tool arguments to a project root.
package pathresolve

import (
	"path"
	"path/filepath"
	"strings"
)

// PathParams lists the tool parameter names that carry filesystem paths.
var PathParams = map[string]bool{
	"file_path":        true,
	"dir_path":         true,
	"directory_path":   true,
	"project_path":     true,
	"config_file_path": true,
}

// Resolver maps relative paths onto one project root.
// A Resolver belongs to a single audit run and is never shared between runs.
type Resolver struct {
	root string
}

// New creates a resolver rooted at root. The root is made absolute and
// normalized to forward slashes. An empty root yields a pass-through resolver.
func New(root string) *Resolver {
	if root == "" {
		return &Resolver{}
	}
	if abs, err := filepath.Abs(root); err == nil && !isAbs(root) {
		root = abs
	}
	return &Resolver{root: ToSlash(root)}
}

// Root returns the project root.
func (r *Resolver) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Resolve returns p unchanged when it is absolute, otherwise p joined to the root.
func (r *Resolver) Resolve(p string) string {
	if r == nil || p == "" || isAbs(p) || r.root == "" {
		return p
	}
	return path.Join(r.root, ToSlash(p))
}

// ResolveArgs returns a copy of args with every path-like string argument resolved.
// Other arguments, and path-like arguments that are absent or not strings,
// pass through unchanged.
func (r *Resolver) ResolveArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if ok && PathParams[k] {
			out[k] = r.Resolve(s)
			continue
		}
		out[k] = v
	}
	return out
}

// ToSlash converts every backslash to a forward slash, independent of the host OS.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// isAbs reports whether p is absolute on this host or is a Windows drive path.
func isAbs(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '/' || p[2] == '\\')
}
