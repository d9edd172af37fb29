package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func fixtureProject(t *testing.T) string {
	t.Helper()
	root := filepath.ToSlash(t.TempDir())
	writeFiles(t, root, map[string]string{
		"app/controllers/user_controller.py": "from app.models import User\n\n@app.route('/users/<id>', methods=['GET', 'POST'])\ndef get_user(id):\n    return User.query.get(id)\n",
		"app/models.py":                      "class User(Base):\n    password = Column(String)\n",
		"config/settings.py":                 "DEBUG = True\nCSRF_ENABLED = False\nSESSION_COOKIE_AGE = 3600\n",
		"node_modules/lib/index.js":          "function get_user() {}\n",
		"web/routes/api.js":                  "router.get('/orders/:id', handler)\n",
		"README.md":                          "get_user docs\n",
	})
	return root
}

func invokeJSON(t *testing.T, r *Registry, name string, args map[string]interface{}, out interface{}) {
	t.Helper()
	text, ok := r.Invoke(context.Background(), name, args)
	if !ok {
		t.Fatalf("%s failed: %s", name, text)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("%s returned non-JSON %q: %v", name, text, err)
	}
}

func TestNewAuditRegistry_ToolSet(t *testing.T) {
	r := NewAuditRegistry(CatalogOptions{})

	want := []string{
		"read_file", "list_directory", "get_project_files", "get_file_tree",
		"search_by_keyword", "search_by_regex", "find_files_by_name",
		"find_definition", "find_references", "extract_routes",
		"discover_security_config_files", "analyze_security_config_content", "get_call_graph",
		"semantic_search", "get_related_code", "search_in_file", "query_with_llm",
	}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tool %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	for _, d := range r.Definitions() {
		if d.Parameters["type"] != "object" {
			t.Errorf("%s: parameters must be an object schema", d.Name)
		}
	}
}

func TestProjectFiles_SkipsExcludedDirs(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var files []string
	invokeJSON(t, r, "get_project_files", map[string]interface{}{"project_path": root}, &files)

	for _, f := range files {
		if strings.Contains(f, "node_modules") {
			t.Errorf("excluded directory leaked: %s", f)
		}
		if strings.HasSuffix(f, ".md") {
			t.Errorf("non-source file listed: %s", f)
		}
	}
	if len(files) != 4 {
		t.Errorf("expected 4 source files, got %d: %v", len(files), files)
	}
}

func TestFileTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tree")
	writeFiles(t, root, map[string]string{
		"b.txt":      "",
		"A/x.go":     "",
		".git/HEAD":  "",
		"c/.keep":    "",
		"c/d/e/f.go": "",
	})

	out, err := FileTree(context.Background(), root, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"tree",
		"├── A",
		"│   └── x.go",
		"├── c",
		"│   ├── d",
		"│   └── .keep",
		"└── b.txt",
	}, "\n")
	if out != want {
		t.Errorf("unexpected tree:\n%s\nwant:\n%s", out, want)
	}
}

func TestFileTree_MissingPath(t *testing.T) {
	r := NewAuditRegistry(CatalogOptions{})

	out, ok := r.Invoke(context.Background(), "get_file_tree", map[string]interface{}{"project_path": "/does/not/exist"})

	if !ok || out != "Path not found: /does/not/exist" {
		t.Errorf("unexpected result %q ok=%v", out, ok)
	}
}

func TestSearchByKeyword(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var hits []KeywordMatch
	invokeJSON(t, r, "search_by_keyword", map[string]interface{}{
		"project_path": root,
		"keyword":      "USER",
		"file_pattern": "py",
	}, &hits)

	if len(hits) == 0 {
		t.Fatal("expected case-insensitive matches")
	}
	for _, h := range hits {
		if !strings.HasSuffix(h.File, ".py") {
			t.Errorf("file pattern not applied: %s", h.File)
		}
		if h.Keyword != "USER" {
			t.Errorf("unexpected keyword %q", h.Keyword)
		}
	}

	invokeJSON(t, r, "search_by_keyword", map[string]interface{}{
		"project_path":   root,
		"keyword":        "USER",
		"case_sensitive": true,
	}, &hits)
	if len(hits) != 0 {
		t.Errorf("case-sensitive search should find nothing, got %d", len(hits))
	}
}

func TestSearchByRegex_Groups(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var hits []RegexMatch
	invokeJSON(t, r, "search_by_regex", map[string]interface{}{
		"project_path":  root,
		"regex_pattern": `def (\w+)\(`,
	}, &hits)

	if len(hits) != 1 {
		t.Fatalf("expected 1 match, got %d", len(hits))
	}
	if hits[0].Match != "def get_user(" || len(hits[0].Groups) != 1 || hits[0].Groups[0] != "get_user" {
		t.Errorf("unexpected match %+v", hits[0])
	}
	if hits[0].Line != 4 {
		t.Errorf("expected line 4, got %d", hits[0].Line)
	}

	out, ok := r.Invoke(context.Background(), "search_by_regex", map[string]interface{}{
		"project_path":  root,
		"regex_pattern": "(",
	})
	if ok || !strings.HasPrefix(out, "Error calling search_by_regex: invalid regex") {
		t.Errorf("expected invalid regex error, got %q", out)
	}
}

func TestFindFilesByName(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var files []string
	invokeJSON(t, r, "find_files_by_name", map[string]interface{}{
		"project_path": root,
		"name_pattern": "*controller*",
	}, &files)

	if len(files) != 1 || !strings.HasSuffix(files[0], "app/controllers/user_controller.py") {
		t.Errorf("unexpected files %v", files)
	}
}

func TestFindDefinitionAndReferences(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var defs []SymbolMatch
	invokeJSON(t, r, "find_definition", map[string]interface{}{"symbol_name": "User", "project_path": root}, &defs)
	if len(defs) != 1 || defs[0].DefinitionType != "class" || defs[0].Type != "definition" {
		t.Errorf("unexpected definitions %+v", defs)
	}

	var refs []SymbolMatch
	invokeJSON(t, r, "find_references", map[string]interface{}{
		"symbol_name":  "User",
		"project_path": root,
		"max_results":  2,
	}, &refs)
	if len(refs) != 2 {
		t.Errorf("expected max_results to cap at 2, got %d", len(refs))
	}

	var graph CallGraph
	invokeJSON(t, r, "get_call_graph", map[string]interface{}{"function_name": "get_user", "project_path": root}, &graph)
	if graph.Function != "get_user" || len(graph.Definitions) != 1 || graph.CallCount != len(graph.References) {
		t.Errorf("unexpected call graph %+v", graph)
	}
}

func TestExtractRoutes(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var routes []Route
	invokeJSON(t, r, "extract_routes", map[string]interface{}{"project_path": root}, &routes)

	byFramework := map[string]Route{}
	for _, rt := range routes {
		byFramework[rt.Framework] = rt
	}
	flask, ok := byFramework["Flask"]
	if !ok {
		t.Fatalf("expected a Flask route, got %+v", routes)
	}
	if flask.Route != "/users/<id>" || flask.Method != "GET,POST" {
		t.Errorf("unexpected Flask route %+v", flask)
	}
	express, ok := byFramework["Express"]
	if !ok || express.Route != "/orders/:id" || express.Method != "GET" {
		t.Errorf("unexpected Express route %+v", express)
	}
}

func TestDiscoverAndAnalyzeSecurityConfig(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var found []ConfigFile
	invokeJSON(t, r, "discover_security_config_files", map[string]interface{}{"project_path": root}, &found)

	if len(found) != 1 {
		t.Fatalf("expected settings.py once, got %+v", found)
	}
	if found[0].DiscoveryMethod != "directory_scan" || found[0].Directory != "config" {
		t.Errorf("directory scan should win over name pattern: %+v", found[0])
	}

	var analysis ConfigAnalysis
	invokeJSON(t, r, "analyze_security_config_content", map[string]interface{}{"config_file_path": found[0].File}, &analysis)

	kinds := map[string]bool{}
	for _, f := range analysis.Features {
		kinds[f.Type] = true
	}
	if !kinds["CSRF"] || !kinds["Session"] {
		t.Errorf("expected CSRF and Session features, got %+v", analysis.Features)
	}
	if len(analysis.PotentialIssues) != 1 || analysis.PotentialIssues[0].Severity != "high" {
		t.Errorf("expected one high potential issue, got %+v", analysis.PotentialIssues)
	}
}

func TestReadFile_Latin1Fallback(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "legacy.php")
	if err := os.WriteFile(p, []byte{'c', 'a', 'f', 0xe9}, 0644); err != nil {
		t.Fatal(err)
	}
	r := NewAuditRegistry(CatalogOptions{})

	out, ok := r.Invoke(context.Background(), "read_file", map[string]interface{}{"file_path": p})

	if !ok || out != "café" {
		t.Errorf("expected latin-1 decoded text, got %q ok=%v", out, ok)
	}
}

func TestReadFile_Missing(t *testing.T) {
	r := NewAuditRegistry(CatalogOptions{})

	out, ok := r.Invoke(context.Background(), "read_file", map[string]interface{}{"file_path": "/nope.txt"})

	if ok || !strings.HasPrefix(out, "Error calling read_file: ") {
		t.Errorf("unexpected result %q", out)
	}
}

func TestListDirectory(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})

	var files []string
	invokeJSON(t, r, "list_directory", map[string]interface{}{
		"directory_path": root + "/app",
		"pattern":        "*.py",
		"recursive":      true,
	}, &files)
	if len(files) != 2 {
		t.Errorf("expected 2 python files, got %v", files)
	}

	out, ok := r.Invoke(context.Background(), "list_directory", map[string]interface{}{"dir_path": root + "/README.md"})
	if ok || !strings.Contains(out, "not a directory") {
		t.Errorf("expected not-a-directory error, got %q", out)
	}
}

func TestRetrievalTools_Unavailable(t *testing.T) {
	r := NewAuditRegistry(CatalogOptions{})

	for _, name := range []string{"semantic_search", "search_in_file"} {
		out, ok := r.Invoke(context.Background(), name, map[string]interface{}{"query": "auth", "file_path": "a.go"})
		if !ok || out != "[]" {
			t.Errorf("%s: expected empty list, got %q ok=%v", name, out, ok)
		}
	}
	out, ok := r.Invoke(context.Background(), "query_with_llm", map[string]interface{}{"query": "auth"})
	if !ok || out != "" {
		t.Errorf("query_with_llm: expected empty answer, got %q", out)
	}
}

func TestCancelledContext(t *testing.T) {
	root := fixtureProject(t)
	r := NewAuditRegistry(CatalogOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, ok := r.Invoke(ctx, "search_by_keyword", map[string]interface{}{"project_path": root, "keyword": "x"})

	if ok || !strings.Contains(out, "context canceled") {
		t.Errorf("expected cancellation error, got %q", out)
	}
}
