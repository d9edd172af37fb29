package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vinayprograms/auditagent/internal/source"
)

// SymbolMatch is a definition or reference of a symbol.
type SymbolMatch struct {
	File           string `json:"file"`
	Line           int    `json:"line"`
	Content        string `json:"content"`
	Symbol         string `json:"symbol"`
	Type           string `json:"type"`
	DefinitionType string `json:"definition_type,omitempty"`
}

// Route is an HTTP route declaration found in source.
type Route struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Route     string `json:"route"`
	Method    string `json:"method"`
	Framework string `json:"framework"`
	Content   string `json:"content"`
}

// ConfigFile is a discovered security-relevant configuration file.
type ConfigFile struct {
	File            string `json:"file"`
	Type            string `json:"type"`
	Directory       string `json:"directory,omitempty"`
	Pattern         string `json:"pattern,omitempty"`
	DiscoveryMethod string `json:"discovery_method"`
}

// ConfigFeature is a security feature or weakness seen in a config file.
type ConfigFeature struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Content     string `json:"content"`
	Severity    string `json:"severity"`
}

// ConfigAnalysis summarizes one configuration file.
type ConfigAnalysis struct {
	File            string          `json:"file"`
	Features        []ConfigFeature `json:"features"`
	PotentialIssues []ConfigFeature `json:"potential_issues"`
}

// CallGraph lists the definitions and call sites of a function.
type CallGraph struct {
	Function    string        `json:"function"`
	Definitions []SymbolMatch `json:"definitions"`
	References  []SymbolMatch `json:"references"`
	CallCount   int           `json:"call_count"`
}

type definitionPattern struct {
	expr string // %s is replaced by the quoted symbol
	kind string
}

var definitionPatterns = []definitionPattern{
	{`(?:public|private|protected)?\s*(?:static|final|abstract)?\s*(?:class|interface|enum)\s+%s\s*[<{(\[]`, "class"},
	{`(?:public|private|protected)?\s*(?:static)?\s*\w+\s+%s\s*\(`, "method"},
	{`^\s*class\s+%s\s*[(:]`, "class"},
	{`^\s*(?:async\s+)?def\s+%s\s*\(`, "function"},
	{`(?:function\s+%[1]s\s*\(|const\s+%[1]s\s*=\s*(?:async\s*)?\(|let\s+%[1]s\s*=\s*(?:async\s*)?\()`, "function"},
	{`^func\s+(?:\([^)]+\)\s*)?%s\s*\(`, "function"},
	{`(?:public|private|protected)?\s*(?:static)?\s*function\s+%s\s*\(`, "function"},
}

type compiledDefinition struct {
	re   *regexp.Regexp
	kind string
}

func compileDefinitions(symbol string) []compiledDefinition {
	quoted := regexp.QuoteMeta(symbol)
	out := make([]compiledDefinition, 0, len(definitionPatterns))
	for _, p := range definitionPatterns {
		expr := strings.ReplaceAll(p.expr, "%[1]s", quoted)
		expr = strings.ReplaceAll(expr, "%s", quoted)
		out = append(out, compiledDefinition{re: regexp.MustCompile(expr), kind: p.kind})
	}
	return out
}

// FindDefinitions returns lines that declare symbol in any supported language.
func FindDefinitions(ctx context.Context, root, symbol string, exts []string) ([]SymbolMatch, error) {
	files, err := source.Files(ctx, root, exts)
	if err != nil {
		return nil, err
	}
	patterns := compileDefinitions(symbol)
	results := []SymbolMatch{}
	err = scanLines(ctx, files, func(file string, line int, text string) bool {
		for _, p := range patterns {
			if p.re.MatchString(text) {
				results = append(results, SymbolMatch{
					File:           file,
					Line:           line,
					Content:        strings.TrimSpace(text),
					Symbol:         symbol,
					Type:           "definition",
					DefinitionType: p.kind,
				})
				break
			}
		}
		return true
	})
	return results, err
}

// FindReferences returns up to max lines that mention symbol as a whole word.
func FindReferences(ctx context.Context, root, symbol string, max int, exts []string) ([]SymbolMatch, error) {
	files, err := source.Files(ctx, root, exts)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(symbol) + `\b`)
	results := []SymbolMatch{}
	err = scanLines(ctx, files, func(file string, line int, text string) bool {
		if !re.MatchString(text) {
			return true
		}
		results = append(results, SymbolMatch{
			File:    file,
			Line:    line,
			Content: strings.TrimSpace(text),
			Symbol:  symbol,
			Type:    "reference",
		})
		return max <= 0 || len(results) < max
	})
	return results, err
}

var symbolParams = map[string]interface{}{
	"symbol_name": map[string]interface{}{
		"type":        "string",
		"description": "Class, method or function name",
	},
	"project_path": projectPathParam,
}

// findDefinitionTool implements find_definition.
type findDefinitionTool struct {
	extensions []string
}

func (t *findDefinitionTool) Name() string { return "find_definition" }

func (t *findDefinitionTool) Description() string {
	return "Find where a class, method or function is defined (Java, Python, JavaScript, Go, PHP)."
}

func (t *findDefinitionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": symbolParams,
		"required":   []string{"symbol_name", "project_path"},
	}
}

func (t *findDefinitionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symbol, err := stringArg(args, "symbol_name")
	if err != nil {
		return nil, err
	}
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	return FindDefinitions(ctx, root, symbol, t.extensions)
}

// findReferencesTool implements find_references.
type findReferencesTool struct {
	extensions []string
}

func (t *findReferencesTool) Name() string { return "find_references" }

func (t *findReferencesTool) Description() string {
	return "Find lines that reference a symbol as a whole word."
}

func (t *findReferencesTool) Parameters() map[string]interface{} {
	props := map[string]interface{}{
		"max_results": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of references (default 100)",
		},
	}
	for k, v := range symbolParams {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"symbol_name", "project_path"},
	}
}

func (t *findReferencesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symbol, err := stringArg(args, "symbol_name")
	if err != nil {
		return nil, err
	}
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	return FindReferences(ctx, root, symbol, optInt(args, "max_results", 100), t.extensions)
}

// callGraphTool implements get_call_graph.
type callGraphTool struct {
	extensions []string
}

func (t *callGraphTool) Name() string { return "get_call_graph" }

func (t *callGraphTool) Description() string {
	return "Show where a function is defined and called, with the number of call sites."
}

func (t *callGraphTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"function_name": map[string]interface{}{
				"type":        "string",
				"description": "Function or method name",
			},
			"project_path": projectPathParam,
			"max_depth": map[string]interface{}{
				"type":        "integer",
				"description": "Call depth (currently one level is reported)",
			},
		},
		"required": []string{"function_name", "project_path"},
	}
}

func (t *callGraphTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	fn, err := stringArg(args, "function_name")
	if err != nil {
		return nil, err
	}
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	defs, err := FindDefinitions(ctx, root, fn, t.extensions)
	if err != nil {
		return nil, err
	}
	refs, err := FindReferences(ctx, root, fn, 50, t.extensions)
	if err != nil {
		return nil, err
	}
	return CallGraph{Function: fn, Definitions: defs, References: refs, CallCount: len(refs)}, nil
}

type routePattern struct {
	re        *regexp.Regexp
	framework string
	method    int // submatch index of the HTTP method, 0 when implicit
	route     int // submatch index of the path
}

var routePatterns = []routePattern{
	{regexp.MustCompile(`@(Request|Get|Post|Put|Delete|Patch)Mapping\s*\(\s*(?:value\s*=\s*)?["']([^"']+)["']`), "Spring", 1, 2},
	{regexp.MustCompile(`@(Request|Get|Post|Put|Delete|Patch)Mapping\s*\(\s*path\s*=\s*["']([^"']+)["']`), "Spring", 1, 2},
	{regexp.MustCompile(`@(?:app|bp|blueprint)\.route\s*\(\s*["']([^"']+)["'](?:.*methods\s*=\s*\[([^\]]+)\])?`), "Flask", 2, 1},
	{regexp.MustCompile(`@app\.(get|post|put|delete|patch)\s*\(\s*["']([^"']+)["']`), "FastAPI", 1, 2},
	{regexp.MustCompile(`(?:router|app)\.(get|post|put|delete|patch|use)\s*\(\s*["']([^"']+)["']`), "Express", 1, 2},
	{regexp.MustCompile(`Route::(get|post|put|delete|patch|any)\s*\(\s*["']([^"']+)["']`), "Laravel", 1, 2},
	{regexp.MustCompile(`(?:path|url|re_path)\s*\(\s*r?["']([^"']+)["']`), "Django", 0, 1},
	{regexp.MustCompile(`\b(?:router|e|r|g)\.(GET|POST|PUT|DELETE|PATCH)\s*\(\s*"([^"]+)"`), "Go", 1, 2},
}

var routeFileHints = []string{"controller", "router", "route", "api", "handler", "view"}

// routeMethod normalizes the captured method. Spring's RequestMapping and
// absent Flask method lists map to ANY.
func routeMethod(fw, raw string) string {
	raw = strings.TrimSpace(raw)
	if fw == "Spring" {
		if raw == "Request" {
			return "ANY"
		}
		return strings.ToUpper(raw)
	}
	if fw == "Flask" && raw != "" {
		raw = strings.NewReplacer(`"`, "", `'`, "", " ", "").Replace(raw)
	}
	if raw == "" {
		return "ANY"
	}
	return strings.ToUpper(raw)
}

// ExtractRoutes scans routing-related files for route declarations.
func ExtractRoutes(ctx context.Context, root string, exts []string) ([]Route, error) {
	files, err := source.Files(ctx, root, exts)
	if err != nil {
		return nil, err
	}
	var candidates []string
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		lower := strings.ToLower(filepath.ToSlash(rel))
		for _, hint := range routeFileHints {
			if strings.Contains(lower, hint) {
				candidates = append(candidates, f)
				break
			}
		}
	}

	routes := []Route{}
	err = scanLines(ctx, candidates, func(file string, line int, text string) bool {
		for _, p := range routePatterns {
			for _, m := range p.re.FindAllStringSubmatch(text, -1) {
				method := ""
				if p.method > 0 {
					method = m[p.method]
				}
				routes = append(routes, Route{
					File:      file,
					Line:      line,
					Route:     m[p.route],
					Method:    routeMethod(p.framework, method),
					Framework: p.framework,
					Content:   strings.TrimSpace(text),
				})
			}
		}
		return true
	})
	return routes, err
}

// extractRoutesTool implements extract_routes.
type extractRoutesTool struct {
	extensions []string
}

func (t *extractRoutesTool) Name() string { return "extract_routes" }

func (t *extractRoutesTool) Description() string {
	return "Extract HTTP routes (Spring, Flask, FastAPI, Express, Laravel, Django, Go) from controller, router and handler files."
}

func (t *extractRoutesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"project_path": projectPathParam},
		"required":   []string{"project_path"},
	}
}

func (t *extractRoutesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	return ExtractRoutes(ctx, root, t.extensions)
}

var securityFilePatterns = []string{
	"*Security*.java", "*Security*.py", "*Security*.go", "*Security*.php",
	"*Auth*.java", "*Auth*.py", "*Auth*.go", "*Auth*.php",
	"*Filter*.java", "*Interceptor*.java", "*Middleware*.py", "*Middleware*.js",
	"security.py", "auth.py", "authentication.py", "authorization.py",
	"SecurityConfig.java", "WebSecurityConfig.java",
	"cors.py", "cors.js", "CorsConfig.java",
	"settings.py", "config.py", "application.yml", "application.properties",
	"web.xml", "web.config", "httpd.conf", "nginx.conf",
}

var securityDirs = []string{
	"config", "security", "auth", "middleware", "filter", "interceptor", "conf", "settings",
}

// DiscoverSecurityConfigs lists files in well-known security directories
// of root, then files matching security-related name patterns anywhere.
func DiscoverSecurityConfigs(ctx context.Context, root string) ([]ConfigFile, error) {
	seen := map[string]bool{}
	found := []ConfigFile{}

	for _, dir := range securityDirs {
		full := filepath.Join(root, dir)
		if info, err := os.Stat(full); err != nil || !info.IsDir() {
			continue
		}
		files, err := listDirectory(ctx, full, "", true)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, f := range files {
			if seen[f] {
				continue
			}
			seen[f] = true
			found = append(found, ConfigFile{
				File:            f,
				Type:            "security_config_dir",
				Directory:       dir,
				DiscoveryMethod: "directory_scan",
			})
		}
	}

	for _, pattern := range securityFilePatterns {
		files, err := FindFilesByName(ctx, root, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, f := range files {
			if seen[f] {
				continue
			}
			seen[f] = true
			found = append(found, ConfigFile{
				File:            f,
				Type:            "security_config_file",
				Pattern:         pattern,
				DiscoveryMethod: "filename_pattern",
			})
		}
	}
	return found, nil
}

// discoverConfigsTool implements discover_security_config_files.
type discoverConfigsTool struct{}

func (t *discoverConfigsTool) Name() string { return "discover_security_config_files" }

func (t *discoverConfigsTool) Description() string {
	return "Discover security-related configuration files (auth, CORS, filters, middleware, server config)."
}

func (t *discoverConfigsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"project_path": projectPathParam},
		"required":   []string{"project_path"},
	}
}

func (t *discoverConfigsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root, err := stringArg(args, "project_path")
	if err != nil {
		return nil, err
	}
	return DiscoverSecurityConfigs(ctx, root)
}

type featurePattern struct {
	re          *regexp.Regexp
	kind        string
	description string
	severity    string
}

var featurePatterns = []featurePattern{
	{regexp.MustCompile(`allowedOrigins?\s*[=:]\s*["']?\*["']?`), "CORS", "CORS allows all origins (unsafe)", "high"},
	{regexp.MustCompile(`Access-Control-Allow-Origin:\s*\*`), "CORS", "CORS response header allows all origins", "high"},
	{regexp.MustCompile(`cors\s*\(\s*\)`), "CORS", "CORS middleware with default config", "medium"},
	{regexp.MustCompile(`(?i)csrf.*disable|csrf.*false|csrf\s*=\s*False`), "CSRF", "CSRF protection disabled", "high"},
	{regexp.MustCompile(`(?i)@csrf_exempt`), "CSRF", "CSRF exempt decorator", "medium"},
	{regexp.MustCompile(`permitAll\(\)`), "Authentication", "Endpoint without authentication", "info"},
	{regexp.MustCompile(`@PreAuthorize|@Secured|@RolesAllowed`), "Authentication", "Method-level permission control", "info"},
	{regexp.MustCompile(`authenticated\(\)`), "Authentication", "Authentication required", "info"},
	{regexp.MustCompile(`(?i)session.*timeout|SESSION_COOKIE_AGE`), "Session", "Session timeout config", "info"},
	{regexp.MustCompile(`(?i)sessionCreationPolicy.*STATELESS`), "Session", "Stateless session (JWT etc.)", "info"},
}

// AnalyzeSecurityConfig reports security features found in a config file.
// Features rated high or medium are also listed as potential issues.
// Unreadable files yield an empty analysis.
func AnalyzeSecurityConfig(path string) ConfigAnalysis {
	out := ConfigAnalysis{File: path, Features: []ConfigFeature{}, PotentialIssues: []ConfigFeature{}}
	content, err := source.ReadText(path)
	if err != nil {
		return out
	}
	for i, line := range strings.Split(content, "\n") {
		for _, p := range featurePatterns {
			if !p.re.MatchString(line) {
				continue
			}
			f := ConfigFeature{
				Type:        p.kind,
				Description: p.description,
				Line:        i + 1,
				Content:     strings.TrimSpace(line),
				Severity:    p.severity,
			}
			out.Features = append(out.Features, f)
			if p.severity == "high" || p.severity == "medium" {
				out.PotentialIssues = append(out.PotentialIssues, f)
			}
		}
	}
	return out
}

// analyzeConfigTool implements analyze_security_config_content.
type analyzeConfigTool struct{}

func (t *analyzeConfigTool) Name() string { return "analyze_security_config_content" }

func (t *analyzeConfigTool) Description() string {
	return "Analyze a configuration file for CORS, CSRF, authentication and session settings."
}

func (t *analyzeConfigTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"config_file_path": map[string]interface{}{
				"type":        "string",
				"description": "Configuration file to analyze",
			},
		},
		"required": []string{"config_file_path"},
	}
}

func (t *analyzeConfigTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "config_file_path")
	if err != nil {
		return nil, err
	}
	return AnalyzeSecurityConfig(path), nil
}
