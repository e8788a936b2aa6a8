package parsers

import (
	"regexp"
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// AnalysisRequest is the fixed per-file input to a FileAnalyzer.
type AnalysisRequest struct {
	// FileContent is the full source text.
	FileContent string

	// RelativePath is the file path relative to the repository root.
	RelativePath string

	// DetectedFrameworkName hints which framework conventions apply
	// ("nestjs", "express", "" when unknown).
	DetectedFrameworkName string
}

// RawImport is one import statement as reported by a FileAnalyzer.
type RawImport struct {
	// ImportedName is the exported name being imported ("*" for
	// namespace imports, "default" for default imports).
	ImportedName string

	// LocalName is the binding name in the importing file.
	LocalName string

	// SourceSpecifier is the module specifier string as written.
	SourceSpecifier string
}

// AnalyzedMethod is one method/handler as reported by a FileAnalyzer.
type AnalyzedMethod struct {
	Name               string
	Line               int
	HTTPMethod         string
	HTTPPath           string
	ParameterTypeNames []string
}

// AnalysisResult is the fixed per-file output of a FileAnalyzer.
type AnalysisResult struct {
	Kind         graph.Kind
	IsEntryPoint bool
	Methods      []AnalyzedMethod
	RawImports   []RawImport
}

// AnalyzerContext is a per-parse-run analysis session. It is acquired
// once per full parse, reused across files, and closed deterministically
// at the end of the run regardless of per-file failures.
type AnalyzerContext interface {
	AnalyzeFile(req AnalysisRequest) (*AnalysisResult, error)
	Close() error
}

// FileAnalyzer produces per-file analysis contexts. Implementations may
// delegate to an external engine (subprocess, service); the default is an
// in-process regex analyzer.
type FileAnalyzer interface {
	AcquireContext() (AnalyzerContext, error)
}

// regexAnalyzer is the built-in FileAnalyzer for TypeScript/JavaScript.
type regexAnalyzer struct{}

// NewRegexAnalyzer returns the in-process TypeScript/JavaScript analyzer.
func NewRegexAnalyzer() FileAnalyzer {
	return regexAnalyzer{}
}

func (regexAnalyzer) AcquireContext() (AnalyzerContext, error) {
	return &regexAnalyzerContext{}, nil
}

// regexAnalyzerContext holds the compiled patterns for one run.
type regexAnalyzerContext struct{}

var (
	tsNamedImportRegex     = regexp.MustCompile(`(?m)^import\s+(?:type\s+)?{([^}]+)}\s+from\s+['"]([^'"]+)['"]`)
	tsNamespaceImportRegex = regexp.MustCompile(`(?m)^import\s+\*\s+as\s+(\w+)\s+from\s+['"]([^'"]+)['"]`)
	tsDefaultImportRegex   = regexp.MustCompile(`(?m)^import\s+(\w+)\s+from\s+['"]([^'"]+)['"]`)
	tsRequireRegex         = regexp.MustCompile(`(?m)(?:const|let|var)\s+(\w+)\s*=\s*require\(\s*['"]([^'"]+)['"]`)
	tsSideEffectRegex      = regexp.MustCompile(`(?m)^import\s+['"]([^'"]+)['"]`)

	tsClassRegex    = regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`)
	tsFunctionRegex = regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+(\w+)\s*\(([^)]*)`)
	tsMethodRegex   = regexp.MustCompile(`(?m)^\s{2,}(?:public\s+|private\s+|protected\s+|readonly\s+)*(?:async\s+)?(\w+)\s*\(([^)]*)`)
	tsArrowRegex    = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let)\s+(\w+)\s*=\s*(?:async\s*)?\(([^)]*)\)\s*(?::\s*[\w<>.\[\]| ]+)?\s*=>`)

	nestDecoratorRegex    = regexp.MustCompile(`@(Get|Post|Put|Delete|Patch)\(\s*(?:['"]([^'"]*)['"])?\s*\)`)
	nestControllerRegex   = regexp.MustCompile(`@Controller\(\s*(?:['"]([^'"]*)['"])?\s*\)`)
	expressRouteRegex     = regexp.MustCompile(`(?:app|router)\.(get|post|put|delete|patch)\(\s*['"]([^'"]+)['"]`)
	tsParamTypeRegex      = regexp.MustCompile(`\w+\s*:\s*([\w.]+)`)
	tsThrowRegex          = regexp.MustCompile(`throw\s+new\s+(\w+)`)
	nestInjectableRegex   = regexp.MustCompile(`@Injectable\(`)
	nestEntityRegex       = regexp.MustCompile(`@Entity\(`)
	tsEventListenerRegex  = regexp.MustCompile(`@(?:EventPattern|MessagePattern|OnEvent|SqsMessageHandler)\(`)
	expressHandlerRegex   = regexp.MustCompile(`^\s*,\s*(\w+)`)
)

var tsKeywordMethodFilter = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "new": true,
}

// AnalyzeFile implements the fixed per-file request/response contract
// over regex scanning.
func (c *regexAnalyzerContext) AnalyzeFile(req AnalysisRequest) (*AnalysisResult, error) {
	source := req.FileContent
	result := &AnalysisResult{Kind: graph.KindOther}

	c.collectImports(source, result)

	decorated := nestControllerRegex.FindStringSubmatch(source)
	basePath := ""
	if decorated != nil {
		result.IsEntryPoint = true
		result.Kind = graph.KindController
		basePath = decorated[1]
	}
	if tsEventListenerRegex.MatchString(source) {
		result.IsEntryPoint = true
		if result.Kind == graph.KindOther {
			result.Kind = graph.KindListener
		}
	}

	c.collectMethods(source, basePath, req.DetectedFrameworkName, result)

	if result.Kind == graph.KindOther {
		result.Kind = inferTSKind(req.RelativePath, source)
	}
	return result, nil
}

func (c *regexAnalyzerContext) Close() error {
	return nil
}

func (c *regexAnalyzerContext) collectImports(source string, result *AnalysisResult) {
	for _, m := range tsNamedImportRegex.FindAllStringSubmatch(source, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.TrimSpace(name)
			local := name
			if idx := strings.Index(name, " as "); idx >= 0 {
				local = strings.TrimSpace(name[idx+4:])
				name = strings.TrimSpace(name[:idx])
			}
			if name == "" {
				continue
			}
			result.RawImports = append(result.RawImports, RawImport{
				ImportedName: name, LocalName: local, SourceSpecifier: m[2],
			})
		}
	}
	for _, m := range tsNamespaceImportRegex.FindAllStringSubmatch(source, -1) {
		result.RawImports = append(result.RawImports, RawImport{
			ImportedName: "*", LocalName: m[1], SourceSpecifier: m[2],
		})
	}
	for _, m := range tsDefaultImportRegex.FindAllStringSubmatch(source, -1) {
		result.RawImports = append(result.RawImports, RawImport{
			ImportedName: "default", LocalName: m[1], SourceSpecifier: m[2],
		})
	}
	for _, m := range tsRequireRegex.FindAllStringSubmatch(source, -1) {
		result.RawImports = append(result.RawImports, RawImport{
			ImportedName: "*", LocalName: m[1], SourceSpecifier: m[2],
		})
	}
	for _, m := range tsSideEffectRegex.FindAllStringSubmatch(source, -1) {
		result.RawImports = append(result.RawImports, RawImport{
			ImportedName: "", LocalName: "", SourceSpecifier: m[1],
		})
	}
}

func (c *regexAnalyzerContext) collectMethods(source, basePath, framework string, result *AnalysisResult) {
	lines := strings.Split(source, "\n")

	// Express-style registrations are route→handler, not decorators;
	// collect them first so handlers can be matched by name.
	expressRoutes := make(map[string][2]string) // handler name -> verb, path
	if framework != "nestjs" {
		for _, m := range expressRouteRegex.FindAllStringSubmatch(source, -1) {
			rest := source[strings.Index(source, m[0])+len(m[0]):]
			if h := expressHandlerRegex.FindStringSubmatch(rest); h != nil {
				expressRoutes[h[1]] = [2]string{strings.ToUpper(m[1]), m[2]}
			}
		}
		if expressRouteRegex.MatchString(source) {
			result.IsEntryPoint = true
			if result.Kind == graph.KindOther {
				result.Kind = graph.KindController
			}
		}
	}

	var pendingVerb, pendingPath string
	insideClass := tsClassRegex.MatchString(source)

	for i, line := range lines {
		if m := nestDecoratorRegex.FindStringSubmatch(line); m != nil {
			pendingVerb = strings.ToUpper(m[1])
			pendingPath = joinRoutes("/"+strings.Trim(basePath, "/"), m[2])
			continue
		}

		name, params := "", ""
		switch {
		case tsFunctionRegex.MatchString(line):
			m := tsFunctionRegex.FindStringSubmatch(line)
			name, params = m[1], m[2]
		case tsArrowRegex.MatchString(line):
			m := tsArrowRegex.FindStringSubmatch(line)
			name, params = m[1], m[2]
		case insideClass && tsMethodRegex.MatchString(line):
			m := tsMethodRegex.FindStringSubmatch(line)
			name, params = m[1], m[2]
		}
		if name == "" || tsKeywordMethodFilter[name] {
			continue
		}

		method := AnalyzedMethod{
			Name:       name,
			Line:       i + 1,
			HTTPMethod: pendingVerb,
			HTTPPath:   pendingPath,
		}
		if route, ok := expressRoutes[name]; ok && method.HTTPMethod == "" {
			method.HTTPMethod = route[0]
			method.HTTPPath = route[1]
		}
		for _, pm := range tsParamTypeRegex.FindAllStringSubmatch(params, -1) {
			method.ParameterTypeNames = append(method.ParameterTypeNames, pm[1])
		}
		result.Methods = append(result.Methods, method)
		pendingVerb, pendingPath = "", ""
	}
}

// inferTSKind falls back to path and content conventions.
func inferTSKind(relPath, source string) graph.Kind {
	lowered := strings.ToLower(relPath)
	switch {
	case strings.Contains(lowered, "controller"), strings.Contains(lowered, "routes"):
		return graph.KindController
	case strings.Contains(lowered, "service"):
		return graph.KindService
	case strings.Contains(lowered, "repositor"), strings.Contains(lowered, "dao"):
		return graph.KindRepository
	case strings.Contains(lowered, "dto"), strings.Contains(lowered, "schema"):
		return graph.KindDTO
	case strings.Contains(lowered, "entit"), strings.Contains(lowered, "model"):
		return graph.KindEntity
	case strings.Contains(lowered, "config"):
		return graph.KindConfiguration
	case strings.Contains(lowered, "listener"), strings.Contains(lowered, "consumer"):
		return graph.KindListener
	case strings.Contains(lowered, "exception"), strings.Contains(lowered, "error"):
		return graph.KindException
	case strings.Contains(lowered, "util"), strings.Contains(lowered, "helper"):
		return graph.KindUtility
	}
	if nestEntityRegex.MatchString(source) {
		return graph.KindEntity
	}
	if nestInjectableRegex.MatchString(source) {
		return graph.KindService
	}
	return graph.KindOther
}
