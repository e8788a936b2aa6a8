package parsers

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// TypeScriptParser parses TypeScript/JavaScript source code by delegating
// per-file analysis to a FileAnalyzer collaborator.
//
// The analyzer context is acquired once per parse run (BeginRun) and
// released at the end of the run (EndRun); per-file results are memoized
// for the duration of the run so each capability reads one analysis.
type TypeScriptParser struct {
	analyzer  FileAnalyzer
	context   AnalyzerContext
	framework string
	results   map[string]*AnalysisResult
}

// NewTypeScriptParser creates a TypeScript/JavaScript parser. A nil
// analyzer selects the built-in regex analyzer.
func NewTypeScriptParser(analyzer FileAnalyzer) *TypeScriptParser {
	if analyzer == nil {
		analyzer = NewRegexAnalyzer()
	}
	return &TypeScriptParser{analyzer: analyzer}
}

// Language returns "typescript".
func (p *TypeScriptParser) Language() string {
	return "typescript"
}

// BeginRun acquires the analyzer context and detects the framework from
// package.json dependencies.
func (p *TypeScriptParser) BeginRun(root string) error {
	ctx, err := p.analyzer.AcquireContext()
	if err != nil {
		return fmt.Errorf("acquiring analyzer context: %w", err)
	}
	p.context = ctx
	p.results = make(map[string]*AnalysisResult)
	p.framework = detectNodeFramework(root)
	return nil
}

// EndRun releases the analyzer context. Safe to call when BeginRun was
// never called or already ended.
func (p *TypeScriptParser) EndRun() {
	if p.context != nil {
		_ = p.context.Close()
		p.context = nil
	}
	p.results = nil
}

// SourceRoot returns src when present, otherwise the repository root.
func (p *TypeScriptParser) SourceRoot(root string) string {
	if dirExists(root, "src") {
		return "src"
	}
	return "."
}

// DiscoverFiles returns all production .ts/.tsx/.js/.jsx files under the
// source root, excluding tests and declaration-only files.
func (p *TypeScriptParser) DiscoverFiles(root string) ([]string, error) {
	return discoverFiles(root, p.SourceRoot(root), walkOptions{
		extensions: []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"},
		skipFile: func(relPath string) bool {
			base := path.Base(relPath)
			if strings.HasSuffix(base, ".d.ts") {
				return true
			}
			if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
				return true
			}
			for _, part := range strings.Split(relPath, "/") {
				if part == "__tests__" || part == "test" || part == "tests" {
					return true
				}
			}
			return false
		},
	})
}

// ExtractIdentifier maps src/services/order/index.ts to
// services.order.index.
func (p *TypeScriptParser) ExtractIdentifier(file, sourceRoot string) string {
	return identifierFromPath(file, sourceRoot, path.Ext(file))
}

// ExtractDependencies resolves relative import specifiers against known
// identifiers. A specifier naming a directory module resolves to its
// .index identifier. Bare (package) specifiers are dropped.
func (p *TypeScriptParser) ExtractDependencies(root, file string, known IdentifierSet) (IdentifierSet, error) {
	result, err := p.analyze(root, file)
	if err != nil {
		return nil, err
	}

	self := p.ExtractIdentifier(file, p.SourceRoot(root))
	selfDir := ""
	if idx := strings.LastIndex(self, "."); idx >= 0 {
		selfDir = self[:idx]
	}

	deps := make(IdentifierSet)
	for _, imp := range result.RawImports {
		spec := imp.SourceSpecifier
		if !strings.HasPrefix(spec, ".") {
			continue // package import
		}
		candidate := resolveRelativeSpecifier(selfDir, spec)
		if candidate == "" {
			continue
		}
		switch {
		case known[candidate] && candidate != self:
			deps[candidate] = true
		case known[candidate+".index"] && candidate+".index" != self:
			deps[candidate+".index"] = true
		}
	}
	return deps, nil
}

// IsEntryPoint reports whether the file registers routes or handles
// events, per the analyzer.
func (p *TypeScriptParser) IsEntryPoint(root, file string) bool {
	result, err := p.analyze(root, file)
	if err != nil {
		return false
	}
	return result.IsEntryPoint
}

// InferClassType returns the analyzer's kind classification.
func (p *TypeScriptParser) InferClassType(root, file string) graph.Kind {
	result, err := p.analyze(root, file)
	if err != nil {
		return graph.KindOther
	}
	return result.Kind
}

// ExtractMethods converts analyzed methods and scans throw sites.
func (p *TypeScriptParser) ExtractMethods(root, file string) ([]StaticMethodInfo, error) {
	result, err := p.analyze(root, file)
	if err != nil {
		return nil, err
	}

	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	thrown := collectThrownTypes(string(content), result.Methods)

	methods := make([]StaticMethodInfo, 0, len(result.Methods))
	for _, m := range result.Methods {
		methods = append(methods, StaticMethodInfo{
			Name:       m.Name,
			Line:       m.Line,
			HTTPMethod: m.HTTPMethod,
			HTTPPath:   m.HTTPPath,
			Exceptions: thrown[m.Name],
		})
	}
	return methods, nil
}

// ExtractMethodParameters matches analyzed parameter type names against
// known identifiers by simple name.
func (p *TypeScriptParser) ExtractMethodParameters(root, file string, known IdentifierSet) (map[string][]string, error) {
	result, err := p.analyze(root, file)
	if err != nil {
		return nil, err
	}

	self := p.ExtractIdentifier(file, p.SourceRoot(root))
	bySimpleName := make(map[string]string)
	for id := range known {
		if id == self {
			continue
		}
		segments := strings.Split(id, ".")
		simple := segments[len(segments)-1]
		if simple == "index" && len(segments) > 1 {
			simple = segments[len(segments)-2]
		}
		bySimpleName[normalizeTypeName(simple)] = id
		// Dotted file names like orders.service.ts split into two
		// identifier segments; the type OrdersService spans both.
		if len(segments) > 1 && simple != "index" {
			joined := segments[len(segments)-2] + segments[len(segments)-1]
			bySimpleName[normalizeTypeName(joined)] = id
		}
	}

	out := make(map[string][]string)
	for _, m := range result.Methods {
		var resolved []string
		for _, typeName := range m.ParameterTypeNames {
			if target, ok := bySimpleName[normalizeTypeName(typeName)]; ok {
				resolved = append(resolved, target)
			}
		}
		if len(resolved) > 0 {
			out[m.Name] = resolved
		}
	}
	return out, nil
}

// analyze returns the memoized analysis for the file, running the
// analyzer on first access. Works without BeginRun by acquiring a
// throwaway context, so individual capabilities stay pure.
func (p *TypeScriptParser) analyze(root, file string) (*AnalysisResult, error) {
	if p.results != nil {
		if cached, ok := p.results[file]; ok {
			return cached, nil
		}
	}

	ctx := p.context
	if ctx == nil {
		acquired, err := p.analyzer.AcquireContext()
		if err != nil {
			return nil, err
		}
		defer func() { _ = acquired.Close() }()
		ctx = acquired
	}

	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	result, err := ctx.AnalyzeFile(AnalysisRequest{
		FileContent:           string(content),
		RelativePath:          file,
		DetectedFrameworkName: p.framework,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", file, err)
	}

	if p.results != nil {
		p.results[file] = result
	}
	return result, nil
}

// resolveRelativeSpecifier resolves "./x" or "../y/z" against the
// importing module's package, returning a dot identifier without
// extension.
func resolveRelativeSpecifier(selfDir, spec string) string {
	segments := []string{}
	if selfDir != "" {
		segments = strings.Split(selfDir, ".")
	}
	for _, part := range strings.Split(spec, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return ""
			}
			segments = segments[:len(segments)-1]
		default:
			// Strip only real source extensions: "./orders.service"
			// names the file orders.service.ts, not an extension.
			for _, ext := range []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"} {
				if strings.HasSuffix(part, ext) {
					part = part[:len(part)-len(ext)]
					break
				}
			}
			segments = append(segments, part)
		}
	}
	if len(segments) == 0 {
		return ""
	}
	return strings.Join(segments, ".")
}

// collectThrownTypes attributes `throw new X` sites to the method whose
// declaration precedes them.
func collectThrownTypes(source string, methods []AnalyzedMethod) map[string][]string {
	if len(methods) == 0 {
		return nil
	}
	thrown := make(map[string][]string)
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		m := tsThrowRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		owner := ""
		for _, method := range methods {
			if method.Line <= i+1 {
				owner = method.Name
			}
		}
		if owner != "" {
			thrown[owner] = appendUnique(thrown[owner], m[1])
		}
	}
	return thrown
}

// detectNodeFramework inspects package.json dependencies.
func detectNodeFramework(root string) string {
	content, err := readSource(root, "package.json")
	if err != nil {
		return ""
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(content, &manifest); err != nil {
		return ""
	}
	has := func(name string) bool {
		_, a := manifest.Dependencies[name]
		_, b := manifest.DevDependencies[name]
		return a || b
	}
	switch {
	case has("@nestjs/core"):
		return "nestjs"
	case has("express"):
		return "express"
	case has("fastify"):
		return "fastify"
	}
	return ""
}
