package parsers

import (
	"path"
	"regexp"
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// PythonParser parses Python source code with a line-based approach.
//
// Flask/FastAPI routing decorators drive endpoint extraction and
// entry-point detection.
type PythonParser struct {
	importRegex    *regexp.Regexp
	fromRegex      *regexp.Regexp
	defRegex       *regexp.Regexp
	verbRegex      *regexp.Regexp
	routeRegex     *regexp.Regexp
	raiseRegex     *regexp.Regexp
	paramTypeRegex *regexp.Regexp
}

// NewPythonParser creates a new Python parser.
func NewPythonParser() *PythonParser {
	return &PythonParser{
		importRegex:    regexp.MustCompile(`^import\s+([\w.]+)`),
		fromRegex:      regexp.MustCompile(`^from\s+([\w.]+|\.+[\w.]*)\s+import\s+(.+)`),
		defRegex:       regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`),
		verbRegex:      regexp.MustCompile(`^\s*@\w+\.(get|post|put|delete|patch)\(\s*["']([^"']*)`),
		routeRegex:     regexp.MustCompile(`^\s*@\w+\.route\(\s*["']([^"']*)["'](?:.*methods\s*=\s*\[([^\]]*)\])?`),
		raiseRegex:     regexp.MustCompile(`^\s*raise\s+(\w+)`),
		paramTypeRegex: regexp.MustCompile(`^\s*(\w+)\s*:\s*["']?([\w.]+)`),
	}
}

// Language returns "python".
func (p *PythonParser) Language() string {
	return "python"
}

// SourceRoot returns src when present, otherwise the repository root.
func (p *PythonParser) SourceRoot(root string) string {
	if dirExists(root, "src") {
		return "src"
	}
	return "."
}

// DiscoverFiles returns all production .py files under the source root.
func (p *PythonParser) DiscoverFiles(root string) ([]string, error) {
	return discoverFiles(root, p.SourceRoot(root), walkOptions{
		extensions: []string{".py"},
		skipFile: func(relPath string) bool {
			base := path.Base(relPath)
			if base == "setup.py" || base == "conftest.py" {
				return true
			}
			if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
				return true
			}
			for _, part := range strings.Split(relPath, "/") {
				if part == "tests" || part == "test" {
					return true
				}
			}
			return false
		},
	})
}

// ExtractIdentifier maps src/services/order_service.py to
// services.order_service; a package's __init__.py maps to the package
// identifier itself.
func (p *PythonParser) ExtractIdentifier(file, sourceRoot string) string {
	id := identifierFromPath(file, sourceRoot, ".py")
	id = strings.TrimSuffix(id, ".__init__")
	if id == "__init__" {
		return "index"
	}
	return id
}

// ExtractDependencies resolves absolute and relative imports against
// known identifiers.
func (p *PythonParser) ExtractDependencies(root, file string, known IdentifierSet) (IdentifierSet, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}

	self := p.ExtractIdentifier(file, p.SourceRoot(root))
	deps := make(IdentifierSet)

	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)

		if m := p.fromRegex.FindStringSubmatch(trimmed); m != nil {
			module := p.resolveModule(m[1], self)
			if module == "" {
				continue
			}
			// `from a.b import c` may import the module a.b.c or a
			// symbol defined in a.b; try the deeper module first.
			for _, symbol := range splitImportList(m[2]) {
				if candidate := module + "." + symbol; known[candidate] && candidate != self {
					deps[candidate] = true
				}
			}
			if known[module] && module != self {
				deps[module] = true
			}
			continue
		}

		if m := p.importRegex.FindStringSubmatch(trimmed); m != nil {
			if known[m[1]] && m[1] != self {
				deps[m[1]] = true
			}
		}
	}

	return deps, nil
}

// resolveModule turns a possibly-relative import module into an absolute
// identifier, given the importing module's identifier.
func (p *PythonParser) resolveModule(module, self string) string {
	if !strings.HasPrefix(module, ".") {
		return module
	}

	dots := 0
	for dots < len(module) && module[dots] == '.' {
		dots++
	}
	rest := module[dots:]

	parts := strings.Split(self, ".")
	// One dot addresses the current package; each extra dot pops one.
	drop := dots // the module's own segment plus dots-1 packages
	if drop > len(parts) {
		return ""
	}
	base := parts[:len(parts)-drop]

	if rest == "" {
		return strings.Join(base, ".")
	}
	if len(base) == 0 {
		return rest
	}
	return strings.Join(base, ".") + "." + rest
}

// IsEntryPoint reports whether the module registers HTTP routes or is a
// script entry.
func (p *PythonParser) IsEntryPoint(root, file string) bool {
	content, err := readSource(root, file)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(content), "\n") {
		if p.verbRegex.MatchString(line) || p.routeRegex.MatchString(line) {
			return true
		}
		if strings.HasPrefix(strings.TrimSpace(line), `if __name__ ==`) {
			return true
		}
	}
	return false
}

// InferClassType classifies the module by naming convention, falling
// back to routing presence.
func (p *PythonParser) InferClassType(root, file string) graph.Kind {
	name := strings.TrimSuffix(path.Base(file), ".py")
	lowered := strings.ToLower(name)

	switch {
	case strings.Contains(lowered, "controller"), strings.Contains(lowered, "views"),
		strings.Contains(lowered, "routes"), strings.Contains(lowered, "router"),
		strings.Contains(lowered, "endpoints"):
		return graph.KindController
	case strings.Contains(lowered, "service"):
		return graph.KindService
	case strings.Contains(lowered, "repository"), strings.Contains(lowered, "repo"),
		strings.Contains(lowered, "dao"):
		return graph.KindRepository
	case strings.Contains(lowered, "schema"), strings.Contains(lowered, "dto"):
		return graph.KindDTO
	case strings.Contains(lowered, "model"), strings.Contains(lowered, "entit"):
		return graph.KindEntity
	case strings.Contains(lowered, "config"), strings.Contains(lowered, "settings"):
		return graph.KindConfiguration
	case strings.Contains(lowered, "listener"), strings.Contains(lowered, "consumer"),
		strings.Contains(lowered, "worker"):
		return graph.KindListener
	case strings.Contains(lowered, "exception"), strings.Contains(lowered, "errors"):
		return graph.KindException
	case strings.Contains(lowered, "util"), strings.Contains(lowered, "helper"):
		return graph.KindUtility
	}
	if p.IsEntryPoint(root, file) {
		return graph.KindController
	}
	return graph.KindOther
}

// ExtractMethods scans def statements, pairing each with a routing
// decorator immediately above it and with raise statements in its body.
func (p *PythonParser) ExtractMethods(root, file string) ([]StaticMethodInfo, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")

	var methods []StaticMethodInfo
	var pendingVerb, pendingPath string
	current := -1
	currentIndent := 0

	for i, line := range lines {
		if m := p.verbRegex.FindStringSubmatch(line); m != nil {
			pendingVerb = strings.ToUpper(m[1])
			pendingPath = m[2]
			continue
		}
		if m := p.routeRegex.FindStringSubmatch(line); m != nil {
			pendingVerb = firstRouteMethod(m[2])
			pendingPath = m[1]
			continue
		}

		if m := p.defRegex.FindStringSubmatch(line); m != nil {
			if strings.HasPrefix(m[2], "__") && m[2] != "__init__" {
				pendingVerb, pendingPath = "", ""
				continue
			}
			methods = append(methods, StaticMethodInfo{
				Name:       m[2],
				Line:       i + 1,
				HTTPMethod: pendingVerb,
				HTTPPath:   pendingPath,
			})
			current = len(methods) - 1
			currentIndent = len(m[1])
			pendingVerb, pendingPath = "", ""
			continue
		}

		if current >= 0 {
			trimmed := strings.TrimSpace(line)
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent <= currentIndent && !strings.HasPrefix(trimmed, "@") {
				current = -1 // dedented out of the method body
				continue
			}
			if m := p.raiseRegex.FindStringSubmatch(line); m != nil && m[1] != "NotImplementedError" {
				methods[current].Exceptions = appendUnique(methods[current].Exceptions, m[1])
			}
		}
	}

	return methods, nil
}

// ExtractMethodParameters resolves parameter type annotations against
// known identifiers by normalized simple name (CamelCase annotation vs
// snake_case module).
func (p *PythonParser) ExtractMethodParameters(root, file string, known IdentifierSet) (map[string][]string, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")

	self := p.ExtractIdentifier(file, p.SourceRoot(root))
	bySimpleName := make(map[string]string)
	for id := range known {
		if id == self {
			continue
		}
		simple := id[strings.LastIndex(id, ".")+1:]
		bySimpleName[normalizeTypeName(simple)] = id
	}

	result := make(map[string][]string)
	for i, line := range lines {
		m := p.defRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		declaration := collectDeclaration(lines, i)
		var resolved []string
		for _, param := range parameterList(declaration) {
			tm := p.paramTypeRegex.FindStringSubmatch(param)
			if tm == nil {
				continue
			}
			typeName := tm[2]
			if idx := strings.LastIndex(typeName, "."); idx >= 0 {
				typeName = typeName[idx+1:]
			}
			if target, ok := bySimpleName[normalizeTypeName(typeName)]; ok {
				resolved = append(resolved, target)
			}
		}
		if len(resolved) > 0 {
			result[m[2]] = resolved
		}
	}
	return result, nil
}

// normalizeTypeName lowers a name and strips underscores so that
// OrderService and order_service compare equal.
func normalizeTypeName(name string) string {
	lowered := strings.ToLower(name)
	lowered = strings.ReplaceAll(lowered, "_", "")
	return strings.ReplaceAll(lowered, "-", "")
}

// splitImportList splits "a, b as c" into base symbol names.
func splitImportList(list string) []string {
	list = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(list), "("), ")")
	var symbols []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if idx := strings.Index(part, " as "); idx >= 0 {
			part = strings.TrimSpace(part[:idx])
		}
		if part != "" && part != "*" {
			symbols = append(symbols, part)
		}
	}
	return symbols
}

// firstRouteMethod picks the verb from a Flask methods=[...] list,
// defaulting to GET.
func firstRouteMethod(methods string) string {
	for _, part := range strings.Split(methods, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			return strings.ToUpper(part)
		}
	}
	return "GET"
}
