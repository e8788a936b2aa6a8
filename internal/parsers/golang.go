package parsers

import (
	"path"
	"regexp"
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// GoParser parses Go source code with a line-based approach.
//
// Go is package-oriented: dependencies are tracked at package
// granularity, so an imported module-internal package resolves to every
// known unit directly inside the imported directory.
type GoParser struct {
	importLineRegex *regexp.Regexp
	funcRegex       *regexp.Regexp
	routeRegex      *regexp.Regexp
	errorRegex      *regexp.Regexp
}

// NewGoParser creates a new Go parser.
func NewGoParser() *GoParser {
	return &GoParser{
		importLineRegex: regexp.MustCompile(`^\s*(?:(\w+)\s+)?"([^"]+)"`),
		funcRegex:       regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)\s*\(`),
		routeRegex:      regexp.MustCompile(`\.(GET|POST|PUT|DELETE|PATCH|Get|Post|Put|Delete|Patch|HandleFunc|Handle)\(\s*"([^"]+)"\s*,\s*([\w.]+)`),
		errorRegex:      regexp.MustCompile(`\b(Err\w+|\w+Error)\b`),
	}
}

// Language returns "go".
func (p *GoParser) Language() string {
	return "go"
}

// SourceRoot is the repository root for Go modules.
func (p *GoParser) SourceRoot(root string) string {
	return "."
}

// DiscoverFiles returns all non-test .go files.
func (p *GoParser) DiscoverFiles(root string) ([]string, error) {
	return discoverFiles(root, ".", walkOptions{
		extensions: []string{".go"},
		skipFile: func(relPath string) bool {
			if strings.HasSuffix(relPath, "_test.go") {
				return true
			}
			for _, part := range strings.Split(relPath, "/") {
				if part == "testdata" {
					return true
				}
			}
			return false
		},
	})
}

// ExtractIdentifier maps internal/orders/service.go to
// internal.orders.service.
func (p *GoParser) ExtractIdentifier(file, sourceRoot string) string {
	return identifierFromPath(file, sourceRoot, ".go")
}

// ExtractDependencies resolves module-internal imports. An import of a
// package directory depends on each known unit directly in that
// directory; stdlib and external imports are ignored. Sibling units in
// the file's own package are not linked.
func (p *GoParser) ExtractDependencies(root, file string, known IdentifierSet) (IdentifierSet, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	source := string(content)

	modulePath := goModulePath(root)
	self := p.ExtractIdentifier(file, ".")
	deps := make(IdentifierSet)

	for _, spec := range goImportSpecs(source, p.importLineRegex) {
		if modulePath == "" || !strings.HasPrefix(spec, modulePath+"/") {
			continue // stdlib or external module
		}
		pkgDir := strings.TrimPrefix(spec, modulePath+"/")
		prefix := strings.ReplaceAll(pkgDir, "/", ".") + "."
		for id := range known {
			if id == self || !strings.HasPrefix(id, prefix) {
				continue
			}
			if strings.Contains(strings.TrimPrefix(id, prefix), ".") {
				continue // unit in a nested package
			}
			deps[id] = true
		}
	}
	return deps, nil
}

// IsEntryPoint reports whether the file is a main entry or registers
// HTTP handlers.
func (p *GoParser) IsEntryPoint(root, file string) bool {
	content, err := readSource(root, file)
	if err != nil {
		return false
	}
	source := string(content)
	if strings.HasPrefix(source, "package main") || strings.Contains(source, "\npackage main") {
		if strings.Contains(source, "func main(") {
			return true
		}
	}
	return p.routeRegex.MatchString(source)
}

// InferClassType classifies the unit by path and file-name conventions.
func (p *GoParser) InferClassType(root, file string) graph.Kind {
	lowered := strings.ToLower(file)
	name := strings.TrimSuffix(path.Base(lowered), ".go")

	switch {
	case strings.Contains(lowered, "handler"), strings.Contains(lowered, "controller"),
		strings.Contains(lowered, "routes"), name == "server":
		return graph.KindController
	case strings.Contains(lowered, "service"):
		return graph.KindService
	case strings.Contains(lowered, "repositor"), strings.Contains(lowered, "store"),
		strings.Contains(lowered, "storage"):
		return graph.KindRepository
	case strings.Contains(lowered, "model"), strings.Contains(lowered, "entit"),
		name == "types":
		return graph.KindEntity
	case strings.Contains(lowered, "config"):
		return graph.KindConfiguration
	case strings.Contains(lowered, "listener"), strings.Contains(lowered, "consumer"),
		strings.Contains(lowered, "worker"):
		return graph.KindListener
	case strings.Contains(lowered, "errors"):
		return graph.KindException
	case strings.Contains(lowered, "util"), strings.Contains(lowered, "helper"):
		return graph.KindUtility
	}
	return graph.KindOther
}

// ExtractMethods returns top-level functions, attaching routes from
// same-file handler registrations.
func (p *GoParser) ExtractMethods(root, file string) ([]StaticMethodInfo, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	source := string(content)
	lines := strings.Split(source, "\n")

	// handler name -> verb, path from registrations anywhere in the file.
	routes := make(map[string][2]string)
	for _, m := range p.routeRegex.FindAllStringSubmatch(source, -1) {
		verb := strings.ToUpper(m[1])
		if verb == "HANDLEFUNC" || verb == "HANDLE" {
			verb = "GET"
		}
		handler := m[3]
		if idx := strings.LastIndex(handler, "."); idx >= 0 {
			handler = handler[idx+1:]
		}
		routes[handler] = [2]string{verb, m[2]}
	}

	var methods []StaticMethodInfo
	current := -1
	for i, line := range lines {
		if m := p.funcRegex.FindStringSubmatch(line); m != nil {
			method := StaticMethodInfo{Name: m[1], Line: i + 1}
			if route, ok := routes[m[1]]; ok {
				method.HTTPMethod = route[0]
				method.HTTPPath = route[1]
			}
			methods = append(methods, method)
			current = len(methods) - 1
			continue
		}
		if current >= 0 && strings.Contains(line, "return") && strings.Contains(line, "Err") {
			for _, m := range p.errorRegex.FindAllStringSubmatch(line, -1) {
				methods[current].Exceptions = appendUnique(methods[current].Exceptions, m[1])
			}
		}
	}
	return methods, nil
}

// ExtractMethodParameters resolves parameter types of the form pkg.Type
// against known identifiers.
func (p *GoParser) ExtractMethodParameters(root, file string, known IdentifierSet) (map[string][]string, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")

	self := p.ExtractIdentifier(file, ".")
	bySimpleName := make(map[string]string)
	for id := range known {
		if id == self {
			continue
		}
		simple := id[strings.LastIndex(id, ".")+1:]
		if _, taken := bySimpleName[normalizeTypeName(simple)]; !taken {
			bySimpleName[normalizeTypeName(simple)] = id
		}
	}

	result := make(map[string][]string)
	for i, line := range lines {
		m := p.funcRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		declaration := collectDeclaration(lines, i)
		var resolved []string
		for _, param := range parameterList(declaration) {
			fields := strings.Fields(strings.TrimLeft(param, "*"))
			if len(fields) < 2 {
				continue
			}
			typeName := strings.TrimLeft(fields[len(fields)-1], "*&[]")
			if idx := strings.LastIndex(typeName, "."); idx >= 0 {
				typeName = typeName[idx+1:]
			}
			if target, ok := bySimpleName[normalizeTypeName(typeName)]; ok {
				resolved = append(resolved, target)
			}
		}
		if len(resolved) > 0 {
			result[m[1]] = resolved
		}
	}
	return result, nil
}

// goImportSpecs extracts import specifiers from single imports and
// import blocks.
func goImportSpecs(source string, lineRegex *regexp.Regexp) []string {
	var specs []string
	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && trimmed == ")":
			inBlock = false
		case inBlock:
			if m := lineRegex.FindStringSubmatch(line); m != nil {
				specs = append(specs, m[2])
			}
		case strings.HasPrefix(trimmed, "import "):
			if m := lineRegex.FindStringSubmatch(strings.TrimPrefix(trimmed, "import ")); m != nil {
				specs = append(specs, m[2])
			}
		}
	}
	return specs
}

var goModuleRegex = regexp.MustCompile(`(?m)^module\s+(\S+)`)

// goModulePath reads the module path from go.mod, or "" when absent.
func goModulePath(root string) string {
	content, err := readSource(root, "go.mod")
	if err != nil {
		return ""
	}
	if m := goModuleRegex.FindSubmatch(content); m != nil {
		return string(m[1])
	}
	return ""
}
