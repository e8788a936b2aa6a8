package parsers

import (
	"path"
	"regexp"
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// javaSourceRoot is the conventional Maven/Gradle layout root.
const javaSourceRoot = "src/main/java"

// JavaParser parses Java source code with a line-based approach.
//
// It targets Spring-style projects: stereotype annotations drive kind
// inference and entry-point detection, request-mapping annotations drive
// endpoint extraction.
type JavaParser struct {
	importRegex  *regexp.Regexp
	packageRegex *regexp.Regexp
	methodRegex  *regexp.Regexp
	mappingRegex *regexp.Regexp
	throwRegex   *regexp.Regexp
	classRegex   *regexp.Regexp
}

// NewJavaParser creates a new Java parser.
func NewJavaParser() *JavaParser {
	return &JavaParser{
		importRegex:  regexp.MustCompile(`^import\s+(?:static\s+)?([\w.]+)\s*;`),
		packageRegex: regexp.MustCompile(`^package\s+([\w.]+)\s*;`),
		// The return type group is optional so constructors match too.
		methodRegex:  regexp.MustCompile(`^\s*(?:public|protected|private)\s+(?:static\s+|final\s+|synchronized\s+|abstract\s+)*(?:[\w.<>\[\],?\s]+?\s+)?(\w+)\s*\(`),
		mappingRegex: regexp.MustCompile(`^\s*@(Get|Post|Put|Delete|Patch|Request)Mapping\s*(?:\(([^)]*)\))?`),
		throwRegex:   regexp.MustCompile(`throw\s+new\s+(\w+)`),
		classRegex:   regexp.MustCompile(`^\s*(?:public\s+|final\s+|abstract\s+)*(?:class|interface|enum|record)\s+(\w+)`),
	}
}

// Language returns "java".
func (p *JavaParser) Language() string {
	return "java"
}

// SourceRoot returns src/main/java when the repository follows the Maven
// layout, otherwise the repository root.
func (p *JavaParser) SourceRoot(root string) string {
	if dirExists(root, javaSourceRoot) {
		return javaSourceRoot
	}
	return "."
}

// DiscoverFiles returns all production .java files under the source root.
func (p *JavaParser) DiscoverFiles(root string) ([]string, error) {
	return discoverFiles(root, p.SourceRoot(root), walkOptions{
		extensions: []string{".java"},
		skipFile: func(relPath string) bool {
			base := path.Base(relPath)
			if base == "package-info.java" || base == "module-info.java" {
				return true
			}
			if strings.Contains(relPath, "src/test/") {
				return true
			}
			name := strings.TrimSuffix(base, ".java")
			return strings.HasSuffix(name, "Test") || strings.HasSuffix(name, "Tests") || strings.HasSuffix(name, "IT")
		},
	})
}

// ExtractIdentifier maps src/main/java/com/shop/OrderService.java to
// com.shop.OrderService.
func (p *JavaParser) ExtractIdentifier(file, sourceRoot string) string {
	return identifierFromPath(file, sourceRoot, ".java")
}

// ExtractDependencies resolves import statements and same-package simple
// name references against known identifiers.
func (p *JavaParser) ExtractDependencies(root, file string, known IdentifierSet) (IdentifierSet, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}

	source := stripJavaComments(string(content))
	self := p.ExtractIdentifier(file, p.SourceRoot(root))
	deps := make(IdentifierSet)

	var pkg string
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := p.packageRegex.FindStringSubmatch(trimmed); m != nil {
			pkg = m[1]
			continue
		}
		if m := p.importRegex.FindStringSubmatch(trimmed); m != nil {
			imported := m[1]
			// `import static a.b.C.member` resolves to the class a.b.C.
			if known[imported] && imported != self {
				deps[imported] = true
			} else if idx := strings.LastIndex(imported, "."); idx > 0 && known[imported[:idx]] && imported[:idx] != self {
				deps[imported[:idx]] = true
			}
		}
	}

	// Same-package classes are visible without an import.
	if pkg != "" {
		for id := range known {
			if id == self || !strings.HasPrefix(id, pkg+".") {
				continue
			}
			simple := id[strings.LastIndex(id, ".")+1:]
			if strings.Contains(simple, ".") {
				continue // nested package, not a sibling class
			}
			if containsWord(source, simple) {
				deps[id] = true
			}
		}
	}

	return deps, nil
}

// Annotations that make a unit externally invoked.
var javaEntryPointAnnotations = []string{
	"@RestController",
	"@Controller",
	"@KafkaListener",
	"@RabbitListener",
	"@EventListener",
	"@Scheduled",
}

// IsEntryPoint reports whether the class carries a controller or listener
// annotation.
func (p *JavaParser) IsEntryPoint(root, file string) bool {
	content, err := readSource(root, file)
	if err != nil {
		return false
	}
	source := stripJavaComments(string(content))
	for _, annotation := range javaEntryPointAnnotations {
		if containsAnnotation(source, annotation) {
			return true
		}
	}
	return false
}

// InferClassType classifies the unit by stereotype annotation first, then
// by naming convention.
func (p *JavaParser) InferClassType(root, file string) graph.Kind {
	content, err := readSource(root, file)
	if err != nil {
		return graph.KindOther
	}
	source := stripJavaComments(string(content))

	switch {
	case containsAnnotation(source, "@RestController"), containsAnnotation(source, "@Controller"):
		return graph.KindController
	case containsAnnotation(source, "@Service"):
		return graph.KindService
	case containsAnnotation(source, "@Repository"), strings.Contains(source, "extends JpaRepository"), strings.Contains(source, "extends CrudRepository"):
		return graph.KindRepository
	case containsAnnotation(source, "@Entity"), containsAnnotation(source, "@Table"), containsAnnotation(source, "@Document"):
		return graph.KindEntity
	case containsAnnotation(source, "@Configuration"), containsAnnotation(source, "@ConfigurationProperties"):
		return graph.KindConfiguration
	case containsAnnotation(source, "@KafkaListener"), containsAnnotation(source, "@RabbitListener"), containsAnnotation(source, "@EventListener"):
		return graph.KindListener
	}

	name := strings.TrimSuffix(path.Base(file), ".java")
	switch {
	case strings.HasSuffix(name, "Exception"):
		return graph.KindException
	case strings.HasSuffix(name, "Dto"), strings.HasSuffix(name, "DTO"),
		strings.HasSuffix(name, "Request"), strings.HasSuffix(name, "Response"):
		return graph.KindDTO
	case strings.HasSuffix(name, "Util"), strings.HasSuffix(name, "Utils"), strings.HasSuffix(name, "Helper"):
		return graph.KindUtility
	case strings.HasSuffix(name, "Controller"):
		return graph.KindController
	case strings.HasSuffix(name, "Service"):
		return graph.KindService
	case strings.HasSuffix(name, "Repository"):
		return graph.KindRepository
	}
	return graph.KindOther
}

// ExtractMethods scans declarations line by line, pairing each with any
// request-mapping annotation immediately above it and with throw sites in
// the following body.
func (p *JavaParser) ExtractMethods(root, file string) ([]StaticMethodInfo, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	source := stripJavaComments(string(content))
	lines := strings.Split(source, "\n")

	var methods []StaticMethodInfo
	var pendingHTTPMethod, pendingHTTPPath string
	basePath := p.classRequestMappingPath(lines)
	current := -1 // index into methods for throw attribution

	for i, line := range lines {
		if m := p.mappingRegex.FindStringSubmatch(line); m != nil {
			// Class-level @RequestMapping was already consumed as the
			// base path; only attach mappings that precede a method.
			if m[1] == "Request" && !p.looksLikeMethodMapping(lines, i) {
				continue
			}
			pendingHTTPMethod = mappingVerb(m[1], m[2])
			pendingHTTPPath = joinRoutes(basePath, mappingPath(m[2]))
			continue
		}

		if m := p.methodRegex.FindStringSubmatch(line); m != nil {
			name := m[1]
			if isJavaKeyword(name) || p.classRegex.MatchString(line) {
				continue
			}
			method := StaticMethodInfo{
				Name:       name,
				Line:       i + 1,
				HTTPMethod: pendingHTTPMethod,
				HTTPPath:   pendingHTTPPath,
			}
			declaration := collectDeclaration(lines, i)
			method.Exceptions = appendUnique(method.Exceptions, throwsClauseTypes(declaration)...)
			methods = append(methods, method)
			current = len(methods) - 1
			pendingHTTPMethod, pendingHTTPPath = "", ""
			continue
		}

		if current >= 0 {
			for _, m := range p.throwRegex.FindAllStringSubmatch(line, -1) {
				methods[current].Exceptions = appendUnique(methods[current].Exceptions, m[1])
			}
		}
	}

	return methods, nil
}

// ExtractMethodParameters resolves each declared parameter type against
// known identifiers via the file's imports and package.
func (p *JavaParser) ExtractMethodParameters(root, file string, known IdentifierSet) (map[string][]string, error) {
	content, err := readSource(root, file)
	if err != nil {
		return nil, err
	}
	source := stripJavaComments(string(content))
	lines := strings.Split(source, "\n")

	simpleNames := p.visibleSimpleNames(source, known)
	result := make(map[string][]string)

	for i, line := range lines {
		m := p.methodRegex.FindStringSubmatch(line)
		if m == nil || isJavaKeyword(m[1]) || p.classRegex.MatchString(line) {
			continue
		}
		declaration := collectDeclaration(lines, i)
		params := parameterList(declaration)

		var resolved []string
		for _, param := range params {
			typeName := javaParameterType(param)
			if target, ok := simpleNames[typeName]; ok {
				resolved = append(resolved, target)
			}
		}
		if len(resolved) > 0 {
			result[m[1]] = resolved
		}
	}
	return result, nil
}

// visibleSimpleNames maps a simple class name to its identifier for every
// known identifier visible to this file (imported or same package).
func (p *JavaParser) visibleSimpleNames(source string, known IdentifierSet) map[string]string {
	visible := make(map[string]string)

	var pkg string
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := p.packageRegex.FindStringSubmatch(trimmed); m != nil {
			pkg = m[1]
		}
		if m := p.importRegex.FindStringSubmatch(trimmed); m != nil && known[m[1]] {
			visible[m[1][strings.LastIndex(m[1], ".")+1:]] = m[1]
		}
	}
	if pkg != "" {
		for id := range known {
			if strings.HasPrefix(id, pkg+".") {
				simple := id[strings.LastIndex(id, ".")+1:]
				if _, taken := visible[simple]; !taken {
					visible[simple] = id
				}
			}
		}
	}
	return visible
}

// classRequestMappingPath returns the class-level @RequestMapping path,
// if any.
func (p *JavaParser) classRequestMappingPath(lines []string) string {
	for i, line := range lines {
		m := p.mappingRegex.FindStringSubmatch(line)
		if m == nil || m[1] != "Request" {
			continue
		}
		if !p.looksLikeMethodMapping(lines, i) {
			return mappingPath(m[2])
		}
	}
	return ""
}

// looksLikeMethodMapping reports whether the mapping annotation at index
// idx precedes a method declaration rather than the class declaration.
func (p *JavaParser) looksLikeMethodMapping(lines []string, idx int) bool {
	for j := idx + 1; j < len(lines) && j <= idx+4; j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" || strings.HasPrefix(trimmed, "@") {
			continue
		}
		return p.methodRegex.MatchString(lines[j]) && !p.classRegex.MatchString(lines[j])
	}
	return false
}

var javaKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "new": true, "super": true, "this": true,
}

func isJavaKeyword(word string) bool {
	return javaKeywords[word]
}

// mappingVerb maps a mapping annotation name (and its arguments, for
// @RequestMapping) to an HTTP verb.
func mappingVerb(kind, args string) string {
	switch kind {
	case "Get":
		return "GET"
	case "Post":
		return "POST"
	case "Put":
		return "PUT"
	case "Delete":
		return "DELETE"
	case "Patch":
		return "PATCH"
	}
	// @RequestMapping(method = RequestMethod.POST)
	if m := requestMethodRegex.FindStringSubmatch(args); m != nil {
		return strings.ToUpper(m[1])
	}
	return "GET"
}

var requestMethodRegex = regexp.MustCompile(`RequestMethod\.(\w+)`)

var mappingPathRegex = regexp.MustCompile(`"([^"]*)"`)

// mappingPath extracts the first quoted path from annotation arguments.
func mappingPath(args string) string {
	if m := mappingPathRegex.FindStringSubmatch(args); m != nil {
		return m[1]
	}
	return ""
}

func joinRoutes(base, sub string) string {
	base = strings.TrimSuffix(base, "/")
	if sub == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}
	return base + sub
}

var throwsRegex = regexp.MustCompile(`\)\s*throws\s+([\w.,\s]+)`)

// throwsClauseTypes extracts exception simple names from the throws
// clause of a declaration.
func throwsClauseTypes(declaration string) []string {
	m := throwsRegex.FindStringSubmatch(declaration)
	if m == nil {
		return nil
	}
	var types []string
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimSuffix(part, "{")
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.LastIndex(part, "."); idx >= 0 {
			part = part[idx+1:]
		}
		types = append(types, part)
	}
	return types
}

// collectDeclaration joins a declaration spanning multiple lines until
// its parameter list closes.
func collectDeclaration(lines []string, start int) string {
	var b strings.Builder
	depth := 0
	seenParen := false
	for i := start; i < len(lines) && i < start+12; i++ {
		b.WriteString(lines[i])
		b.WriteString(" ")
		if strings.Contains(lines[i], "(") {
			seenParen = true
		}
		depth += strings.Count(lines[i], "(") - strings.Count(lines[i], ")")
		if seenParen && depth <= 0 {
			break
		}
	}
	return b.String()
}

// parameterList splits the declaration's parameter list on top-level
// commas, respecting generic angle brackets.
func parameterList(declaration string) []string {
	open := strings.Index(declaration, "(")
	if open < 0 {
		return nil
	}
	closing := matchingParen(declaration, open)
	if closing < 0 {
		return nil
	}
	inner := declaration[open+1 : closing]
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	var params []string
	depth := 0
	last := 0
	for i, r := range inner {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(inner[last:i]))
				last = i + 1
			}
		}
	}
	params = append(params, strings.TrimSpace(inner[last:]))
	return params
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// javaParameterType returns the simple type name of a parameter
// declaration like "@RequestBody OrderDto dto" or "List<Order> orders".
func javaParameterType(param string) string {
	fields := strings.Fields(param)
	var typeToken string
	for _, field := range fields {
		if strings.HasPrefix(field, "@") {
			continue
		}
		if field == "final" {
			continue
		}
		typeToken = field
		break
	}
	if idx := strings.Index(typeToken, "<"); idx >= 0 {
		typeToken = typeToken[:idx]
	}
	if idx := strings.LastIndex(typeToken, "."); idx >= 0 {
		typeToken = typeToken[idx+1:]
	}
	return typeToken
}

// stripJavaComments removes // line comments and /* */ block comments.
func stripJavaComments(source string) string {
	var b strings.Builder
	b.Grow(len(source))
	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		if inBlock {
			if idx := strings.Index(line, "*/"); idx >= 0 {
				line = line[idx+2:]
				inBlock = false
			} else {
				b.WriteString("\n")
				continue
			}
		}
		for {
			blockIdx := strings.Index(line, "/*")
			lineIdx := strings.Index(line, "//")
			if lineIdx >= 0 && (blockIdx < 0 || lineIdx < blockIdx) {
				line = line[:lineIdx]
				break
			}
			if blockIdx < 0 {
				break
			}
			if end := strings.Index(line[blockIdx:], "*/"); end >= 0 {
				line = line[:blockIdx] + line[blockIdx+end+2:]
				continue
			}
			line = line[:blockIdx]
			inBlock = true
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// containsAnnotation matches an annotation token at a word boundary.
func containsAnnotation(source, annotation string) bool {
	idx := 0
	for {
		at := strings.Index(source[idx:], annotation)
		if at < 0 {
			return false
		}
		at += idx
		end := at + len(annotation)
		if end >= len(source) || !isIdentChar(source[end]) {
			return true
		}
		idx = end
	}
}

// containsWord reports whether word occurs in source delimited by
// non-identifier characters.
func containsWord(source, word string) bool {
	idx := 0
	for {
		at := strings.Index(source[idx:], word)
		if at < 0 {
			return false
		}
		at += idx
		end := at + len(word)
		beforeOK := at == 0 || !isIdentChar(source[at-1])
		afterOK := end >= len(source) || !isIdentChar(source[end])
		if beforeOK && afterOK {
			return true
		}
		idx = at + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, existing := range list {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, item)
		}
	}
	return list
}
