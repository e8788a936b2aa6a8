// Package parsers provides per-language static source parsers for Atlas.
//
// Each parser implements the SourceParser capability set over one language
// family (class-oriented Java, module-oriented Python and TypeScript/
// JavaScript, package-oriented Go). Parsers are pure with respect to
// persisted data: they consume only the filesystem, and all cross-file
// resolution happens in the builder against the set of identifiers
// discovered in the same pass.
package parsers

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// StaticMethodInfo is one method as extracted by static parsing.
type StaticMethodInfo struct {
	// Name is the method name.
	Name string

	// Line is the 1-based line of the declaration.
	Line int

	// HTTPMethod is the HTTP verb when the method serves a route, empty
	// otherwise.
	HTTPMethod string

	// HTTPPath is the route path when the method serves a route.
	HTTPPath string

	// Exceptions are the exception/error type names the method raises.
	Exceptions []string
}

// IdentifierSet is a set of known unit identifiers.
type IdentifierSet map[string]bool

// SourceParser is the per-language parsing capability set.
//
// File arguments are paths relative to the repository root, as returned by
// DiscoverFiles. Every method is pure given the filesystem.
type SourceParser interface {
	// Language returns the language name ("java", "python", ...).
	Language() string

	// SourceRoot returns the detected source root relative to the
	// repository root ("." when the repository root itself is the root).
	SourceRoot(root string) string

	// DiscoverFiles walks the tree under the source root and returns the
	// ordered list of parsable files, excluding build output, vendored
	// code, tests, declaration-only files, and files above the size
	// ceiling.
	DiscoverFiles(root string) ([]string, error)

	// ExtractIdentifier maps a file path to its dot-separated identifier:
	// the path relative to the source root with the extension stripped
	// and separators replaced by '.'.
	ExtractIdentifier(file, sourceRoot string) string

	// ExtractDependencies resolves the file's internal references against
	// known and returns the matching identifiers. External/library
	// references are dropped silently.
	ExtractDependencies(root, file string, known IdentifierSet) (IdentifierSet, error)

	// IsEntryPoint reports whether the unit is externally invoked.
	IsEntryPoint(root, file string) bool

	// InferClassType classifies the unit from static signals.
	InferClassType(root, file string) graph.Kind

	// ExtractMethods returns the unit's methods with line numbers, HTTP
	// routes and raised exceptions.
	ExtractMethods(root, file string) ([]StaticMethodInfo, error)

	// ExtractMethodParameters returns, per method, the ordered
	// identifiers of parameters whose declared type resolves to a known
	// unit. Positions are assigned among resolved parameters only.
	ExtractMethodParameters(root, file string, known IdentifierSet) (map[string][]string, error)
}

// RunScoped is implemented by parsers that hold a per-run analysis
// context. The builder begins a run before the first file and ends it
// after the last, regardless of per-file failures.
type RunScoped interface {
	BeginRun(root string) error
	EndRun()
}

// ErrNoParser is returned when no language marker is found in a
// repository.
var ErrNoParser = errors.New("no supported language detected")

// Detect selects the parser variant for a repository by manifest-marker
// presence. Markers are checked in a fixed order so polyglot repositories
// resolve deterministically.
func Detect(root string) (SourceParser, error) {
	markers := []struct {
		files  []string
		parser func() SourceParser
	}{
		{[]string{"pom.xml", "build.gradle", "build.gradle.kts"}, func() SourceParser { return NewJavaParser() }},
		{[]string{"go.mod"}, func() SourceParser { return NewGoParser() }},
		{[]string{"package.json"}, func() SourceParser { return NewTypeScriptParser(nil) }},
		{[]string{"pyproject.toml", "requirements.txt", "setup.py"}, func() SourceParser { return NewPythonParser() }},
	}

	for _, marker := range markers {
		for _, name := range marker.files {
			if _, err := os.Stat(filepath.Join(root, name)); err == nil {
				return marker.parser(), nil
			}
		}
	}
	return nil, ErrNoParser
}

// identifierFromPath implements the shared path-to-identifier mapping.
func identifierFromPath(file, sourceRoot, ext string) string {
	rel := file
	if sourceRoot != "" && sourceRoot != "." {
		if r, err := filepath.Rel(sourceRoot, file); err == nil {
			rel = r
		}
	}
	rel = rel[:len(rel)-len(ext)]
	return pathToDots(rel)
}

func pathToDots(rel string) string {
	out := make([]rune, 0, len(rel))
	for _, r := range rel {
		if r == '/' || r == os.PathSeparator {
			out = append(out, '.')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
