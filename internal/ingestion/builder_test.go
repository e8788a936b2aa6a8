package ingestion

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dev/atlas-go/internal/graph"
	"github.com/atlas-dev/atlas-go/internal/parsers"
)

// fakeParser is a scriptable SourceParser keyed by file path.
type fakeParser struct {
	files   []string
	deps    map[string][]string
	entries map[string]bool
	kinds   map[string]graph.Kind
	methods map[string][]parsers.StaticMethodInfo
	params  map[string]map[string][]string
	fail    map[string]error

	// paramFail trips only parameter extraction, after methods succeeded.
	paramFail map[string]error

	began int
	ended int
}

func newFakeParser(files ...string) *fakeParser {
	return &fakeParser{
		files:     files,
		deps:      make(map[string][]string),
		entries:   make(map[string]bool),
		kinds:     make(map[string]graph.Kind),
		methods:   make(map[string][]parsers.StaticMethodInfo),
		params:    make(map[string]map[string][]string),
		fail:      make(map[string]error),
		paramFail: make(map[string]error),
	}
}

func (p *fakeParser) Language() string              { return "fake" }
func (p *fakeParser) SourceRoot(root string) string { return "." }

func (p *fakeParser) BeginRun(root string) error { p.began++; return nil }
func (p *fakeParser) EndRun()                    { p.ended++ }

func (p *fakeParser) DiscoverFiles(root string) ([]string, error) {
	return append([]string(nil), p.files...), nil
}

func (p *fakeParser) ExtractIdentifier(file, sourceRoot string) string {
	trimmed := strings.TrimSuffix(file, path.Ext(file))
	return strings.ReplaceAll(trimmed, "/", ".")
}

func (p *fakeParser) ExtractDependencies(root, file string, known parsers.IdentifierSet) (parsers.IdentifierSet, error) {
	if err := p.fail[file]; err != nil {
		return nil, err
	}
	deps := make(parsers.IdentifierSet)
	for _, dep := range p.deps[file] {
		if known[dep] {
			deps[dep] = true
		}
	}
	return deps, nil
}

func (p *fakeParser) IsEntryPoint(root, file string) bool         { return p.entries[file] }
func (p *fakeParser) InferClassType(root, file string) graph.Kind { return p.kinds[file] }

func (p *fakeParser) ExtractMethods(root, file string) ([]parsers.StaticMethodInfo, error) {
	if err := p.fail[file]; err != nil {
		return nil, err
	}
	return p.methods[file], nil
}

func (p *fakeParser) ExtractMethodParameters(root, file string, known parsers.IdentifierSet) (map[string][]string, error) {
	if err := p.fail[file]; err != nil {
		return nil, err
	}
	if err := p.paramFail[file]; err != nil {
		return nil, err
	}
	return p.params[file], nil
}

// shopParser models controller -> service -> repository.
func shopParser() *fakeParser {
	p := newFakeParser("web/controller.port", "core/service.port", "db/repository.port")
	p.deps["web/controller.port"] = []string{"core.service"}
	p.deps["core/service.port"] = []string{"db.repository"}
	p.entries["web/controller.port"] = true
	p.kinds["web/controller.port"] = graph.KindController
	p.kinds["core/service.port"] = graph.KindService
	p.kinds["db/repository.port"] = graph.KindRepository
	p.methods["web/controller.port"] = []parsers.StaticMethodInfo{
		{Name: "create", Line: 10, HTTPMethod: "POST", HTTPPath: "/api/orders"},
		{Name: "audit", Line: 30},
	}
	p.params["web/controller.port"] = map[string][]string{
		"create": {"core.service"},
	}
	return p
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	parser := shopParser()
	g, report, err := NewBuilder(parser, nil).Build(context.Background(), t.TempDir())
	require.NoError(t, err)

	t.Run("Report", func(t *testing.T) {
		assert.Equal(t, 3, report.Files)
		assert.Equal(t, 3, report.Nodes)
		assert.Equal(t, 2, report.Edges)
		assert.Equal(t, 1, report.EntryPoints)
		assert.Empty(t, report.FailedFiles)
	})

	t.Run("Nodes", func(t *testing.T) {
		assert.Equal(t, []string{"web.controller", "core.service", "db.repository"}, g.AnalysisOrder())
		assert.Equal(t, graph.KindController, g.Node("web.controller").Kind)
		assert.True(t, g.Node("web.controller").EntryPoint)
	})

	t.Run("Edges", func(t *testing.T) {
		assert.Equal(t, []string{"core.service"}, g.Dependencies("web.controller"))
		assert.Equal(t, []string{"core.service"}, g.Dependents("db.repository"))
	})

	t.Run("MethodsAndParameters", func(t *testing.T) {
		methods := g.Methods("web.controller")
		require.Len(t, methods, 2)
		assert.Equal(t, "POST", methods[0].HTTPMethod)

		params := g.MethodParameters("web.controller")
		require.Len(t, params["create"], 1)
		assert.Equal(t, "core.service", params["create"][0].Target)
	})

	t.Run("RunScope", func(t *testing.T) {
		assert.Equal(t, 1, parser.began)
		assert.Equal(t, 1, parser.ended)
	})
}

func TestBuilder_FailedFileDoesNotAbort(t *testing.T) {
	t.Parallel()

	parser := shopParser()
	parser.fail["core/service.port"] = errors.New("unreadable")

	g, report, err := NewBuilder(parser, nil).Build(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.Len(t, report.FailedFiles, 1)
	assert.ErrorContains(t, report.FailedFiles["core/service.port"], "unreadable")

	// Failed unit keeps its bare node; the rest is unaffected.
	assert.True(t, g.HasNode("core.service"))
	assert.Empty(t, g.Methods("core.service"))
	assert.Equal(t, []string{"core.service"}, g.Dependencies("web.controller"))
	require.Len(t, g.Methods("web.controller"), 2)
}

func TestBuilder_EmptyRepository(t *testing.T) {
	t.Parallel()

	g, report, err := NewBuilder(newFakeParser(), nil).Build(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Zero(t, report.Files)
	assert.Zero(t, g.NodeCount())
}

func TestBuilder_ProgressPhases(t *testing.T) {
	t.Parallel()

	b := NewBuilder(shopParser(), nil)
	var phases []string
	b.SetProgress(func(phase string, progress float64) {
		if len(phases) == 0 || phases[len(phases)-1] != phase {
			phases = append(phases, phase)
		}
	})

	_, _, err := b.Build(context.Background(), t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, []string{"Registering units", "Wiring dependencies", "Finalizing units"}, phases)
}
