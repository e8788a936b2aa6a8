// Package ingestion builds and incrementally maintains project dependency
// graphs from source trees.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlas-dev/atlas-go/internal/graph"
	"github.com/atlas-dev/atlas-go/internal/parsers"
)

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// BuildReport summarizes a build run.
type BuildReport struct {
	Files       int
	Nodes       int
	Edges       int
	EntryPoints int

	// FailedFiles maps source files whose extraction failed to the first
	// error encountered. Failed files keep their registered node but carry
	// no dependencies or methods.
	FailedFiles map[string]error
}

// Failed reports whether any file failed extraction.
func (r *BuildReport) Failed(file string) bool {
	_, ok := r.FailedFiles[file]
	return ok
}

// Builder constructs a ProjectGraph in three passes: register every unit,
// wire dependencies against the complete identifier set, then finalize
// entry points, kinds, methods and parameter links.
//
// Dependency extraction needs the full identifier universe to resolve
// references, so wiring must not start before registration completes.
type Builder struct {
	parser   parsers.SourceParser
	logger   *slog.Logger
	progress ProgressCallback
}

// NewBuilder creates a builder for one language parser.
func NewBuilder(parser parsers.SourceParser, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{parser: parser, logger: logger}
}

// SetProgress installs a progress callback.
func (b *Builder) SetProgress(cb ProgressCallback) {
	b.progress = cb
}

// Build parses the repository at root into a new ProjectGraph.
//
// Per-file extraction failures never abort the build; they are recorded
// in the report and the remaining files proceed. An empty repository
// yields an empty graph and a nil error.
func (b *Builder) Build(ctx context.Context, root string) (*graph.ProjectGraph, *BuildReport, error) {
	report := &BuildReport{FailedFiles: make(map[string]error)}
	g := graph.NewProjectGraph()
	g.SetLogger(b.logger)

	if scoped, ok := b.parser.(parsers.RunScoped); ok {
		if err := scoped.BeginRun(root); err != nil {
			return nil, nil, fmt.Errorf("starting parse run: %w", err)
		}
		defer scoped.EndRun()
	}

	files, err := b.parser.DiscoverFiles(root)
	if err != nil {
		return nil, nil, fmt.Errorf("discovering files: %w", err)
	}
	report.Files = len(files)
	if len(files) == 0 {
		return g, report, nil
	}

	sourceRoot := b.parser.SourceRoot(root)

	// Pass 1: register every unit.
	b.phase("Registering units", 0.0)
	for _, file := range files {
		b.RegisterFile(g, file, sourceRoot)
	}
	b.phase("Registering units", 1.0)

	known := knownIdentifiers(g)

	// Pass 2: wire dependencies.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.phase("Wiring dependencies", 0.0)
	for i, file := range files {
		if err := b.WireFile(g, root, file, sourceRoot, known); err != nil {
			b.recordFailure(report, file, err)
		}
		b.phase("Wiring dependencies", float64(i+1)/float64(len(files)))
	}

	// Pass 3: finalize.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.phase("Finalizing units", 0.0)
	for i, file := range files {
		if report.Failed(file) {
			continue
		}
		if err := b.FinalizeFile(g, root, file, sourceRoot, known); err != nil {
			b.recordFailure(report, file, err)
		}
		b.phase("Finalizing units", float64(i+1)/float64(len(files)))
	}

	report.Nodes = g.NodeCount()
	report.Edges = g.EdgeCount()
	report.EntryPoints = len(g.EntryPoints())
	return g, report, nil
}

// RegisterFile adds the file's unit node to the graph.
func (b *Builder) RegisterFile(g *graph.ProjectGraph, file, sourceRoot string) string {
	id := b.parser.ExtractIdentifier(file, sourceRoot)
	g.AddNode(id, file)
	return id
}

// WireFile resolves the file's dependencies against the known identifier
// set and adds the edges.
func (b *Builder) WireFile(g *graph.ProjectGraph, root, file, sourceRoot string, known parsers.IdentifierSet) error {
	id := b.parser.ExtractIdentifier(file, sourceRoot)
	deps, err := b.parser.ExtractDependencies(root, file, known)
	if err != nil {
		return fmt.Errorf("extracting dependencies of %s: %w", file, err)
	}
	for dep := range deps {
		g.AddDependency(id, dep)
	}
	return nil
}

// FinalizeFile attaches entry-point status, kind, methods and parameter
// links to the file's unit.
func (b *Builder) FinalizeFile(g *graph.ProjectGraph, root, file, sourceRoot string, known parsers.IdentifierSet) error {
	id := b.parser.ExtractIdentifier(file, sourceRoot)

	if b.parser.IsEntryPoint(root, file) {
		g.MarkAsEntryPoint(id)
	}
	g.SetKind(id, b.parser.InferClassType(root, file))

	methods, err := b.parser.ExtractMethods(root, file)
	if err != nil {
		return fmt.Errorf("extracting methods of %s: %w", file, err)
	}
	for _, m := range methods {
		g.AddMethod(id, graph.MethodInfo{
			Name:       m.Name,
			Line:       m.Line,
			HTTPMethod: m.HTTPMethod,
			HTTPPath:   m.HTTPPath,
			Exceptions: m.Exceptions,
		})
	}

	params, err := b.parser.ExtractMethodParameters(root, file, known)
	if err != nil {
		return fmt.Errorf("extracting parameters of %s: %w", file, err)
	}
	for name, targets := range params {
		for pos, target := range targets {
			g.AddMethodParameter(id, graph.MethodParameterLink{
				MethodName: name,
				Position:   pos,
				Target:     target,
			})
		}
	}
	return nil
}

func (b *Builder) recordFailure(report *BuildReport, file string, err error) {
	if _, seen := report.FailedFiles[file]; seen {
		return
	}
	report.FailedFiles[file] = err
	b.logger.Warn("file extraction failed", "file", file, "error", err)
}

func (b *Builder) phase(name string, progress float64) {
	if b.progress != nil {
		b.progress(name, progress)
	}
}

// knownIdentifiers snapshots the graph's identifier universe.
func knownIdentifiers(g *graph.ProjectGraph) parsers.IdentifierSet {
	order := g.AnalysisOrder()
	known := make(parsers.IdentifierSet, len(order))
	for _, id := range order {
		known[id] = true
	}
	return known
}
