package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/atlas-dev/atlas-go/internal/enrichment"
	"github.com/atlas-dev/atlas-go/internal/graph"
	"github.com/atlas-dev/atlas-go/internal/parsers"
	"github.com/atlas-dev/atlas-go/internal/storage"
	"github.com/atlas-dev/atlas-go/internal/vcs"
)

// SyncStatus classifies the outcome of one sync run.
type SyncStatus string

const (
	// SyncSkipped means the anchor already matched the head; nothing ran.
	SyncSkipped SyncStatus = "skipped"

	// SyncCompleted means the graph, store and anchor were advanced.
	SyncCompleted SyncStatus = "completed"

	// SyncFailed means the run aborted and the prior state is untouched.
	SyncFailed SyncStatus = "failed"
)

// SyncResult reports one sync run. The four identifier lists partition
// the union of the prior and current unit sets exactly.
type SyncResult struct {
	Status     SyncStatus
	Anchor     string
	FullResync bool

	Added     []string
	Updated   []string
	Deleted   []string
	Unchanged []string
}

// ChangeSource yields file-level history diffs for a repository.
// *vcs.GitRepository satisfies it.
type ChangeSource interface {
	Head() (string, error)
	DiffSince(anchor string) (*vcs.Diff, error)
}

// Publisher receives the finished graph for serving. The project
// registry satisfies it.
type Publisher interface {
	Publish(project string, g *graph.ProjectGraph)
}

// Guard claims per-project sync exclusivity for the duration of a run.
// The project registry satisfies it.
type Guard interface {
	BeginSync(project string) error
	EndSync(project string)
}

// SyncEngine incrementally re-analyzes a project when its repository
// moves past the stored anchor.
//
// A run either completes fully (graph published, records replaced,
// anchor advanced) or leaves every prior artifact untouched. With a
// Guard configured, a second run for the same project is rejected while
// one is in flight.
type SyncEngine struct {
	project     string
	root        string
	builder     *Builder
	parser      parsers.SourceParser
	store       storage.Store
	changes     ChangeSource
	publisher   Publisher
	guard       Guard
	enricher    enrichment.Enricher
	concurrency int
	logger      *slog.Logger
}

// SyncOptions wires the engine's collaborators.
type SyncOptions struct {
	Project string
	Root    string
	Parser  parsers.SourceParser
	Store   storage.Store
	Changes ChangeSource

	// Publisher receives the new graph on completion. Optional.
	Publisher Publisher

	// Guard rejects concurrent runs for the same project. Optional.
	Guard Guard

	// Enricher describes added and updated units. Optional; nil skips
	// enrichment.
	Enricher enrichment.Enricher

	// Concurrency bounds parallel enrichment calls.
	Concurrency int

	// Progress receives build phase updates. Optional.
	Progress ProgressCallback

	Logger *slog.Logger
}

// NewSyncEngine creates a sync engine for one project.
func NewSyncEngine(opts SyncOptions) *SyncEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := NewBuilder(opts.Parser, logger)
	if opts.Progress != nil {
		builder.SetProgress(opts.Progress)
	}
	return &SyncEngine{
		project:     opts.Project,
		root:        opts.Root,
		builder:     builder,
		parser:      opts.Parser,
		store:       opts.Store,
		changes:     opts.Changes,
		publisher:   opts.Publisher,
		guard:       opts.Guard,
		enricher:    opts.Enricher,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// Sync brings the project graph up to the repository head.
//
// prior is the currently served graph, or nil when the project has
// never been analyzed in this process. When the repository diff cannot
// be anchored (first run, rewritten history) the whole tree is
// re-analyzed; enrichment of units whose source did not change is
// carried over from prior state either way.
func (e *SyncEngine) Sync(ctx context.Context, prior *graph.ProjectGraph) (*SyncResult, error) {
	if e.guard != nil {
		if err := e.guard.BeginSync(e.project); err != nil {
			return &SyncResult{Status: SyncFailed}, err
		}
		defer e.guard.EndSync(e.project)
	}

	anchor, err := e.store.Anchor(ctx, e.project)
	if err != nil {
		return &SyncResult{Status: SyncFailed}, fmt.Errorf("loading anchor: %w", err)
	}

	diff, err := e.changes.DiffSince(anchor)
	if err != nil {
		return &SyncResult{Status: SyncFailed}, fmt.Errorf("diffing repository: %w", err)
	}

	if anchor != "" && anchor == diff.NewAnchor && prior != nil {
		e.logger.Info("sync skipped, anchor matches head",
			"project", e.project, "anchor", shortAnchor(anchor))
		return &SyncResult{Status: SyncSkipped, Anchor: anchor}, nil
	}

	fullResync := diff.FullResyncRequired || prior == nil

	next, report, err := e.builder.Build(ctx, e.root)
	if err != nil {
		return &SyncResult{Status: SyncFailed}, fmt.Errorf("rebuilding graph: %w", err)
	}

	result := e.partition(prior, next, diff, fullResync)
	result.Anchor = diff.NewAnchor
	result.FullResync = fullResync

	// A unit whose re-extraction failed keeps its previous analysis
	// instead of degrading to a bare node.
	e.demoteFailed(prior, next, report, result)

	// Unchanged units keep their record ids and enrichment.
	carried := make(map[string]bool, len(result.Unchanged))
	for _, id := range result.Unchanged {
		carried[id] = true
	}
	e.carryOver(ctx, prior, next, carried)

	if e.enricher != nil {
		e.enrich(ctx, next, append(append([]string{}, result.Added...), result.Updated...))
	}

	if err := e.persist(ctx, next, result); err != nil {
		return &SyncResult{Status: SyncFailed}, err
	}

	if e.publisher != nil {
		e.publisher.Publish(e.project, next)
	}

	result.Status = SyncCompleted
	e.logger.Info("sync completed",
		"project", e.project,
		"anchor", shortAnchor(result.Anchor),
		"added", len(result.Added),
		"updated", len(result.Updated),
		"deleted", len(result.Deleted),
		"unchanged", len(result.Unchanged),
		"full_resync", fullResync)
	return result, nil
}

// partition classifies every identifier of the prior and next graphs
// into exactly one of added, updated, deleted or unchanged.
func (e *SyncEngine) partition(prior, next *graph.ProjectGraph, diff *vcs.Diff, fullResync bool) *SyncResult {
	result := &SyncResult{}

	changedFiles := make(map[string]bool, len(diff.ChangedFiles))
	for _, f := range diff.ChangedFiles {
		changedFiles[f] = true
	}

	for _, id := range next.AnalysisOrder() {
		switch {
		case prior == nil || !prior.HasNode(id):
			result.Added = append(result.Added, id)
		case fullResync || changedFiles[next.Node(id).SourceFile]:
			result.Updated = append(result.Updated, id)
		default:
			result.Unchanged = append(result.Unchanged, id)
		}
	}
	if prior != nil {
		for _, id := range prior.AnalysisOrder() {
			if !next.HasNode(id) {
				result.Deleted = append(result.Deleted, id)
			}
		}
	}
	sort.Strings(result.Deleted)
	return result
}

// demoteFailed moves updated units whose re-extraction failed back to
// unchanged, restoring their prior analysis.
func (e *SyncEngine) demoteFailed(prior, next *graph.ProjectGraph, report *BuildReport, result *SyncResult) {
	if prior == nil || len(report.FailedFiles) == 0 {
		return
	}

	failedIDs := make(map[string]bool, len(report.FailedFiles))
	for file := range report.FailedFiles {
		for _, id := range next.AnalysisOrder() {
			if next.Node(id).SourceFile == file {
				failedIDs[id] = true
			}
		}
	}

	var updated []string
	for _, id := range result.Updated {
		if failedIDs[id] && prior.HasNode(id) {
			e.restoreNode(prior, next, id)
			result.Unchanged = append(result.Unchanged, id)
			e.logger.Warn("unit demoted to unchanged, re-extraction failed",
				"project", e.project, "identifier", id)
			continue
		}
		updated = append(updated, id)
	}
	result.Updated = updated
}

// restoreNode copies the prior graph's state for one unit into the next
// graph. Edges to units deleted in this sync drop out on their own.
func (e *SyncEngine) restoreNode(prior, next *graph.ProjectGraph, id string) {
	old := prior.Node(id)
	next.SetKind(id, old.Kind)
	if old.EntryPoint {
		next.MarkAsEntryPoint(id)
	}
	next.BindClassID(id, old.RecordID)
	for _, dep := range prior.Dependencies(id) {
		next.AddDependency(id, dep)
	}
	// Finalize may have attached partial data before failing. Drop it so
	// the prior methods come back with their enrichment intact.
	next.ClearMethods(id)
	for _, m := range prior.Methods(id) {
		next.AddMethod(id, m)
	}
	for _, links := range prior.MethodParameters(id) {
		for _, link := range links {
			next.AddMethodParameter(id, link)
		}
	}
	next.ApplyEnrichment(id, old.Kind, old.Description, nil)
}

// carryOver preserves record ids for surviving units and enrichment for
// unchanged ones.
func (e *SyncEngine) carryOver(ctx context.Context, prior, next *graph.ProjectGraph, unchanged map[string]bool) {
	for _, id := range next.AnalysisOrder() {
		if next.RecordID(id) != "" {
			continue
		}

		var old *graph.Node
		if prior != nil {
			old = prior.Node(id)
		}
		if old == nil {
			continue
		}
		next.BindClassID(id, old.RecordID)

		if !unchanged[id] {
			continue
		}
		methods := make(map[string]graph.MethodEnrichment)
		for _, m := range prior.Methods(id) {
			if m.Description == "" && len(m.LogicSteps) == 0 {
				continue
			}
			methods[m.Name] = graph.MethodEnrichment{
				Description: m.Description,
				LogicSteps:  m.LogicSteps,
			}
		}
		next.ApplyEnrichment(id, "", old.Description, methods)
	}

	// A store rehydrated from disk can still hold record ids the prior
	// in-memory graph never saw.
	for _, id := range next.AnalysisOrder() {
		if next.RecordID(id) != "" {
			continue
		}
		record, err := e.store.Class(ctx, e.project, id)
		if err != nil {
			continue
		}
		next.BindClassID(id, record.RecordID)
	}
}

// enrich describes the given units and applies the results in place.
func (e *SyncEngine) enrich(ctx context.Context, g *graph.ProjectGraph, ids []string) {
	if len(ids) == 0 {
		return
	}

	units := make([]enrichment.Unit, 0, len(ids))
	for _, id := range ids {
		node := g.Node(id)
		if node == nil {
			continue
		}
		source, err := readUnitSource(e.root, node.SourceFile)
		if err != nil {
			e.logger.Warn("skipping enrichment, source unreadable",
				"identifier", id, "error", err)
			continue
		}
		var names []string
		for _, m := range g.Methods(id) {
			names = append(names, m.Name)
		}
		units = append(units, enrichment.Unit{
			Identifier:  id,
			Language:    e.parser.Language(),
			Kind:        string(node.Kind),
			SourceText:  source,
			MethodNames: names,
		})
	}

	results := enrichment.EnrichAll(ctx, e.enricher, units, e.concurrency, e.logger)
	for id, r := range results {
		methods := make(map[string]graph.MethodEnrichment, len(r.Methods))
		for _, m := range r.Methods {
			methods[m.MethodName] = graph.MethodEnrichment{
				Description: m.Description,
				LogicSteps:  m.LogicSteps,
			}
		}
		g.ApplyEnrichment(id, graph.Kind(r.KindCorrection), r.Description, methods)
	}
}

// persist writes the project's records, snapshot and anchor. A full
// resync replaces every record atomically; an incremental run deletes
// the removed units and upserts the rest. Deleting a class drops its
// methods and parameter links with it.
func (e *SyncEngine) persist(ctx context.Context, g *graph.ProjectGraph, result *SyncResult) error {
	records := recordsFromGraph(g)
	if result.FullResync {
		if err := e.store.ReplaceClasses(ctx, e.project, records); err != nil {
			return fmt.Errorf("replacing class records: %w", err)
		}
	} else {
		if err := e.store.DeleteClasses(ctx, e.project, result.Deleted); err != nil {
			return fmt.Errorf("deleting class records: %w", err)
		}
		if err := e.store.UpsertClasses(ctx, e.project, records); err != nil {
			return fmt.Errorf("upserting class records: %w", err)
		}
	}

	// Read back generated record ids so the served graph matches the
	// store.
	for _, record := range records {
		if g.RecordID(record.Identifier) == "" {
			if saved, err := e.store.Class(ctx, e.project, record.Identifier); err == nil {
				g.BindClassID(record.Identifier, saved.RecordID)
			}
		}
	}

	snapshot, err := g.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing graph: %w", err)
	}
	if err := e.store.SaveSnapshot(ctx, e.project, snapshot); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	if err := e.store.SetAnchor(ctx, e.project, result.Anchor); err != nil {
		return fmt.Errorf("advancing anchor: %w", err)
	}

	meta := storage.ProjectMeta{
		Name:       e.project,
		Root:       e.root,
		Language:   e.parser.Language(),
		AnalyzedAt: time.Now().UTC(),
	}
	if err := e.store.SaveProject(ctx, meta); err != nil {
		return fmt.Errorf("saving project metadata: %w", err)
	}
	return nil
}

// recordsFromGraph converts every unit of the graph into its persisted
// form.
func recordsFromGraph(g *graph.ProjectGraph) []storage.ClassRecord {
	order := g.AnalysisOrder()
	records := make([]storage.ClassRecord, 0, len(order))
	for _, id := range order {
		node := g.Node(id)

		methods := g.Methods(id)
		persisted := make([]storage.MethodRecord, 0, len(methods))
		for _, m := range methods {
			persisted = append(persisted, storage.MethodRecord{
				Name:        m.Name,
				Description: m.Description,
				LogicSteps:  m.LogicSteps,
				HTTPMethod:  m.HTTPMethod,
				HTTPPath:    m.HTTPPath,
				Exceptions:  m.Exceptions,
				Line:        m.Line,
			})
		}

		records = append(records, storage.ClassRecord{
			RecordID:    node.RecordID,
			Identifier:  id,
			SourceFile:  node.SourceFile,
			Kind:        string(node.Kind),
			EntryPoint:  node.EntryPoint,
			Description: node.Description,
			Methods:     persisted,
		})
	}
	return records
}

func shortAnchor(anchor string) string {
	if len(anchor) > 8 {
		return anchor[:8]
	}
	return anchor
}

// readUnitSource reads one unit's source file under the repository
// root.
func readUnitSource(root, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
