package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-dev/atlas-go/internal/enrichment"
	"github.com/atlas-dev/atlas-go/internal/graph"
	"github.com/atlas-dev/atlas-go/internal/parsers"
	"github.com/atlas-dev/atlas-go/internal/registry"
	"github.com/atlas-dev/atlas-go/internal/storage"
	"github.com/atlas-dev/atlas-go/internal/vcs"
)

type fakeChanges struct {
	diff *vcs.Diff
	err  error
}

func (c *fakeChanges) Head() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.diff.NewAnchor, nil
}

func (c *fakeChanges) DiffSince(anchor string) (*vcs.Diff, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.diff, nil
}

type fakePublisher struct {
	project string
	graph   *graph.ProjectGraph
	calls   int
}

func (p *fakePublisher) Publish(project string, g *graph.ProjectGraph) {
	p.project = project
	p.graph = g
	p.calls++
}

type fakeEnricher struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*enrichment.Result
}

func (e *fakeEnricher) EnrichUnit(ctx context.Context, unit enrichment.Unit) (*enrichment.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, unit.Identifier)
	e.mu.Unlock()
	if r, ok := e.results[unit.Identifier]; ok {
		return r, nil
	}
	return nil, errors.New("unscripted unit")
}

func engineFor(t *testing.T, root string, parser parsers.SourceParser, store storage.Store, changes ChangeSource, pub Publisher, enr enrichment.Enricher) *SyncEngine {
	t.Helper()
	return NewSyncEngine(SyncOptions{
		Project:   "shop",
		Root:      root,
		Parser:    parser,
		Store:     store,
		Changes:   changes,
		Publisher: pub,
		Enricher:  enr,
	})
}

func TestSyncEngine_FirstSyncIsFullResync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	changes := &fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}
	engine := engineFor(t, t.TempDir(), shopParser(), store, changes, pub, nil)

	result, err := engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, SyncCompleted, result.Status)
	assert.True(t, result.FullResync)
	assert.Equal(t, []string{"web.controller", "core.service", "db.repository"}, result.Added)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, result.Unchanged)

	anchor, err := store.Anchor(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "h1", anchor)

	records, err := store.Classes(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, record := range records {
		assert.NotEmpty(t, record.RecordID)
	}

	_, err = store.LoadSnapshot(ctx, "shop")
	require.NoError(t, err)

	require.Equal(t, 1, pub.calls)
	assert.Equal(t, "shop", pub.project)
	assert.Equal(t, 3, pub.graph.NodeCount())
}

func TestSyncEngine_SkippedWhenAnchorMatchesHead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetAnchor(ctx, "shop", "h1"))
	pub := &fakePublisher{}
	changes := &fakeChanges{diff: &vcs.Diff{NewAnchor: "h1"}}
	engine := engineFor(t, t.TempDir(), shopParser(), store, changes, pub, nil)

	result, err := engine.Sync(ctx, graph.NewProjectGraph())
	require.NoError(t, err)

	assert.Equal(t, SyncSkipped, result.Status)
	assert.Zero(t, pub.calls)
}

func TestSyncEngine_PartitionsExactly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}

	// First sync establishes controller, service and repository.
	first := engineFor(t, t.TempDir(), shopParser(), store,
		&fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}, pub, nil)
	_, err := first.Sync(ctx, nil)
	require.NoError(t, err)
	prior := pub.graph

	serviceID := "core.service"
	priorServiceRecord, err := store.Class(ctx, "shop", serviceID)
	require.NoError(t, err)

	// Second sync: controller changed, notifier added, repository gone.
	parser := shopParser()
	parser.files = []string{"web/controller.port", "core/service.port", "core/notify.port"}
	parser.kinds["core/notify.port"] = graph.KindListener
	changes := &fakeChanges{diff: &vcs.Diff{
		NewAnchor:    "h2",
		ChangedFiles: []string{"web/controller.port", "core/notify.port"},
	}}
	second := engineFor(t, t.TempDir(), parser, store, changes, pub, nil)

	result, err := second.Sync(ctx, prior)
	require.NoError(t, err)

	assert.Equal(t, SyncCompleted, result.Status)
	assert.False(t, result.FullResync)
	assert.Equal(t, []string{"core.notify"}, result.Added)
	assert.Equal(t, []string{"web.controller"}, result.Updated)
	assert.Equal(t, []string{"db.repository"}, result.Deleted)
	assert.Equal(t, []string{serviceID}, result.Unchanged)

	// Deleting the repository class cascades: its record and methods
	// are gone from the store.
	_, err = store.Class(ctx, "shop", "db.repository")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Unchanged units keep their record ids.
	currentService, err := store.Class(ctx, "shop", serviceID)
	require.NoError(t, err)
	assert.Equal(t, priorServiceRecord.RecordID, currentService.RecordID)

	anchor, err := store.Anchor(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "h2", anchor)
}

func TestSyncEngine_FailedReExtractionDemotesToUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}

	// Prior state: service carries methods and an enriched description.
	priorParser := shopParser()
	priorParser.methods["core/service.port"] = []parsers.StaticMethodInfo{{Name: "place", Line: 5}}
	first := engineFor(t, t.TempDir(), priorParser, store,
		&fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}, pub, nil)
	_, err := first.Sync(ctx, nil)
	require.NoError(t, err)
	prior := pub.graph
	prior.ApplyEnrichment("core.service", "", "Places and tracks orders.", map[string]graph.MethodEnrichment{
		"place": {Description: "Persists one order."},
	})

	// The service file changed but its re-extraction now fails.
	parser := shopParser()
	parser.methods["core/service.port"] = []parsers.StaticMethodInfo{{Name: "place", Line: 5}}
	parser.fail["core/service.port"] = errors.New("truncated file")
	changes := &fakeChanges{diff: &vcs.Diff{
		NewAnchor:    "h2",
		ChangedFiles: []string{"core/service.port"},
	}}
	engine := engineFor(t, t.TempDir(), parser, store, changes, pub, nil)

	result, err := engine.Sync(ctx, prior)
	require.NoError(t, err)

	assert.Equal(t, SyncCompleted, result.Status)
	assert.Empty(t, result.Updated)
	assert.Contains(t, result.Unchanged, "core.service")

	// Prior analysis and enrichment survive the failed re-parse.
	assert.Equal(t, "Places and tracks orders.", pub.graph.Node("core.service").Description)
	methods := pub.graph.Methods("core.service")
	require.Len(t, methods, 1)
	assert.Equal(t, "Persists one order.", methods[0].Description)
}

func TestSyncEngine_PartialReExtractionKeepsPriorMethods(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}

	// Prior state: service carries an enriched method and a parameter link.
	priorParser := shopParser()
	priorParser.methods["core/service.port"] = []parsers.StaticMethodInfo{{Name: "place", Line: 5}}
	priorParser.params["core/service.port"] = map[string][]string{
		"place": {"db.repository"},
	}
	first := engineFor(t, t.TempDir(), priorParser, store,
		&fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}, pub, nil)
	_, err := first.Sync(ctx, nil)
	require.NoError(t, err)
	prior := pub.graph
	prior.ApplyEnrichment("core.service", "", "Places and tracks orders.", map[string]graph.MethodEnrichment{
		"place": {Description: "Persists one order."},
	})

	// Method extraction succeeds on the changed file but parameter
	// extraction fails, leaving fresh unenriched methods attached.
	parser := shopParser()
	parser.methods["core/service.port"] = []parsers.StaticMethodInfo{{Name: "place", Line: 5}}
	parser.paramFail["core/service.port"] = errors.New("resolver crashed")
	changes := &fakeChanges{diff: &vcs.Diff{
		NewAnchor:    "h2",
		ChangedFiles: []string{"core/service.port"},
	}}
	engine := engineFor(t, t.TempDir(), parser, store, changes, pub, nil)

	result, err := engine.Sync(ctx, prior)
	require.NoError(t, err)

	assert.Equal(t, SyncCompleted, result.Status)
	assert.Empty(t, result.Updated)
	assert.Contains(t, result.Unchanged, "core.service")

	// The partial fresh methods are replaced by the prior enriched ones.
	methods := pub.graph.Methods("core.service")
	require.Len(t, methods, 1)
	assert.Equal(t, "Persists one order.", methods[0].Description)
	assert.Equal(t, "Places and tracks orders.", pub.graph.Node("core.service").Description)

	params := pub.graph.MethodParameters("core.service")
	require.Len(t, params["place"], 1)
	assert.Equal(t, "db.repository", params["place"][0].Target)
}

func TestSyncEngine_EnrichesOnlyAddedAndUpdated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	for _, file := range []string{"web/controller.port", "core/service.port", "db/repository.port"} {
		path := filepath.Join(root, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("unit source"), 0o644))
	}

	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	first := engineFor(t, root, shopParser(), store,
		&fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}, pub, nil)
	_, err := first.Sync(ctx, nil)
	require.NoError(t, err)
	prior := pub.graph

	enricher := &fakeEnricher{results: map[string]*enrichment.Result{
		"web.controller": {
			Description: "Handles order HTTP traffic.",
			Methods: []enrichment.MethodResult{
				{MethodName: "create", Description: "Creates one order."},
			},
		},
	}}
	changes := &fakeChanges{diff: &vcs.Diff{
		NewAnchor:    "h2",
		ChangedFiles: []string{"web/controller.port"},
	}}
	engine := engineFor(t, root, shopParser(), store, changes, pub, enricher)

	result, err := engine.Sync(ctx, prior)
	require.NoError(t, err)
	require.Equal(t, SyncCompleted, result.Status)

	assert.ElementsMatch(t, []string{"web.controller"}, enricher.calls)
	assert.Equal(t, "Handles order HTTP traffic.", pub.graph.Node("web.controller").Description)
	methods := pub.graph.Methods("web.controller")
	require.Len(t, methods, 2)
	assert.Equal(t, "Creates one order.", methods[0].Description)

	record, err := store.Class(ctx, "shop", "web.controller")
	require.NoError(t, err)
	assert.Equal(t, "Handles order HTTP traffic.", record.Description)
}

func TestSyncEngine_GuardRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := registry.New()
	pub := &fakePublisher{}
	changes := &fakeChanges{diff: &vcs.Diff{NewAnchor: "h1", FullResyncRequired: true}}
	engine := NewSyncEngine(SyncOptions{
		Project:   "shop",
		Root:      t.TempDir(),
		Parser:    shopParser(),
		Store:     store,
		Changes:   changes,
		Publisher: pub,
		Guard:     reg,
	})

	// Another run holds the claim: this one is rejected outright.
	require.NoError(t, reg.BeginSync("shop"))
	result, err := engine.Sync(ctx, nil)
	require.ErrorIs(t, err, registry.ErrSyncInProgress)
	assert.Equal(t, SyncFailed, result.Status)
	assert.Zero(t, pub.calls)
	reg.EndSync("shop")

	// A completed run releases the claim again.
	result, err = engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, SyncCompleted, result.Status)
	require.NoError(t, reg.BeginSync("shop"))
	reg.EndSync("shop")
}

func TestSyncEngine_FailedDiffLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetAnchor(ctx, "shop", "h1"))
	pub := &fakePublisher{}
	changes := &fakeChanges{err: errors.New("repository unreachable")}
	engine := engineFor(t, t.TempDir(), shopParser(), store, changes, pub, nil)

	result, err := engine.Sync(ctx, nil)

	require.Error(t, err)
	assert.Equal(t, SyncFailed, result.Status)
	assert.Zero(t, pub.calls)

	anchor, err := store.Anchor(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "h1", anchor, "failed sync must not advance the anchor")
}
