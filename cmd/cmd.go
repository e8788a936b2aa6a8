// Package cmd provides CLI command implementations for Atlas.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/atlas-dev/atlas-go/internal/enrichment"
	"github.com/atlas-dev/atlas-go/internal/graph"
	"github.com/atlas-dev/atlas-go/internal/ingestion"
	"github.com/atlas-dev/atlas-go/internal/parsers"
	"github.com/atlas-dev/atlas-go/internal/query"
	"github.com/atlas-dev/atlas-go/internal/registry"
	"github.com/atlas-dev/atlas-go/internal/storage"
	"github.com/atlas-dev/atlas-go/internal/vcs"
	"github.com/atlas-dev/atlas-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

const atlasDirName = ".atlas"

// AnalyzeCmd performs a full analysis of a repository.
type AnalyzeCmd struct {
	Path        string `arg:"" optional:"" default:"." help:"Path to repository"`
	Project     string `help:"Project name (defaults to the directory name)"`
	Enrich      bool   `help:"Describe classes and methods with an LLM"`
	Concurrency int    `default:"4" help:"Parallel enrichment requests"`
}

// Run executes the analyze command.
func (c *AnalyzeCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	root, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	project := c.Project
	if project == "" {
		project = filepath.Base(root)
	}

	parser, err := parsers.Detect(root)
	if err != nil {
		return fmt.Errorf("detecting language: %w", err)
	}

	color.Green("Analyzing %s (%s)", root, parser.Language())

	store, err := openStore(root, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// A re-run over an already analyzed tree must see the prior state,
	// otherwise every unit counts as added and enrichment is rewritten.
	prior, err := loadPrior(ctx, store, project)
	if err != nil {
		return err
	}

	changes, err := openChanges(root)
	if err != nil {
		return err
	}

	var enricher enrichment.Enricher
	if c.Enrich {
		e, err := enrichment.NewOpenAIEnricher(logger)
		if err != nil {
			return fmt.Errorf("configuring enrichment: %w", err)
		}
		enricher = e
	}

	reg := registry.New()
	engine := ingestion.NewSyncEngine(ingestion.SyncOptions{
		Project:     project,
		Root:        root,
		Parser:      parser,
		Store:       store,
		Changes:     changes,
		Publisher:   reg,
		Guard:       reg,
		Enricher:    enricher,
		Concurrency: c.Concurrency,
		Progress:    printProgress,
		Logger:      logger,
	})

	result, err := engine.Sync(ctx, prior)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}

	if err := writeMeta(root, project, parser.Language(), result); err != nil {
		return err
	}

	printSyncSummary(result)
	return nil
}

// writeMeta drops a human-readable summary next to the database.
func writeMeta(root, project, language string, result *ingestion.SyncResult) error {
	meta := map[string]any{
		"version":     Version,
		"name":        project,
		"path":        root,
		"language":    language,
		"classes":     len(result.Added) + len(result.Updated) + len(result.Unchanged),
		"anchor":      result.Anchor,
		"analyzed_at": time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	path := filepath.Join(root, atlasDirName, "meta.json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("writing meta.json: %w", err)
	}
	return nil
}

// SyncCmd brings an analyzed repository up to its git head.
type SyncCmd struct {
	Path        string `arg:"" optional:"" default:"." help:"Path to repository"`
	Project     string `help:"Project name (defaults to the directory name)"`
	Enrich      bool   `help:"Describe changed classes with an LLM"`
	Concurrency int    `default:"4" help:"Parallel enrichment requests"`
}

// Run executes the sync command.
func (c *SyncCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	root, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	project := c.Project
	if project == "" {
		project = filepath.Base(root)
	}

	parser, err := parsers.Detect(root)
	if err != nil {
		return fmt.Errorf("detecting language: %w", err)
	}

	store, err := openStore(root, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	prior, err := loadPrior(ctx, store, project)
	if err != nil {
		return err
	}

	changes, err := vcs.Open(root)
	if err != nil {
		if errors.Is(err, vcs.ErrNotARepository) {
			return fmt.Errorf("%s is not a git repository; use 'atlas analyze' for one-shot analysis", root)
		}
		return fmt.Errorf("opening repository: %w", err)
	}

	var enricher enrichment.Enricher
	if c.Enrich {
		e, err := enrichment.NewOpenAIEnricher(logger)
		if err != nil {
			return fmt.Errorf("configuring enrichment: %w", err)
		}
		enricher = e
	}

	reg := registry.New()
	engine := ingestion.NewSyncEngine(ingestion.SyncOptions{
		Project:     project,
		Root:        root,
		Parser:      parser,
		Store:       store,
		Changes:     changes,
		Publisher:   reg,
		Guard:       reg,
		Enricher:    enricher,
		Concurrency: c.Concurrency,
		Progress:    printProgress,
		Logger:      logger,
	})

	result, err := engine.Sync(ctx, prior)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("syncing: %w", err)
	}

	printSyncSummary(result)
	return nil
}

// QueryCmd runs one colon-delimited query against the local store.
type QueryCmd struct {
	Query string `arg:"" help:"Query string, e.g. shop:OrdersService:methods"`
}

// Run executes the query command.
func (c *QueryCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStoreHere(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg, err := rehydrate(ctx, store, logger)
	if err != nil {
		return err
	}

	result, err := query.NewExecutor(reg).Execute(c.Query)
	if err != nil {
		var qerr *query.Error
		if errors.As(err, &qerr) {
			return fmt.Errorf("%s: %s", qerr.Code, qerr.Message)
		}
		return err
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

// EndpointsCmd lists the HTTP endpoints of a project.
type EndpointsCmd struct {
	Project string `arg:"" help:"Project name"`
}

// Run executes the endpoints command.
func (c *EndpointsCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStoreHere(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg, err := rehydrate(ctx, store, logger)
	if err != nil {
		return err
	}

	result, err := query.NewExecutor(reg).Execute(c.Project + ":endpoints")
	if err != nil {
		return err
	}

	if len(result.Endpoints) == 0 {
		fmt.Println("No endpoints found")
		return nil
	}

	for _, ep := range result.Endpoints {
		color.Cyan("%-6s %s", ep.Method.HTTPMethod, ep.Method.HTTPPath)
		fmt.Printf("       %s.%s\n", ep.Identifier, ep.Method.Name)
		if ep.Method.Description != "" {
			fmt.Printf("       %s\n", ep.Method.Description)
		}
	}
	return nil
}

// ProjectsCmd lists all analyzed projects in the local store.
type ProjectsCmd struct{}

// Run executes the projects command.
func (c *ProjectsCmd) Run() error {
	ctx := context.Background()

	store, err := openStoreHere(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	metas, err := store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	if len(metas) == 0 {
		fmt.Println("No projects analyzed yet")
		return nil
	}

	for _, meta := range metas {
		color.Cyan("%s", meta.Name)
		fmt.Printf("  Root:      %s\n", meta.Root)
		fmt.Printf("  Language:  %s\n", meta.Language)
		fmt.Printf("  Analyzed:  %s\n", meta.AnalyzedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

// DeleteCmd removes one project and all its records.
type DeleteCmd struct {
	Project string `arg:"" help:"Project name"`
	Force   bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run() error {
	ctx := context.Background()

	store, err := openStoreHere(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if _, err := store.Project(ctx, c.Project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("project %q not found", c.Project)
		}
		return err
	}

	if !c.Force {
		fmt.Printf("Delete project %q and all its records? [y/N] ", c.Project)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := store.DeleteProject(ctx, c.Project); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}

	color.Green("Deleted project %q", c.Project)
	return nil
}

// MCPCmd serves the graph over MCP stdio transport.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStoreHere(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg, err := rehydrate(ctx, store, logger)
	if err != nil {
		return err
	}

	// Note: No output to stdout - the MCP server uses stdio for JSON-RPC only
	server := mcp.NewServer(reg)
	return server.Run(ctx, os.Stdin, os.Stdout)
}

// SetupCmd writes an MCP client configuration pointing at this binary.
type SetupCmd struct {
	Claude bool   `help:"Configure for Claude Code"`
	Cursor bool   `help:"Configure for Cursor"`
	Dir    string `default:"." help:"Directory to write the configuration into"`
}

// Run executes the setup command.
func (c *SetupCmd) Run() error {
	if !c.Claude && !c.Cursor {
		payload, err := json.MarshalIndent(mcpClientConfig(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}

	if c.Claude {
		path := filepath.Join(c.Dir, ".claude", "mcp.json")
		if err := writeClientConfig(path); err != nil {
			return err
		}
		color.Green("✓ Wrote %s", path)
	}
	if c.Cursor {
		path := filepath.Join(c.Dir, ".cursor", "mcp.json")
		if err := writeClientConfig(path); err != nil {
			return err
		}
		color.Green("✓ Wrote %s", path)
	}
	return nil
}

func mcpClientConfig() map[string]any {
	return map[string]any{
		"mcpServers": map[string]any{
			"atlas-go": map[string]any{
				"command": "atlas-go",
				"args":    []string{"mcp"},
			},
		},
	}
}

func writeClientConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	payload, err := json.MarshalIndent(mcpClientConfig(), "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Helper functions

// workingTreeChanges forces a full analysis when the repository is not
// under git. The anchor stays empty so the next git-backed sync also
// resolves to a full re-analysis.
type workingTreeChanges struct{}

func (workingTreeChanges) Head() (string, error) { return "", nil }

func (workingTreeChanges) DiffSince(anchor string) (*vcs.Diff, error) {
	return &vcs.Diff{FullResyncRequired: true}, nil
}

func openChanges(root string) (ingestion.ChangeSource, error) {
	repo, err := vcs.Open(root)
	if err != nil {
		if errors.Is(err, vcs.ErrNotARepository) {
			return workingTreeChanges{}, nil
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

func openStore(root string, readOnly bool) (storage.Store, error) {
	dir := filepath.Join(root, atlasDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", atlasDirName, err)
	}

	store := storage.NewBadgerStore()
	if err := store.Initialize(filepath.Join(dir, "badger"), readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

func openStoreHere(readOnly bool) (storage.Store, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(root, atlasDirName)); os.IsNotExist(err) {
		return nil, fmt.Errorf("no analysis found at %s. Run 'atlas analyze' first", root)
	}
	return openStore(root, readOnly)
}

// loadPrior restores the served graph of a project from its persisted
// snapshot. Returns nil when the project was never analyzed.
func loadPrior(ctx context.Context, store storage.Store, project string) (*graph.ProjectGraph, error) {
	data, err := store.LoadSnapshot(ctx, project)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	g, err := graph.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("restoring snapshot: %w", err)
	}
	return g, nil
}

// rehydrate publishes every persisted project graph into a fresh
// registry so queries can be served without re-analysis.
func rehydrate(ctx context.Context, store storage.Store, logger *slog.Logger) (*registry.Registry, error) {
	metas, err := store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	reg := registry.New()
	for _, meta := range metas {
		g, err := loadPrior(ctx, store, meta.Name)
		if err != nil {
			logger.Warn("skipping project with unreadable snapshot", "project", meta.Name, "error", err)
			continue
		}
		if g == nil {
			continue
		}
		reg.Publish(meta.Name, g)
	}
	return reg, nil
}

func printProgress(phase string, pct float64) {
	fmt.Printf("\r\033[K%s (%.0f%%)", phase, pct*100)
}

func printSyncSummary(result *ingestion.SyncResult) {
	switch result.Status {
	case ingestion.SyncSkipped:
		color.Yellow("Already up to date at %s", shortAnchor(result.Anchor))
		return
	case ingestion.SyncFailed:
		color.Red("Sync failed")
		return
	}

	if result.FullResync {
		color.Green("✓ Full analysis complete")
	} else {
		color.Green("✓ Sync complete")
	}
	fmt.Printf("  Added:      %d\n", len(result.Added))
	fmt.Printf("  Updated:    %d\n", len(result.Updated))
	fmt.Printf("  Deleted:    %d\n", len(result.Deleted))
	fmt.Printf("  Unchanged:  %d\n", len(result.Unchanged))
	if result.Anchor != "" {
		fmt.Printf("  Anchor:     %s\n", shortAnchor(result.Anchor))
	}
}

func shortAnchor(anchor string) string {
	if len(anchor) > 8 {
		return anchor[:8]
	}
	return anchor
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable verbose output"`

	Analyze   AnalyzeCmd   `cmd:"" help:"Analyze a repository into a dependency graph"`
	Sync      SyncCmd      `cmd:"" help:"Incrementally update the graph from git history"`
	Query     QueryCmd     `cmd:"" help:"Run a colon-delimited graph query"`
	Endpoints EndpointsCmd `cmd:"" help:"List HTTP endpoints of a project"`
	Projects  ProjectsCmd  `cmd:"" help:"List analyzed projects"`
	Delete    DeleteCmd    `cmd:"" help:"Delete a project and its records"`
	MCP       MCPCmd       `cmd:"" help:"Serve the graph over MCP (stdio transport)"`
	Setup     SetupCmd     `cmd:"" help:"Write MCP client configuration"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	// Optional; OPENAI_* and friends may come from the environment instead.
	_ = godotenv.Load()

	kongCtx, err := kong.Must(c,
		kong.Name("atlas-go"),
		kong.Description("Cross-file dependency graphs for polyglot repositories"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	).Parse(args)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return kongCtx.Run(logger)
}
