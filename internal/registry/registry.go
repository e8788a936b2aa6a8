// Package registry holds the graphs currently served to queries.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// ErrSyncInProgress is returned when a sync is already running for the
// project.
var ErrSyncInProgress = errors.New("registry: sync already in progress")

// Registry maps project names to their published graphs.
//
// Graphs are immutable once published: a sync builds a fresh graph and
// swaps it in atomically, so readers never observe a half-updated
// graph. Reads vastly outnumber writes.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*graph.ProjectGraph
	syncing  map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		projects: make(map[string]*graph.ProjectGraph),
		syncing:  make(map[string]bool),
	}
}

// Publish atomically replaces the served graph for the project.
func (r *Registry) Publish(project string, g *graph.ProjectGraph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[project] = g
}

// Snapshot returns the currently served graph for the project.
//
// The returned graph must be treated as read-only; mutating a published
// graph races with concurrent readers.
func (r *Registry) Snapshot(project string) (*graph.ProjectGraph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.projects[project]
	return g, ok
}

// Remove drops the project from the registry.
func (r *Registry) Remove(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, project)
	delete(r.syncing, project)
}

// Projects returns the published project names, sorted.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.projects))
	for name := range r.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeginSync claims sync exclusivity for the project. Callers must pair
// every successful claim with EndSync.
func (r *Registry) BeginSync(project string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncing[project] {
		return fmt.Errorf("%w: %s", ErrSyncInProgress, project)
	}
	r.syncing[project] = true
	return nil
}

// EndSync releases sync exclusivity for the project.
func (r *Registry) EndSync(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.syncing, project)
}
