// Package graph provides the in-memory project dependency graph for Atlas.
//
// ProjectGraph is a lightweight, map-backed directed graph keyed by unit
// identifiers. Adjacency is kept as sets in both directions so that
// dependency and dependent lookups are O(result) rather than O(graph).
//
// A ProjectGraph is not safe for concurrent mutation. It is built or
// reconciled by exactly one in-flight operation per project and then
// published into the read-mostly registry; query execution only ever reads
// a published snapshot.
package graph

import (
	"log/slog"
	"sort"
)

// ProjectGraph is the in-memory dependency graph of one project.
type ProjectGraph struct {
	nodes map[string]*Node

	// order records identifiers in discovery order; it drives
	// AnalysisOrder and every deterministic iteration over the graph.
	order []string

	outgoing map[string]map[string]bool
	incoming map[string]map[string]bool

	methods map[string][]MethodInfo
	params  map[string][]MethodParameterLink

	logger *slog.Logger
}

// NewProjectGraph creates a new empty project graph.
func NewProjectGraph() *ProjectGraph {
	return &ProjectGraph{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string]map[string]bool),
		incoming: make(map[string]map[string]bool),
		methods:  make(map[string][]MethodInfo),
		params:   make(map[string][]MethodParameterLink),
		logger:   slog.Default(),
	}
}

// SetLogger replaces the logger used for non-fatal anomalies.
func (g *ProjectGraph) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// AddNode adds a node for the identifier, keeping the first registration
// when called again with the same identifier.
func (g *ProjectGraph) AddNode(identifier, sourceFile string) {
	if _, ok := g.nodes[identifier]; ok {
		return
	}
	g.nodes[identifier] = &Node{Identifier: identifier, SourceFile: sourceFile}
	g.order = append(g.order, identifier)
}

// Node returns the node for the identifier, or nil if it does not exist.
func (g *ProjectGraph) Node(identifier string) *Node {
	return g.nodes[identifier]
}

// HasNode reports whether the identifier is part of the graph.
func (g *ProjectGraph) HasNode(identifier string) bool {
	_, ok := g.nodes[identifier]
	return ok
}

// NodeCount returns the number of nodes.
func (g *ProjectGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependency edges.
func (g *ProjectGraph) EdgeCount() int {
	count := 0
	for _, targets := range g.outgoing {
		count += len(targets)
	}
	return count
}

// AddDependency inserts a directed dependency edge. Edges are a set:
// adding the same edge twice is a no-op. Edges whose endpoints are not
// known identifiers are dropped silently, so the graph never holds a
// dangling edge.
func (g *ProjectGraph) AddDependency(from, to string) {
	if from == to {
		return
	}
	if !g.HasNode(from) || !g.HasNode(to) {
		return
	}
	if g.outgoing[from] == nil {
		g.outgoing[from] = make(map[string]bool)
	}
	g.outgoing[from][to] = true

	if g.incoming[to] == nil {
		g.incoming[to] = make(map[string]bool)
	}
	g.incoming[to][from] = true
}

// MarkAsEntryPoint flags the node as externally invoked. Unknown
// identifiers are ignored.
func (g *ProjectGraph) MarkAsEntryPoint(identifier string) {
	if node, ok := g.nodes[identifier]; ok {
		node.EntryPoint = true
	}
}

// SetKind records the statically inferred kind for the node.
func (g *ProjectGraph) SetKind(identifier string, kind Kind) {
	if node, ok := g.nodes[identifier]; ok {
		node.Kind = kind
	}
}

// BindClassID attaches the externally issued record id to the node.
// Callers must bind before persisting parameter links that reference the
// identifier.
func (g *ProjectGraph) BindClassID(identifier, recordID string) {
	if node, ok := g.nodes[identifier]; ok {
		node.RecordID = recordID
	}
}

// RecordID returns the bound record id for the identifier, or "" when the
// node is unknown or not yet bound.
func (g *ProjectGraph) RecordID(identifier string) string {
	if node, ok := g.nodes[identifier]; ok {
		return node.RecordID
	}
	return ""
}

// Dependencies returns the identifiers the node depends on, sorted.
func (g *ProjectGraph) Dependencies(identifier string) []string {
	return sortedKeys(g.outgoing[identifier])
}

// Dependents returns the identifiers depending on the node, sorted.
func (g *ProjectGraph) Dependents(identifier string) []string {
	return sortedKeys(g.incoming[identifier])
}

// Resolve returns the 1-hop neighborhood of the identifier: the union of
// its dependencies and dependents. Used for stack-trace neighbor
// expansion.
func (g *ProjectGraph) Resolve(identifier string) []string {
	neighbors := make(map[string]bool, len(g.outgoing[identifier])+len(g.incoming[identifier]))
	for target := range g.outgoing[identifier] {
		neighbors[target] = true
	}
	for source := range g.incoming[identifier] {
		neighbors[source] = true
	}
	return sortedKeys(neighbors)
}

// AddMethod appends a method to the node's method list. Unknown
// identifiers are ignored.
func (g *ProjectGraph) AddMethod(identifier string, method MethodInfo) {
	if !g.HasNode(identifier) {
		return
	}
	g.methods[identifier] = append(g.methods[identifier], method)
}

// Methods returns the node's methods in extraction order.
func (g *ProjectGraph) Methods(identifier string) []MethodInfo {
	return g.methods[identifier]
}

// ClearMethods drops the node's methods and parameter links. The node
// itself stays registered.
func (g *ProjectGraph) ClearMethods(identifier string) {
	delete(g.methods, identifier)
	delete(g.params, identifier)
}

// AddMethodParameter records a resolved method parameter link for the
// node. Unknown identifiers are ignored.
func (g *ProjectGraph) AddMethodParameter(identifier string, link MethodParameterLink) {
	if !g.HasNode(identifier) {
		return
	}
	g.params[identifier] = append(g.params[identifier], link)
}

// MethodParameters returns the node's parameter links grouped by method
// name, each group ordered by position.
func (g *ProjectGraph) MethodParameters(identifier string) map[string][]MethodParameterLink {
	links := g.params[identifier]
	if len(links) == 0 {
		return nil
	}
	grouped := make(map[string][]MethodParameterLink)
	for _, link := range links {
		grouped[link.MethodName] = append(grouped[link.MethodName], link)
	}
	for name := range grouped {
		group := grouped[name]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Position < group[j].Position })
	}
	return grouped
}

// EntryPoints returns the entry-point identifiers in analysis order.
func (g *ProjectGraph) EntryPoints() []string {
	var entries []string
	for _, id := range g.order {
		if g.nodes[id].EntryPoint {
			entries = append(entries, id)
		}
	}
	return entries
}

// AllEndpoints returns every method carrying an HTTP verb across the
// project, in analysis order, each paired with its owning node's kind.
func (g *ProjectGraph) AllEndpoints() []Endpoint {
	var endpoints []Endpoint
	for _, id := range g.order {
		for _, method := range g.methods[id] {
			if method.HTTPMethod == "" {
				continue
			}
			endpoints = append(endpoints, Endpoint{
				Identifier: id,
				Kind:       g.nodes[id].Kind,
				Method:     method,
			})
		}
	}
	return endpoints
}

// AnalysisOrder returns all identifiers in discovery order. The order is
// stable across calls and is the iteration order used for batching and
// for ambiguous vertex resolution.
func (g *ProjectGraph) AnalysisOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ApplyEnrichment updates the node's kind and description and fills
// description/logic steps on the matching methods, in place.
//
// Enrichment output may reference methods that no longer exist after a
// re-parse; those entries are logged and skipped, never fatal.
func (g *ProjectGraph) ApplyEnrichment(identifier string, kind Kind, description string, methods map[string]MethodEnrichment) {
	node, ok := g.nodes[identifier]
	if !ok {
		g.logger.Warn("enrichment for unknown identifier dropped", "identifier", identifier)
		return
	}
	if kind != "" {
		node.Kind = kind
	}
	if description != "" {
		node.Description = description
	}

	known := g.methods[identifier]
	for name, enrichment := range methods {
		matched := false
		for i := range known {
			if known[i].Name != name {
				continue
			}
			known[i].Description = enrichment.Description
			known[i].LogicSteps = enrichment.LogicSteps
			matched = true
		}
		if !matched {
			g.logger.Debug("enrichment for missing method dropped",
				"identifier", identifier, "method", name)
		}
	}
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
