package query

import (
	"strings"

	"github.com/atlas-dev/atlas-go/internal/graph"
)

// GraphSource yields the served graph for a project. The project
// registry satisfies it.
type GraphSource interface {
	Snapshot(project string) (*graph.ProjectGraph, bool)
}

// NeighborView is one 1-hop neighbor of a vertex.
type NeighborView struct {
	Identifier  string `json:"identifier"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParameterView is one resolved method parameter.
type ParameterView struct {
	Position int    `json:"position"`
	Target   string `json:"target"`
}

// MethodView is the displayed form of one method.
type MethodView struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	LogicSteps  []string        `json:"logicSteps,omitempty"`
	HTTPMethod  string          `json:"httpMethod,omitempty"`
	HTTPPath    string          `json:"httpPath,omitempty"`
	Exceptions  []string        `json:"exceptions,omitempty"`
	Parameters  []ParameterView `json:"parameters,omitempty"`
}

// NodeView is the displayed form of one vertex.
type NodeView struct {
	Identifier   string         `json:"identifier"`
	SourceFile   string         `json:"sourceFile"`
	Kind         string         `json:"kind,omitempty"`
	Description  string         `json:"description,omitempty"`
	EntryPoint   bool           `json:"entryPoint,omitempty"`
	Methods      []MethodView   `json:"methods,omitempty"`
	Dependencies []NeighborView `json:"dependencies,omitempty"`
	Dependents   []NeighborView `json:"dependents,omitempty"`
}

// EndpointView is one HTTP-bearing method with its owning vertex.
type EndpointView struct {
	Identifier string     `json:"identifier"`
	Kind       string     `json:"kind,omitempty"`
	Method     MethodView `json:"method"`
}

// CheckView is the result of a ?predicate.
type CheckView struct {
	Exists bool        `json:"exists"`
	Method *MethodView `json:"method,omitempty"`
}

// Result is the executor's answer; exactly one payload field is set
// depending on the query shape.
type Result struct {
	Project   string         `json:"project"`
	Node      *NodeView      `json:"node,omitempty"`
	Nodes     []NodeView     `json:"nodes,omitempty"`
	Methods   []MethodView   `json:"methods,omitempty"`
	Endpoints []EndpointView `json:"endpoints,omitempty"`
	Check     *CheckView     `json:"check,omitempty"`
}

// Executor interprets parsed queries against published graphs.
type Executor struct {
	source GraphSource
}

// NewExecutor creates an executor over the graph source.
func NewExecutor(source GraphSource) *Executor {
	return &Executor{source: source}
}

// Execute parses and runs one query string.
func (x *Executor) Execute(raw string) (*Result, error) {
	q, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	g, ok := x.source.Snapshot(q.Project)
	if !ok {
		return nil, notFound(CodeProjectNotFound, "project %q is not loaded", q.Project)
	}

	result := &Result{Project: q.Project}

	// Reserved keywords claim the whole query.
	switch q.Navigations[0] {
	case KeywordEndpoints:
		result.Endpoints = endpointViews(g, g.AllEndpoints(), q)
		return result, nil
	case KeywordClasses:
		for _, id := range g.AnalysisOrder() {
			result.Nodes = append(result.Nodes, nodeView(g, id, q))
		}
		return result, nil
	case KeywordEntryPoints:
		for _, id := range g.EntryPoints() {
			view := nodeView(g, id, q)
			view.Methods = httpMethods(g, id, q)
			result.Nodes = append(result.Nodes, view)
		}
		return result, nil
	}

	vertex, err := resolveVertex(g, q.Navigations[0])
	if err != nil {
		return nil, err
	}

	// A check short-circuits every remaining navigation.
	if q.HasCheck {
		result.Check = checkMethod(g, vertex, q)
		return result, nil
	}

	rest := q.Navigations[1:]
	if len(rest) == 0 {
		view := nodeView(g, vertex, q)
		view.Methods = methodViews(g, vertex, q)
		result.Node = &view
		return result, nil
	}

	switch rest[0] {
	case NavMethods:
		result.Methods = methodViews(g, vertex, q)
	case NavDependencies:
		view := nodeView(g, vertex, q)
		view.Dependencies = neighborViews(g, g.Dependencies(vertex))
		result.Node = &view
	case NavDependents:
		view := nodeView(g, vertex, q)
		view.Dependents = neighborViews(g, g.Dependents(vertex))
		result.Node = &view
	case NavMethod:
		if len(rest) < 2 {
			return nil, invalidf("method navigation on %q names no method", vertex)
		}
		view, ok := findMethod(g, vertex, rest[1], q)
		if !ok {
			return nil, notFound(CodeMethodNotFound, "method %q not found on %q", rest[1], vertex)
		}
		result.Methods = []MethodView{view}
	default:
		// A second bare name re-navigates from scratch.
		target, err := resolveVertex(g, rest[0])
		if err != nil {
			return nil, err
		}
		view := nodeView(g, target, q)
		view.Methods = methodViews(g, target, q)
		result.Node = &view
	}
	return result, nil
}

// resolveVertex maps a bare token to an identifier: exact match, then
// case-insensitive simple-name match, then case-insensitive substring
// match.
//
// Ambiguous simple names resolve to the first node in analysis order;
// callers get a deterministic best-effort answer rather than an error.
func resolveVertex(g *graph.ProjectGraph, token string) (string, error) {
	if g.HasNode(token) {
		return token, nil
	}

	lowered := strings.ToLower(token)
	for _, id := range g.AnalysisOrder() {
		simple := id
		if idx := strings.LastIndex(id, "."); idx >= 0 {
			simple = id[idx+1:]
		}
		if strings.ToLower(simple) == lowered {
			return id, nil
		}
	}

	for _, id := range g.AnalysisOrder() {
		if strings.Contains(strings.ToLower(id), lowered) {
			return id, nil
		}
	}
	return "", notFound(CodeClassNotFound, "no class matches %q", token)
}

func nodeView(g *graph.ProjectGraph, id string, q *Query) NodeView {
	node := g.Node(id)
	view := NodeView{
		Identifier:  node.Identifier,
		SourceFile:  node.SourceFile,
		Kind:        string(node.Kind),
		Description: node.Description,
		EntryPoint:  node.EntryPoint,
	}
	if q.Include(IncludeMethods) {
		view.Methods = methodViews(g, id, q)
	}
	if q.Include(IncludeDependencies) {
		view.Dependencies = neighborViews(g, g.Dependencies(id))
	}
	if q.Include(IncludeDependents) {
		view.Dependents = neighborViews(g, g.Dependents(id))
	}
	return view
}

func neighborViews(g *graph.ProjectGraph, ids []string) []NeighborView {
	views := make([]NeighborView, 0, len(ids))
	for _, id := range ids {
		node := g.Node(id)
		if node == nil {
			continue
		}
		views = append(views, NeighborView{
			Identifier:  id,
			Kind:        string(node.Kind),
			Description: node.Description,
		})
	}
	return views
}

func methodViews(g *graph.ProjectGraph, id string, q *Query) []MethodView {
	methods := g.Methods(id)
	params := g.MethodParameters(id)
	views := make([]MethodView, 0, len(methods))
	for _, m := range methods {
		views = append(views, methodView(m, params[m.Name], q))
	}
	return views
}

func methodView(m graph.MethodInfo, links []graph.MethodParameterLink, q *Query) MethodView {
	view := MethodView{
		Name:        m.Name,
		Description: m.Description,
		HTTPMethod:  m.HTTPMethod,
		HTTPPath:    m.HTTPPath,
		Exceptions:  m.Exceptions,
	}
	if q.Include(IncludeLogic) {
		view.LogicSteps = m.LogicSteps
	}
	for _, link := range links {
		view.Parameters = append(view.Parameters, ParameterView{
			Position: link.Position,
			Target:   link.Target,
		})
	}
	return view
}

func httpMethods(g *graph.ProjectGraph, id string, q *Query) []MethodView {
	params := g.MethodParameters(id)
	var views []MethodView
	for _, m := range g.Methods(id) {
		if m.HTTPMethod == "" {
			continue
		}
		views = append(views, methodView(m, params[m.Name], q))
	}
	return views
}

func endpointViews(g *graph.ProjectGraph, endpoints []graph.Endpoint, q *Query) []EndpointView {
	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		params := g.MethodParameters(ep.Identifier)
		views = append(views, EndpointView{
			Identifier: ep.Identifier,
			Kind:       string(ep.Kind),
			Method:     methodView(ep.Method, params[ep.Method.Name], q),
		})
	}
	return views
}

func findMethod(g *graph.ProjectGraph, id, name string, q *Query) (MethodView, bool) {
	params := g.MethodParameters(id)
	for _, m := range g.Methods(id) {
		if m.Name == name {
			return methodView(m, params[m.Name], q), true
		}
	}
	return MethodView{}, false
}

func checkMethod(g *graph.ProjectGraph, id string, q *Query) *CheckView {
	if view, ok := findMethod(g, id, q.Check, q); ok {
		return &CheckView{Exists: true, Method: &view}
	}
	return &CheckView{Exists: false}
}
