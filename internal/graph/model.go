// Package graph provides the project dependency graph data model for Atlas.
//
// It defines the node, method, and parameter-link types that represent
// units of code (classes, modules, packages) and the directed dependency
// edges between them.
package graph

// Kind is the coarse classification of a code unit.
type Kind string

const (
	KindController    Kind = "controller"
	KindService       Kind = "service"
	KindRepository    Kind = "repository"
	KindDTO           Kind = "dto"
	KindEntity        Kind = "entity"
	KindConfiguration Kind = "configuration"
	KindListener      Kind = "listener"
	KindUtility       Kind = "utility"
	KindException     Kind = "exception"
	KindOther         Kind = "other"
)

// Node represents one unit of code in the project graph.
//
// A node is created once per discovered source file and is keyed by its
// language-neutral dot-separated identifier (e.g. "com.shop.OrderService"
// or "src.services.order.index").
type Node struct {
	// Identifier is the unique, case-sensitive dot-separated name.
	Identifier string

	// SourceFile is the file path relative to the repository root.
	SourceFile string

	// EntryPoint is true when the unit is externally invoked
	// (serves HTTP, handles events).
	EntryPoint bool

	// Kind is the coarse classification, empty until inferred or enriched.
	Kind Kind

	// Description is a human-readable summary, empty until enrichment runs.
	Description string

	// RecordID is the opaque id issued by the record store once the node
	// has been durably persisted. Empty for nodes not yet stored.
	RecordID string
}

// MethodInfo describes a single method of a node.
//
// Static extraction populates Name, Line, HTTPMethod, HTTPPath and
// Exceptions; the enrichment pass later fills Description and LogicSteps.
type MethodInfo struct {
	// Name is the method name.
	Name string

	// Description is a human-readable summary, empty until enrichment runs.
	Description string

	// LogicSteps are ordered business-logic steps from enrichment.
	LogicSteps []string

	// Exceptions are the exception/error type names the method raises.
	Exceptions []string

	// HTTPMethod is the HTTP verb when the method serves an endpoint
	// ("GET", "POST", ...), empty otherwise.
	HTTPMethod string

	// HTTPPath is the route path when the method serves an endpoint.
	HTTPPath string

	// Line is the 1-based source line of the method declaration.
	Line int
}

// MethodParameterLink records that a method parameter's declared type
// resolves to another known node.
//
// Position is the 0-based position among the parameters that resolved to
// known identifiers, not the raw parameter index.
type MethodParameterLink struct {
	MethodName string
	Position   int
	Target     string
}

// Endpoint pairs an HTTP-serving method with its owning node.
type Endpoint struct {
	Identifier string
	Kind       Kind
	Method     MethodInfo
}

// MethodEnrichment carries the enrichment output for one method.
type MethodEnrichment struct {
	Description string
	LogicSteps  []string
}
