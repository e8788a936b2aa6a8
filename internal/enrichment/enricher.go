// Package enrichment augments graph units with model-generated
// descriptions.
package enrichment

import (
	"context"
	"strings"
)

// Unit is the fixed input contract for enriching one code unit.
type Unit struct {
	// Identifier is the unit's dot identifier.
	Identifier string

	// Language is the source language ("java", "go", ...).
	Language string

	// Kind is the statically inferred classification.
	Kind string

	// SourceText is the full source of the unit's file.
	SourceText string

	// MethodNames are the statically extracted method names; the
	// enricher must describe only these.
	MethodNames []string
}

// MethodResult describes one enriched method.
type MethodResult struct {
	// MethodName echoes the requested method name.
	MethodName string `json:"methodName"`

	// Description is a one-sentence summary of the method.
	Description string `json:"description"`

	// LogicSteps are short step-by-step notes on the method body.
	LogicSteps []string `json:"logicSteps,omitempty"`
}

// Result is the fixed output contract of an enrichment call.
type Result struct {
	// Description is a one-sentence summary of the unit.
	Description string `json:"description"`

	// KindCorrection optionally overrides the static kind when the
	// model recognizes a more specific role. Empty means keep.
	KindCorrection string `json:"kindCorrection,omitempty"`

	// Methods are the per-method enrichments.
	Methods []MethodResult `json:"methods,omitempty"`
}

// Enricher produces descriptions for code units.
//
// Implementations must be safe for concurrent use; the batch runner
// fans units out across goroutines.
type Enricher interface {
	EnrichUnit(ctx context.Context, unit Unit) (*Result, error)
}

// StripQualifier removes a trailing parenthetical qualifier from a
// name, so "create (overloaded)" resolves as "create".
func StripQualifier(name string) string {
	trimmed := strings.TrimSpace(name)
	if !strings.HasSuffix(trimmed, ")") {
		return trimmed
	}
	idx := strings.LastIndex(trimmed, "(")
	if idx <= 0 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[:idx])
}
