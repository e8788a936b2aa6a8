// Package storage persists project graphs, class records and sync
// anchors.
//
// It defines the Store protocol that all storage implementations must
// satisfy, along with the record types shared across backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// MethodRecord is the persisted form of one method of a class.
type MethodRecord struct {
	// Name is the method name.
	Name string `json:"name"`

	// Description is the enriched natural-language summary, empty until
	// enrichment runs.
	Description string `json:"description,omitempty"`

	// LogicSteps are the enriched step-by-step logic notes.
	LogicSteps []string `json:"logicSteps,omitempty"`

	// HTTPMethod and HTTPPath are set for route handlers.
	HTTPMethod string `json:"httpMethod,omitempty"`
	HTTPPath   string `json:"httpPath,omitempty"`

	// Exceptions are the error types the method can raise.
	Exceptions []string `json:"exceptions,omitempty"`

	// Line is the 1-based declaration line in the source file.
	Line int `json:"line,omitempty"`
}

// ClassRecord is the persisted form of one code unit.
type ClassRecord struct {
	// RecordID is a stable UUID assigned on first save and preserved
	// across syncs for unchanged units.
	RecordID string `json:"recordId"`

	// Identifier is the unit's dot identifier within its project.
	Identifier string `json:"identifier"`

	// SourceFile is the repository-relative source path.
	SourceFile string `json:"sourceFile"`

	// Kind classifies the unit (controller, service, ...).
	Kind string `json:"kind"`

	// EntryPoint marks externally-triggered units.
	EntryPoint bool `json:"entryPoint"`

	// Description is the enriched class summary, empty until enrichment
	// runs.
	Description string `json:"description,omitempty"`

	// Methods are the unit's persisted methods.
	Methods []MethodRecord `json:"methods,omitempty"`

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectMeta describes one analyzed project.
type ProjectMeta struct {
	// Name is the unique project name.
	Name string `json:"name"`

	// Root is the absolute path of the analyzed repository.
	Root string `json:"root"`

	// Language is the detected language ("java", "go", ...).
	Language string `json:"language"`

	// AnalyzedAt is the time of the last successful build or sync.
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// Store defines the interface for storage implementations.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Lifecycle

	// Initialize opens or creates the store at the given path. If
	// readOnly is true, the store is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the store.
	Close() error

	// Projects

	// SaveProject creates or updates a project's metadata.
	SaveProject(ctx context.Context, meta ProjectMeta) error

	// Project returns one project's metadata, or ErrNotFound.
	Project(ctx context.Context, name string) (*ProjectMeta, error)

	// ListProjects returns all projects sorted by name.
	ListProjects(ctx context.Context) ([]ProjectMeta, error)

	// DeleteProject removes a project and everything stored under it.
	DeleteProject(ctx context.Context, name string) error

	// Class records

	// ReplaceClasses atomically replaces all class records of a project.
	// Records without a RecordID are assigned one.
	ReplaceClasses(ctx context.Context, project string, records []ClassRecord) error

	// UpsertClasses inserts or updates the given class records, leaving
	// other records of the project untouched. Records without a RecordID
	// are assigned one.
	UpsertClasses(ctx context.Context, project string, records []ClassRecord) error

	// DeleteClasses removes the records for the given identifiers.
	DeleteClasses(ctx context.Context, project string, identifiers []string) error

	// Classes returns all class records of a project sorted by
	// identifier.
	Classes(ctx context.Context, project string) ([]ClassRecord, error)

	// Class returns one class record, or ErrNotFound.
	Class(ctx context.Context, project, identifier string) (*ClassRecord, error)

	// Graph snapshots

	// SaveSnapshot persists the serialized graph for cold-start loads.
	SaveSnapshot(ctx context.Context, project string, data []byte) error

	// LoadSnapshot returns the serialized graph, or ErrNotFound.
	LoadSnapshot(ctx context.Context, project string) ([]byte, error)

	// Sync anchors

	// Anchor returns the commit the stored graph reflects, or "" when
	// the project has never been synced.
	Anchor(ctx context.Context, project string) (string, error)

	// SetAnchor advances the project's sync anchor.
	SetAnchor(ctx context.Context, project, anchor string) error
}
