package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation for tests and
// ephemeral sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]ProjectMeta
	classes   map[string]map[string]ClassRecord // project -> identifier -> record
	snapshots map[string][]byte
	anchors   map[string]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]ProjectMeta),
		classes:   make(map[string]map[string]ClassRecord),
		snapshots: make(map[string][]byte),
		anchors:   make(map[string]string),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *MemoryStore) Initialize(path string, readOnly bool) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// SaveProject creates or updates a project's metadata.
func (s *MemoryStore) SaveProject(ctx context.Context, meta ProjectMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[meta.Name] = meta
	return nil
}

// Project returns one project's metadata, or ErrNotFound.
func (s *MemoryStore) Project(ctx context.Context, name string) (*ProjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.projects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

// ListProjects returns all projects sorted by name.
func (s *MemoryStore) ListProjects(ctx context.Context) ([]ProjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projects := make([]ProjectMeta, 0, len(s.projects))
	for _, meta := range s.projects {
		projects = append(projects, meta)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// DeleteProject removes a project and everything stored under it.
func (s *MemoryStore) DeleteProject(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, name)
	delete(s.classes, name)
	delete(s.snapshots, name)
	delete(s.anchors, name)
	return nil
}

// ReplaceClasses atomically replaces all class records of a project.
func (s *MemoryStore) ReplaceClasses(ctx context.Context, project string, records []ClassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[project] = make(map[string]ClassRecord, len(records))
	s.writeLocked(project, records)
	return nil
}

// UpsertClasses inserts or updates the given class records.
func (s *MemoryStore) UpsertClasses(ctx context.Context, project string, records []ClassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classes[project] == nil {
		s.classes[project] = make(map[string]ClassRecord, len(records))
	}
	s.writeLocked(project, records)
	return nil
}

// DeleteClasses removes the records for the given identifiers.
func (s *MemoryStore) DeleteClasses(ctx context.Context, project string, identifiers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range identifiers {
		delete(s.classes[project], id)
	}
	return nil
}

// Classes returns all class records of a project sorted by identifier.
func (s *MemoryStore) Classes(ctx context.Context, project string) ([]ClassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]ClassRecord, 0, len(s.classes[project]))
	for _, record := range s.classes[project] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identifier < records[j].Identifier })
	return records, nil
}

// Class returns one class record, or ErrNotFound.
func (s *MemoryStore) Class(ctx context.Context, project, identifier string) (*ClassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.classes[project][identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// SaveSnapshot persists the serialized graph.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, project string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[project] = append([]byte(nil), data...)
	return nil
}

// LoadSnapshot returns the serialized graph, or ErrNotFound.
func (s *MemoryStore) LoadSnapshot(ctx context.Context, project string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[project]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Anchor returns the commit the stored graph reflects, or "".
func (s *MemoryStore) Anchor(ctx context.Context, project string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchors[project], nil
}

// SetAnchor advances the project's sync anchor.
func (s *MemoryStore) SetAnchor(ctx context.Context, project, anchor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[project] = anchor
	return nil
}

func (s *MemoryStore) writeLocked(project string, records []ClassRecord) {
	now := time.Now().UTC()
	for _, record := range records {
		if record.RecordID == "" {
			record.RecordID = uuid.NewString()
		}
		record.UpdatedAt = now
		s.classes[project][record.Identifier] = record
	}
}
