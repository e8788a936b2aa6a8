package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes for different data types
const (
	prefixProject  = "p:" // project metadata
	prefixClass    = "c:" // class records, c:<project>:<identifier>
	prefixSnapshot = "s:" // serialized graph snapshots
	prefixAnchor   = "a:" // sync anchors
)

// BadgerStore is a BadgerDB-backed Store implementation.
type BadgerStore struct {
	db          *badger.DB
	initialized bool
	mu          sync.RWMutex
}

// NewBadgerStore creates a new BadgerDB store.
func NewBadgerStore() *BadgerStore {
	return &BadgerStore{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (s *BadgerStore) Initialize(path string, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	s.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	s.initialized = true
	return nil
}

// Close releases all resources held by the store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.initialized = false
	return err
}

// SaveProject creates or updates a project's metadata.
func (s *BadgerStore) SaveProject(ctx context.Context, meta ProjectMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling project: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(projectKey(meta.Name), data)
	})
}

// Project returns one project's metadata, or ErrNotFound.
func (s *BadgerStore) Project(ctx context.Context, name string) (*ProjectMeta, error) {
	var meta ProjectMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(projectKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", name, err)
	}
	return &meta, nil
}

// ListProjects returns all projects sorted by name.
func (s *BadgerStore) ListProjects(ctx context.Context) ([]ProjectMeta, error) {
	var projects []ProjectMeta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixProject)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta ProjectMeta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				continue
			}
			projects = append(projects, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// DeleteProject removes a project and everything stored under it.
func (s *BadgerStore) DeleteProject(ctx context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixClass + name + ":")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		keys = append(keys, projectKey(name), snapshotKey(name), anchorKey(name))
		for _, key := range keys {
			if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
}

// ReplaceClasses atomically replaces all class records of a project.
func (s *BadgerStore) ReplaceClasses(ctx context.Context, project string, records []ClassRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(prefixClass + project + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting stale record: %w", err)
			}
		}
		return writeClassRecords(txn, project, records)
	})
}

// UpsertClasses inserts or updates the given class records.
func (s *BadgerStore) UpsertClasses(ctx context.Context, project string, records []ClassRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return writeClassRecords(txn, project, records)
	})
}

// DeleteClasses removes the records for the given identifiers.
func (s *BadgerStore) DeleteClasses(ctx context.Context, project string, identifiers []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range identifiers {
			if err := txn.Delete(classKey(project, id)); err != nil && err != badger.ErrKeyNotFound {
				return fmt.Errorf("deleting class %s: %w", id, err)
			}
		}
		return nil
	})
}

// Classes returns all class records of a project sorted by identifier.
func (s *BadgerStore) Classes(ctx context.Context, project string) ([]ClassRecord, error) {
	var records []ClassRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixClass + project + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record ClassRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading classes of %s: %w", project, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identifier < records[j].Identifier })
	return records, nil
}

// Class returns one class record, or ErrNotFound.
func (s *BadgerStore) Class(ctx context.Context, project, identifier string) (*ClassRecord, error) {
	var record ClassRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(classKey(project, identifier))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading class %s: %w", identifier, err)
	}
	return &record, nil
}

// SaveSnapshot persists the serialized graph for cold-start loads.
func (s *BadgerStore) SaveSnapshot(ctx context.Context, project string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(project), data)
	})
}

// LoadSnapshot returns the serialized graph, or ErrNotFound.
func (s *BadgerStore) LoadSnapshot(ctx context.Context, project string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(project))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot of %s: %w", project, err)
	}
	return data, nil
}

// Anchor returns the commit the stored graph reflects, or "".
func (s *BadgerStore) Anchor(ctx context.Context, project string) (string, error) {
	var anchor string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(anchorKey(project))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			anchor = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading anchor of %s: %w", project, err)
	}
	return anchor, nil
}

// SetAnchor advances the project's sync anchor.
func (s *BadgerStore) SetAnchor(ctx context.Context, project, anchor string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(anchorKey(project), []byte(anchor))
	})
}

func writeClassRecords(txn *badger.Txn, project string, records []ClassRecord) error {
	now := time.Now().UTC()
	for i := range records {
		if records[i].RecordID == "" {
			records[i].RecordID = uuid.NewString()
		}
		records[i].UpdatedAt = now

		data, err := json.Marshal(records[i])
		if err != nil {
			return fmt.Errorf("marshaling class %s: %w", records[i].Identifier, err)
		}
		if err := txn.Set(classKey(project, records[i].Identifier), data); err != nil {
			return fmt.Errorf("setting class %s: %w", records[i].Identifier, err)
		}
	}
	return nil
}

func projectKey(name string) []byte {
	return []byte(prefixProject + name)
}

func classKey(project, identifier string) []byte {
	return []byte(prefixClass + project + ":" + identifier)
}

func snapshotKey(project string) []byte {
	return []byte(prefixSnapshot + project)
}

func anchorKey(project string) []byte {
	return []byte(prefixAnchor + project)
}
