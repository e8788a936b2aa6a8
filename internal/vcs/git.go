// Package vcs reads repository history for incremental syncs.
package vcs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotARepository is returned when the path is not inside a git
// repository.
var ErrNotARepository = errors.New("vcs: not a git repository")

// Diff describes the file-level changes between a sync anchor and the
// current head.
type Diff struct {
	// NewAnchor is the head commit hash the diff leads to.
	NewAnchor string

	// ChangedFiles are repository-relative paths added or modified since
	// the anchor, sorted.
	ChangedFiles []string

	// DeletedFiles are repository-relative paths removed since the
	// anchor, sorted.
	DeletedFiles []string

	// FullResyncRequired is set when the anchor is empty or no longer
	// resolvable, so the file lists carry no information.
	FullResyncRequired bool
}

// GitRepository wraps one opened repository.
type GitRepository struct {
	root string
	repo *git.Repository
}

// Open opens the git repository at root.
func Open(root string) (*GitRepository, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, fmt.Errorf("opening repository at %s: %w", root, err)
	}
	return &GitRepository{root: root, repo: repo}, nil
}

// Head returns the current head commit hash.
func (r *GitRepository) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving head: %w", err)
	}
	return head.Hash().String(), nil
}

// DiffSince computes the file-level diff from the anchor commit to the
// current head.
//
// An empty or unresolvable anchor yields FullResyncRequired; the caller
// must rebuild from scratch instead of patching. A rename counts as a
// delete of the old path and a change of the new path.
func (r *GitRepository) DiffSince(anchor string) (*Diff, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	diff := &Diff{NewAnchor: head}
	if anchor == head {
		return diff, nil
	}
	if anchor == "" {
		diff.FullResyncRequired = true
		return diff, nil
	}

	oldCommit, err := r.repo.CommitObject(plumbing.NewHash(anchor))
	if err != nil {
		// History rewritten or store from another repository.
		diff.FullResyncRequired = true
		return diff, nil
	}
	newCommit, err := r.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return nil, fmt.Errorf("resolving head commit: %w", err)
	}

	patch, err := oldCommit.Patch(newCommit)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", shortHash(anchor), shortHash(head), err)
	}

	changed := make(map[string]bool)
	deleted := make(map[string]bool)
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		switch {
		case from == nil && to != nil:
			changed[to.Path()] = true
		case from != nil && to == nil:
			deleted[from.Path()] = true
		case from != nil && to != nil:
			if from.Path() != to.Path() {
				deleted[from.Path()] = true
			}
			changed[to.Path()] = true
		}
	}

	diff.ChangedFiles = sortedPaths(changed)
	diff.DeletedFiles = sortedPaths(deleted)
	return diff, nil
}

func sortedPaths(set map[string]bool) []string {
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
