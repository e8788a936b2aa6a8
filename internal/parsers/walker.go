package parsers

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// maxFileSize is the per-file size ceiling; larger files are generated or
// vendored artifacts, not hand-written units.
const maxFileSize = 1 << 20 // 1 MiB

// Directory patterns skipped for every language, in addition to the
// repository's own .gitignore.
var defaultIgnorePatterns = []string{
	".git/",
	".atlas/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"out/",
	"target/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	"coverage/",
	".idea/",
	".gradle/",
}

// walkOptions configures a discovery walk.
type walkOptions struct {
	// extensions are the accepted file extensions (with dot).
	extensions []string

	// skipFile filters individual files by repo-relative path; returning
	// true excludes the file (tests, declaration-only files, ...).
	skipFile func(relPath string) bool
}

// discoverFiles walks startDir (relative to root) and returns matching
// repo-relative paths in walk order. filepath.WalkDir visits entries in
// lexical order, so the result is deterministic.
func discoverFiles(root, startDir string, opts walkOptions) ([]string, error) {
	matcher := buildIgnoreMatcher(root)

	base := filepath.Join(root, startDir)
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if relPath != "." && matcher.Match(splitPath(relPath), true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !hasExtension(d.Name(), opts.extensions) {
			return nil
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}
		if opts.skipFile != nil && opts.skipFile(relPath) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil // racing deletion: skip, not fatal
		}
		if info.Size() > maxFileSize {
			return nil
		}

		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	return files, err
}

// buildIgnoreMatcher combines the default patterns with the repository's
// .gitignore, when present.
func buildIgnoreMatcher(root string) gitignore.Matcher {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	return gitignore.NewMatcher(patterns)
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	return strings.Split(filepath.ToSlash(path), "/")
}

// readSource reads a repo-relative file.
func readSource(root, file string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
}

// dirExists reports whether the repo-relative directory exists.
func dirExists(root, dir string) bool {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir)))
	return err == nil && info.IsDir()
}
