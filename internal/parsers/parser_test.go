package parsers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a fixture file under root, making parent directories.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestDetect(t *testing.T) {
	t.Parallel()

	t.Run("Java", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFile(t, root, "pom.xml", "<project/>")

		parser, err := Detect(root)

		require.NoError(t, err)
		assert.Equal(t, "java", parser.Language())
	})

	t.Run("Go", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFile(t, root, "go.mod", "module example.com/demo\n")

		parser, err := Detect(root)

		require.NoError(t, err)
		assert.Equal(t, "go", parser.Language())
	})

	t.Run("TypeScript", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFile(t, root, "package.json", `{"dependencies":{"express":"^4"}}`)

		parser, err := Detect(root)

		require.NoError(t, err)
		assert.Equal(t, "typescript", parser.Language())
	})

	t.Run("Python", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFile(t, root, "requirements.txt", "flask\n")

		parser, err := Detect(root)

		require.NoError(t, err)
		assert.Equal(t, "python", parser.Language())
	})

	t.Run("NoMarker", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()

		_, err := Detect(root)

		assert.ErrorIs(t, err, ErrNoParser)
	})

	t.Run("JavaWinsOverNode", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeFile(t, root, "pom.xml", "<project/>")
		writeFile(t, root, "package.json", "{}")

		parser, err := Detect(root)

		require.NoError(t, err)
		assert.Equal(t, "java", parser.Language())
	})
}

func TestDiscoverFiles_IgnoresAndCeiling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/demo\n")
	writeFile(t, root, "a/server.go", "package a\n")
	writeFile(t, root, "a/server_test.go", "package a\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, root, "a/testdata/fixture.go", "package fixture\n")
	writeFile(t, root, "generated/big.go", "package generated\n//"+strings.Repeat("x", maxFileSize))
	writeFile(t, root, ".gitignore", "generated/\n")

	files, err := NewGoParser().DiscoverFiles(root)

	require.NoError(t, err)
	assert.Equal(t, []string{"a/server.go"}, files)
}

func TestDiscoverFiles_EmptyTree(t *testing.T) {
	t.Parallel()

	files, err := NewGoParser().DiscoverFiles(t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, files)
}
