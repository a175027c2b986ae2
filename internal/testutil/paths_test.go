package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	require.NoError(t, err)
	require.NotEmpty(t, root)

	_, err = os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, err)
}

func TestProjectRoot(t *testing.T) {
	root := ProjectRoot(t)

	want, err := FindProjectRoot()
	require.NoError(t, err)
	assert.Equal(t, want, root)
	assert.DirExists(t, filepath.Join(root, "internal", "testutil"))
}

func TestFindUp(t *testing.T) {
	base := t.TempDir()
	deep := filepath.Join(base, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0755))
	WriteFile(t, base, "a/marker", "", 0644)

	dir, err := findUp(deep, "marker")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a"), dir)

	_, err = findUp(deep, "no-such-marker-file")
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	WriteFile(t, root, "a.txt", "alpha", 0644)
	WriteFile(t, root, "sub/b.txt", "beta", 0600)
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "link")))

	assert.Equal(t, map[string]string{
		"a.txt":     "alpha",
		"sub":       "<dir>",
		"sub/b.txt": "beta",
		"empty":     "<dir>",
		"link":      "-> a.txt",
	}, Snapshot(t, root))

	assert.Equal(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}, Files(t, root))

	assert.Equal(t, "beta", ReadFile(t, root, "sub/b.txt"))
	assert.Equal(t, os.FileMode(0600), Mode(t, root, "sub/b.txt"))
}
