package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFile writes content to root/rel with the given permissions, creating
// parent directories as needed
func WriteFile(t *testing.T, root, rel, content string, perm fs.FileMode) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	// WriteFile honours the umask; tests rely on exact bits
	require.NoError(t, os.Chmod(path, perm))
	return path
}

// ReadFile returns the content of root/rel
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// Snapshot maps every entry under root to a description: file content for
// regular files, "<dir>" for directories and "-> target" for symlinks.
// Keys are slash-separated relative paths.
func Snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	snap := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			snap[key] = "<dir>"
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			snap[key] = "-> " + target
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			snap[key] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return snap
}

// Files is Snapshot restricted to regular files
func Files(t *testing.T, root string) map[string]string {
	t.Helper()

	files := make(map[string]string)
	for k, v := range Snapshot(t, root) {
		if v == "<dir>" || len(v) > 3 && v[:3] == "-> " {
			continue
		}
		files[k] = v
	}
	return files
}

// Mode returns the permission bits of root/rel
func Mode(t *testing.T, root, rel string) fs.FileMode {
	t.Helper()

	info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return info.Mode().Perm()
}
