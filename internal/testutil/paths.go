package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// FindProjectRoot returns the nearest directory holding go.mod, searching
// upwards from the caller's source file
func FindProjectRoot() (string, error) {
	return findProjectRoot(2)
}

// ProjectRoot is FindProjectRoot for tests; it fails the test when no module
// root is found
func ProjectRoot(t testing.TB) string {
	t.Helper()

	root, err := findProjectRoot(2)
	require.NoError(t, err)
	return root
}

// findProjectRoot starts from the source file skip frames up the stack
func findProjectRoot(skip int) (string, error) {
	_, filename, _, ok := runtime.Caller(skip)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	return findUp(filepath.Dir(filename), "go.mod")
}

// findUp returns the first directory from dir upwards that contains name
func findUp(dir, name string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(name + " not found in any parent directory")
		}
		dir = parent
	}
}
