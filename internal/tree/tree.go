package tree

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a walked filesystem entry
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindOther
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Entry is a single filesystem object found under a walked root
type Entry struct {
	Path    string // absolute (root-joined) path on disk
	RelPath string // path relative to the walked root
	Kind    Kind
}

// WalkFunc is called for every entry below the root. A non-nil err reports a
// failure to stat or read that entry; the walk continues unless WalkFunc
// returns an error. Returning fs.SkipDir for a directory skips its contents.
type WalkFunc func(entry Entry, err error) error

// Walk enumerates every entry under root in lexical order without following
// symbolic links. The root itself is not passed to fn; errors reading the root
// abort the walk and are returned.
func Walk(root string, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if path == root {
			return err
		}

		entry := Entry{Path: path}
		if d != nil {
			entry.Kind = KindOf(d.Type())
		}

		rel, relErr := RelativePath(root, path)
		if relErr != nil {
			return fn(entry, relErr)
		}
		entry.RelPath = rel

		return fn(entry, err)
	})
}

// KindOf maps file mode type bits to a Kind
func KindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDir
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindOther
	}
}

// Lstat returns the kind of the entry at path without following symlinks
func Lstat(path string) (Kind, fs.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return KindOther, nil, err
	}
	return KindOf(info.Mode()), info, nil
}

// RelativePath returns the relative path from baseDir to target
func RelativePath(baseDir, target string) (string, error) {
	return filepath.Rel(baseDir, target)
}

// Contains reports whether child is parent itself or lies below it.
// Both paths are cleaned but not resolved.
func Contains(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == child {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
