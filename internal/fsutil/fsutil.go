package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// TempPrefix marks in-flight copies inside a destination directory
const TempPrefix = ".dirmirror-tmp-"

// CopyFile copies src to dst through a temp file in dst's directory that is
// renamed over dst once content, permission bits and modification time are in
// place. The parent of dst must exist and is opened up for writing if it is
// read-only. Returns the number of bytes copied.
func CopyFile(src, dst string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, err
	}

	if err := makeDirWritable(filepath.Dir(dst)); err != nil {
		return 0, err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), TempPrefix+"*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // no-op once renamed

	n, err := io.Copy(tmpFile, srcFile)
	if err != nil {
		_ = tmpFile.Close()
		return n, err
	}

	// permission bits go on through the open descriptor, so a read-only
	// mode does not block the write above
	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return n, err
	}

	if err := tmpFile.Close(); err != nil {
		return n, err
	}

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
		return n, err
	}

	if err := makeWritable(dst); err != nil {
		return n, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return n, err
	}

	return n, nil
}

// Remove unlinks a file or symlink, clearing write protection on it and its
// parent directory first
func Remove(path string) error {
	if err := makeDirWritable(filepath.Dir(path)); err != nil {
		return err
	}
	if err := makeWritable(path); err != nil {
		return err
	}
	return os.Remove(path)
}

// RemoveAll removes path and everything below it. Directories without owner
// write or search permission are opened up first so their contents can go.
func RemoveAll(path string) error {
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().Perm()&0o700 != 0o700 {
			_ = os.Chmod(p, info.Mode().Perm()|0o700)
		}
		return nil
	})
	// WalkDir visits a directory before reading it, so the chmod above lands in
	// time for unreadable directories too
	return os.RemoveAll(path)
}

// Chmod sets the permission bits of path
func Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode.Perm())
}

// makeWritable adds the owner write bit to an existing regular file. Missing
// paths and non-regular files are left alone.
func makeWritable(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o200 != 0 {
		return nil
	}
	return os.Chmod(path, info.Mode().Perm()|0o200)
}

// makeDirWritable adds owner write and search bits to an existing directory
// that lacks them
func makeDirWritable(dir string) error {
	info, err := os.Lstat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() || info.Mode().Perm()&0o300 == 0o300 {
		return nil
	}
	return os.Chmod(dir, info.Mode().Perm()|0o300)
}
