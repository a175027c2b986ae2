package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/schaermu/dirmirror/internal/digest"
	"github.com/schaermu/dirmirror/internal/fsutil"
	"github.com/schaermu/dirmirror/internal/logging"
	"github.com/schaermu/dirmirror/internal/tree"
)

// ErrInvalidRoot is returned when a pass cannot start because the source or
// replica root is unusable
var ErrInvalidRoot = errors.New("invalid root")

// Options tunes a Reconciler
type Options struct {
	// Hash selects the content hash; empty means digest.Default
	Hash digest.Algorithm
	// DryRun logs every action without touching the replica
	DryRun bool
	// QuickCheck copies files whose sizes differ without hashing them.
	// Files of equal size are always hashed.
	QuickCheck bool
	// CreateReplica creates a missing replica root instead of failing
	CreateReplica bool
}

// Reconciler makes a replica tree identical to a source tree
type Reconciler struct {
	logger *slog.Logger
	opts   Options
}

// NewReconciler creates a new reconciler
func NewReconciler(logger *slog.Logger, opts Options) (*Reconciler, error) {
	algo, err := digest.Parse(string(opts.Hash))
	if err != nil {
		return nil, err
	}
	opts.Hash = algo

	if logger == nil {
		logger = logging.Discard()
	}

	return &Reconciler{
		logger: logger,
		opts:   opts,
	}, nil
}

// Reconcile runs one full pass: files missing from the replica or differing
// in content are copied from the source, then replica entries without a
// source counterpart are removed. Per-entry failures are logged and counted
// in the outcome; only root problems end the pass early with an error.
func (r *Reconciler) Reconcile(sourceRoot, replicaRoot string) (*Outcome, error) {
	out := &Outcome{Started: time.Now()}
	r.logger.Info("pass started",
		"source", sourceRoot,
		"replica", replicaRoot,
		"started_at", out.Started.Format(time.RFC3339),
		"dry_run", r.opts.DryRun)

	p := &pass{
		Reconciler: r,
		out:        out,
		dirs:       make(map[string]bool),
		removed:    make(map[string]bool),
	}

	if err := p.resolveRoots(sourceRoot, replicaRoot); err != nil {
		out.Elapsed = time.Since(out.Started)
		return out, err
	}

	if err := p.copyStep(); err != nil {
		out.Elapsed = time.Since(out.Started)
		return out, fmt.Errorf("failed to walk source: %w", err)
	}

	if !p.replicaMissing {
		if err := p.pruneStep(); err != nil {
			out.Elapsed = time.Since(out.Started)
			return out, fmt.Errorf("failed to walk replica: %w", err)
		}
	}

	out.Elapsed = time.Since(out.Started)
	r.logger.Info("pass completed", out.Attrs()...)

	return out, nil
}

// pass carries the state of a single Reconcile call
type pass struct {
	*Reconciler
	source  string
	replica string
	out     *Outcome

	// dirs caches replica directories known to be real directories (or, in
	// dry-run mode, planned ones) for the duration of the pass
	dirs map[string]bool
	// removed records replica paths deleted during the pass
	removed map[string]bool
	// replicaMissing is only set in dry-run mode with CreateReplica
	replicaMissing bool
}

// resolveRoots checks both roots and resolves them to absolute, symlink-free
// paths
func (p *pass) resolveRoots(sourceRoot, replicaRoot string) error {
	source, err := resolveDir(sourceRoot)
	if err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrInvalidRoot, sourceRoot, err)
	}

	replica, err := resolveDir(replicaRoot)
	if err != nil {
		if !p.opts.CreateReplica || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: replica %s: %w", ErrInvalidRoot, replicaRoot, err)
		}

		abs, absErr := filepath.Abs(replicaRoot)
		if absErr != nil {
			return fmt.Errorf("%w: replica %s: %w", ErrInvalidRoot, replicaRoot, absErr)
		}
		if tree.Contains(source, abs) || tree.Contains(abs, source) {
			return fmt.Errorf("%w: source %s and replica %s overlap", ErrInvalidRoot, source, abs)
		}

		if p.opts.DryRun {
			replica = abs
			p.replicaMissing = true
			p.dirs[replica] = true
		} else {
			if err := os.MkdirAll(abs, 0755); err != nil {
				return fmt.Errorf("%w: failed to create replica %s: %w", ErrInvalidRoot, abs, err)
			}
			if replica, err = resolveDir(abs); err != nil {
				return fmt.Errorf("%w: replica %s: %w", ErrInvalidRoot, abs, err)
			}
		}
		p.out.DirsCreated++
		p.info("directory created", "path", abs)
	}

	if tree.Contains(source, replica) || tree.Contains(replica, source) {
		return fmt.Errorf("%w: source %s and replica %s overlap", ErrInvalidRoot, source, replica)
	}

	p.source = source
	p.replica = replica
	return nil
}

// copyStep walks the source and brings every regular file over
func (p *pass) copyStep() error {
	return tree.Walk(p.source, func(e tree.Entry, err error) error {
		if err != nil {
			p.fail(opErr(OpWalk, e.Path, err))
			return nil
		}

		switch e.Kind {
		case tree.KindDir:
			// directories only appear in the replica as parents of files
			return nil
		case tree.KindSymlink:
			p.skip("symlink skipped", e)
			return nil
		case tree.KindOther:
			p.skip("special file skipped", e)
			return nil
		}

		p.syncFile(e)
		return nil
	})
}

// pruneStep walks the replica and removes whatever the source lacks
func (p *pass) pruneStep() error {
	return tree.Walk(p.replica, func(e tree.Entry, err error) error {
		if p.removed[e.Path] {
			if e.Kind == tree.KindDir {
				return fs.SkipDir
			}
			return nil
		}

		if err != nil {
			p.fail(opErr(OpWalk, e.Path, err))
			return nil
		}

		counterpart := filepath.Join(p.source, e.RelPath)
		exists, err := p.hasCounterpart(counterpart, e.Kind)
		if err != nil {
			p.fail(opErr(OpStat, counterpart, err))
			if e.Kind == tree.KindDir {
				return fs.SkipDir
			}
			return nil
		}
		if exists {
			return nil
		}

		if e.Kind == tree.KindDir {
			// the whole subtree goes in one operation
			p.removeDir(e.Path)
			return fs.SkipDir
		}
		p.removeFile(e.Path)
		return nil
	})
}

// syncFile compares one source file with its replica counterpart and
// applies the resulting action
func (p *pass) syncFile(e tree.Entry) {
	target := filepath.Join(p.replica, e.RelPath)

	srcInfo, err := os.Lstat(e.Path)
	if err != nil {
		p.fail(opErr(OpStat, e.Path, err))
		return
	}

	act, err := p.compare(e.Path, target, srcInfo)
	if err != nil {
		p.fail(err)
		return
	}

	switch act {
	case actionNone:
		return
	case actionChmod:
		p.chmod(target, srcInfo.Mode())
		return
	case actionReplaceDir:
		if !p.removeDir(target) {
			return
		}
	}

	if !p.ensureParent(target) {
		return
	}
	p.copyFile(e.Path, target, srcInfo)
}

type action int

const (
	actionNone action = iota
	actionCopy
	actionReplaceDir
	actionChmod
)

// compare decides what to do with dst. Missing targets and content
// mismatches both mean a copy.
func (p *pass) compare(src, dst string, srcInfo fs.FileInfo) (action, error) {
	if !p.realDir(filepath.Dir(dst)) {
		return actionCopy, nil
	}

	kind, dstInfo, err := tree.Lstat(dst)
	if err != nil {
		// ENOTDIR only shows up in dry-run mode, below a planned directory
		// that is still a file on disk
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return actionCopy, nil
		}
		return actionNone, opErr(OpStat, dst, err)
	}

	switch kind {
	case tree.KindFile:
	case tree.KindDir:
		return actionReplaceDir, nil
	default:
		// a symlink or special file is replaced by the rename
		return actionCopy, nil
	}

	if p.opts.QuickCheck && dstInfo.Size() != srcInfo.Size() {
		return actionCopy, nil
	}

	srcHash, err := p.opts.Hash.File(src)
	if err != nil {
		return actionNone, opErr(OpHash, src, err)
	}
	dstHash, err := p.opts.Hash.File(dst)
	if err != nil {
		return actionNone, opErr(OpHash, dst, err)
	}

	if srcHash != dstHash {
		return actionCopy, nil
	}
	if dstInfo.Mode().Perm() != srcInfo.Mode().Perm() {
		return actionChmod, nil
	}
	return actionNone, nil
}

// realDir reports whether dir and every ancestor up to the replica root are
// real directories rather than files or symlinks
func (p *pass) realDir(dir string) bool {
	if dir == p.replica || p.dirs[dir] {
		return true
	}
	if !tree.Contains(p.replica, dir) {
		return false
	}

	kind, _, err := tree.Lstat(dir)
	if err != nil || kind != tree.KindDir {
		return false
	}
	if !p.realDir(filepath.Dir(dir)) {
		return false
	}

	p.dirs[dir] = true
	return true
}

// ensureParent creates the parent chain of target, removing a non-directory
// that blocks it. One event is logged for the whole chain.
func (p *pass) ensureParent(target string) bool {
	dir := filepath.Dir(target)
	if p.realDir(dir) {
		return true
	}

	if !p.clearObstruction(dir) {
		return false
	}

	if !p.opts.DryRun {
		if err := os.MkdirAll(dir, 0755); err != nil {
			p.fail(opErr(OpMkdir, dir, err))
			return false
		}
	}
	for d := dir; d != p.replica && tree.Contains(p.replica, d); d = filepath.Dir(d) {
		p.dirs[d] = true
	}

	p.out.DirsCreated++
	p.info("directory created", "path", dir)
	return true
}

// clearObstruction removes the first non-directory on the path from the
// replica root down to dir
func (p *pass) clearObstruction(dir string) bool {
	rel, err := tree.RelativePath(p.replica, dir)
	if err != nil {
		p.fail(opErr(OpMkdir, dir, err))
		return false
	}

	cur := p.replica
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		if p.dirs[cur] {
			continue
		}

		kind, _, err := tree.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		if err != nil {
			p.fail(opErr(OpStat, cur, err))
			return false
		}
		if kind == tree.KindDir {
			p.dirs[cur] = true
			continue
		}

		return p.removeFile(cur)
	}
	return true
}

// hasCounterpart reports whether the source entry at path keeps a replica
// entry of the given kind. Symlinks and special files are never mirrored, so
// they count as absent, as does a source directory where the replica holds a
// file. A path whose parent is not a directory is absent too.
func (p *pass) hasCounterpart(path string, replicaKind tree.Kind) (bool, error) {
	kind, _, err := tree.Lstat(path)
	if err == nil {
		switch kind {
		case tree.KindFile:
			return true, nil
		case tree.KindDir:
			return replicaKind == tree.KindDir, nil
		default:
			return false, nil
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	parentKind, _, parentErr := tree.Lstat(filepath.Dir(path))
	if parentErr == nil && parentKind != tree.KindDir {
		return false, nil
	}
	return false, err
}

func (p *pass) copyFile(src, dst string, srcInfo fs.FileInfo) {
	size := srcInfo.Size()
	if !p.opts.DryRun {
		n, err := fsutil.CopyFile(src, dst)
		if err != nil {
			p.fail(opErr(OpCopy, src, err))
			return
		}
		size = n
	}

	p.out.FilesCopied++
	p.out.BytesCopied += size
	p.info("file copied", "source", src, "dest", dst, "size", humanize.Bytes(uint64(size)))
}

func (p *pass) chmod(path string, mode fs.FileMode) {
	if !p.opts.DryRun {
		if err := fsutil.Chmod(path, mode); err != nil {
			p.fail(opErr(OpChmod, path, err))
			return
		}
	}

	p.out.ModesUpdated++
	p.info("file mode updated", "path", path, "mode", fmt.Sprintf("%#o", mode.Perm()))
}

func (p *pass) removeFile(path string) bool {
	if !p.opts.DryRun {
		if err := fsutil.Remove(path); err != nil {
			p.fail(opErr(OpDelete, path, err))
			return false
		}
	}

	p.removed[path] = true
	p.out.FilesDeleted++
	p.info("file deleted", "path", path)
	return true
}

func (p *pass) removeDir(path string) bool {
	if !p.opts.DryRun {
		if err := fsutil.RemoveAll(path); err != nil {
			p.fail(opErr(OpDelete, path, err))
			return false
		}
	}

	p.removed[path] = true
	p.out.DirsDeleted++
	p.info("directory deleted", "path", path)
	return true
}

func (p *pass) skip(msg string, e tree.Entry) {
	p.out.Skipped++
	p.logger.Warn(msg, "path", e.Path)
}

// info logs an action event, marking it in dry-run mode
func (p *pass) info(msg string, args ...any) {
	if p.opts.DryRun {
		msg = "[dry-run] " + msg
	}
	p.logger.Info(msg, args...)
}

// fail logs exactly one error event for a failed entry
func (p *pass) fail(err error) {
	p.out.Errors++

	var ee *EntryError
	if errors.As(err, &ee) {
		p.logger.Error("sync error", "op", string(ee.Op), "path", ee.Path, "error", ee.Err)
		return
	}
	p.logger.Error("sync error", "error", err)
}

// EntryError describes a failed operation on a single path
type EntryError struct {
	Op   Op
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

func opErr(op Op, path string, err error) error {
	return &EntryError{Op: op, Path: path, Err: err}
}

// resolveDir returns the absolute, symlink-resolved form of path, which must
// be a directory
func resolveDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", resolved)
	}
	return resolved, nil
}
