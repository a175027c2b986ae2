package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher turns source changes into pass triggers
type watcher struct {
	fs       *fsnotify.Watcher
	root     string
	debounce time.Duration
	trigger  chan<- struct{}
	logger   *slog.Logger
}

func newWatcher(root string, debounce time.Duration, trigger chan<- struct{}, logger *slog.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fs:       fw,
		root:     root,
		debounce: debounce,
		trigger:  trigger,
		logger:   logger,
	}

	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *watcher) run(ctx context.Context) error {
	defer func() {
		_ = w.fs.Close()
	}()

	timer := time.AfterFunc(w.debounce, w.fire)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
			// permission changes count too, modes are mirrored
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			// an overflow drops events; the next tick catches up
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handle keeps the watch set in step with the source tree
func (w *watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		info, err := os.Lstat(event.Name)
		if err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch directory", "path", event.Name, "error", err)
			}
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if err := w.fs.Remove(event.Name); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.logger.Debug("failed to remove watch", "path", event.Name, "error", err)
		}
	}
}

// fire sends a trigger unless one is already pending
func (w *watcher) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// unreadable subtrees are reported by the pass itself
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
