package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/dirmirror/internal/config"
	"github.com/schaermu/dirmirror/internal/sync"
)

// Passer runs a single reconciliation pass
type Passer interface {
	Reconcile(source, replica string) (*sync.Outcome, error)
}

// Runner drives passes for one source/replica pair. Passes never overlap.
type Runner struct {
	rec    Passer
	cfg    *config.Config
	logger *slog.Logger

	// trigger coalesces change notifications into at most one pending pass
	trigger chan struct{}
}

// New creates a new runner
func New(rec Passer, cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		rec:     rec,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// RunOnce runs a single pass while holding the replica lock
func (r *Runner) RunOnce(ctx context.Context) (*sync.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, err := acquireLock(r.cfg.LockFilePath())
	if err != nil {
		return nil, err
	}
	defer r.release(lock)

	return r.pass()
}

// Run holds the replica lock, runs a pass immediately and then one per
// interval tick or debounced source change until ctx is cancelled. Failed
// passes are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	lock, err := acquireLock(r.cfg.LockFilePath())
	if err != nil {
		return err
	}
	defer r.release(lock)

	r.logger.Info("runner started",
		"source", r.cfg.Paths.Source,
		"replica", r.cfg.Paths.Replica,
		"interval", r.cfg.Interval().String(),
		"watch", r.cfg.Watch.Enabled)

	g, gctx := errgroup.WithContext(ctx)

	if r.cfg.Watch.Enabled {
		w, err := newWatcher(r.cfg.Paths.Source, r.cfg.Debounce(), r.trigger, r.logger)
		if err != nil {
			// the interval still drives passes
			r.logger.Warn("failed to watch source, relying on interval", "error", err)
		} else {
			g.Go(func() error {
				return w.run(gctx)
			})
		}
	}

	g.Go(func() error {
		return r.schedule(gctx)
	})

	err = g.Wait()
	r.logger.Info("runner stopped")
	return err
}

// schedule runs passes one at a time until ctx is done
func (r *Runner) schedule(ctx context.Context) error {
	r.safePass()

	ticker := time.NewTicker(r.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.trigger:
			r.logger.Debug("source changed")
		}

		// cancellation wins over a tick that fired at the same time
		if ctx.Err() != nil {
			return nil
		}
		r.safePass()
	}
}

// safePass runs a pass and keeps its failures from reaching the scheduler
func (r *Runner) safePass() {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("pass failed", "error", fmt.Sprintf("panic: %v", v))
		}
	}()

	_, _ = r.pass()
}

func (r *Runner) pass() (*sync.Outcome, error) {
	out, err := r.rec.Reconcile(r.cfg.Paths.Source, r.cfg.Paths.Replica)
	if err != nil {
		r.logger.Error("pass failed", "error", err)
		return out, err
	}
	return out, nil
}

func (r *Runner) release(lock *replicaLock) {
	if err := lock.release(); err != nil {
		r.logger.Warn("failed to release replica lock", "path", lock.path(), "error", err)
	}
}
