package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/dirmirror/internal/config"
	"github.com/schaermu/dirmirror/internal/sync"
	"github.com/schaermu/dirmirror/internal/testutil"
)

// fakePasser counts passes and can be told to fail or panic
type fakePasser struct {
	calls   atomic.Int32
	failFor int32
	panicOn int32
	err     error
}

func (f *fakePasser) Reconcile(source, replica string) (*sync.Outcome, error) {
	n := f.calls.Add(1)
	if n == f.panicOn {
		panic("boom")
	}
	if n <= f.failFor {
		return &sync.Outcome{}, f.err
	}
	return &sync.Outcome{FilesCopied: 1}, nil
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu  gosync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.Source = t.TempDir()
	cfg.Paths.Replica = t.TempDir()
	cfg.Paths.LockFile = filepath.Join(t.TempDir(), "dirmirror.lock")
	return cfg
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func TestRunOnce(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := testLogger()
	rec := &fakePasser{}

	out, err := New(rec, cfg, logger).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.FilesCopied)
	assert.Equal(t, int32(1), rec.calls.Load())

	// the lock is released but its file stays for the next holder
	_, err = os.Stat(cfg.Paths.LockFile)
	assert.NoError(t, err)

	again, err := acquireLock(cfg.LockFilePath())
	require.NoError(t, err)
	require.NoError(t, again.release())
}

func TestRunOnce_PassError(t *testing.T) {
	cfg := testConfig(t)
	logger, logs := testLogger()
	rec := &fakePasser{failFor: 1, err: sync.ErrInvalidRoot}

	_, err := New(rec, cfg, logger).RunOnce(context.Background())
	require.ErrorIs(t, err, sync.ErrInvalidRoot)
	assert.Equal(t, 1, strings.Count(logs.String(), `msg="pass failed"`))
}

func TestRunOnce_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &fakePasser{}
	logger, _ := testLogger()
	_, err := New(rec, testConfig(t), logger).RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rec.calls.Load())
}

func TestRunOnce_ReplicaLocked(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := testLogger()

	held, err := acquireLock(cfg.LockFilePath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.release() })

	rec := &fakePasser{}
	_, err = New(rec, cfg, logger).RunOnce(context.Background())
	require.ErrorIs(t, err, ErrReplicaLocked)
	assert.Zero(t, rec.calls.Load())

	err = New(rec, cfg, logger).Run(context.Background())
	require.ErrorIs(t, err, ErrReplicaLocked)
	assert.Zero(t, rec.calls.Load())
}

func TestRun_ImmediatePassAndStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.IntervalSeconds = 3600
	logger, logs := testLogger()
	rec := &fakePasser{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(rec, cfg, logger).Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Contains(t, logs.String(), `msg="runner stopped"`)
}

func TestRun_SurvivesFailuresAndPanics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.IntervalSeconds = 1
	logger, logs := testLogger()
	rec := &fakePasser{failFor: 1, panicOn: 2, err: errors.New("source vanished")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(rec, cfg, logger).Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls.Load() >= 3 }, 10*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, `msg="pass failed"`))
	assert.Contains(t, out, "source vanished")
	assert.Contains(t, out, "panic: boom")
}

func TestRun_WatchTriggersPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.IntervalSeconds = 3600
	cfg.Watch.Enabled = true
	cfg.Watch.DebounceMillis = 20
	logger, _ := testLogger()
	rec := &fakePasser{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(rec, cfg, logger).Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// a new directory is watched as soon as it appears
	require.NoError(t, os.Mkdir(filepath.Join(cfg.Paths.Source, "sub"), 0755))
	require.Eventually(t, func() bool { return rec.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	before := rec.calls.Load()
	testutil.WriteFile(t, cfg.Paths.Source, "sub/a.txt", "alpha", 0644)
	require.Eventually(t, func() bool { return rec.calls.Load() > before }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_WatchFailureFallsBackToInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.IntervalSeconds = 3600
	cfg.Watch.Enabled = true
	cfg.Paths.Source = filepath.Join(t.TempDir(), "missing")
	logger, logs := testLogger()
	rec := &fakePasser{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(rec, cfg, logger).Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, logs.String(), "relying on interval")
}

func TestLock_ReleaseWithoutHold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirmirror.lock")

	lock, err := acquireLock(path)
	require.NoError(t, err)
	assert.Equal(t, path, lock.path())

	_, err = acquireLock(path)
	require.ErrorIs(t, err, ErrReplicaLocked)

	require.NoError(t, lock.release())
	assert.NoError(t, lock.release())

	again, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, again.release())
}

func TestLock_FileOutlivesRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirmirror.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, first.release())

	// the next holder locks the same file, not a new one
	second, err := acquireLock(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.release() })

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after))

	_, err = acquireLock(path)
	require.ErrorIs(t, err, ErrReplicaLocked)
}
