//go:build integration

package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/dirmirror/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the dirmirror binary once and runs it against temporary trees
type Harness struct {
	t       *testing.T
	binary  string
	Source  string
	Replica string
	LogFile string
}

// NewHarness creates a new test harness with empty source and replica roots
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	base := t.TempDir()
	h := &Harness{
		t:       t,
		Source:  filepath.Join(base, "source"),
		Replica: filepath.Join(base, "replica"),
		LogFile: filepath.Join(base, "dirmirror.log"),
	}
	for _, dir := range []string{h.Source, h.Replica} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatalf("create %s: %v", dir, err)
		}
	}
	return h
}

// Build compiles the binary into a temp directory
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot := testutil.ProjectRoot(h.t)
	h.binary = filepath.Join(h.t.TempDir(), "dirmirror")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/dirmirror")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Exec runs the binary with the given arguments
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustSync runs one pass over the harness roots and fails the test on a
// non-zero exit
func (h *Harness) MustSync(ctx context.Context, extra ...string) string {
	h.t.Helper()

	args := append([]string{"sync", h.Source, h.Replica, "--log-file", h.LogFile}, extra...)
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("sync failed with exit code %d\nstdout: %s\nstderr: %s", exitCode, stdout, stderr)
	}
	return stdout
}

// Start launches the daemon in the background and returns a stop function
// that interrupts it and waits for it to exit
func (h *Harness) Start(ctx context.Context, extra ...string) func() {
	h.t.Helper()

	args := append([]string{"run", h.Source, h.Replica, "--log-file", h.LogFile}, extra...)
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[run] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[run] "}

	if err := cmd.Start(); err != nil {
		h.t.Fatalf("start daemon: %v", err)
	}

	return func() {
		_ = cmd.Process.Signal(os.Interrupt)
		if err := cmd.Wait(); err != nil {
			h.t.Errorf("daemon exited with error: %v", err)
		}
	}
}

// ReadLog returns the content of the log file
func (h *Harness) ReadLog() string {
	h.t.Helper()
	data, err := os.ReadFile(h.LogFile)
	if err != nil {
		h.t.Fatalf("read log: %v", err)
	}
	return string(data)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
