package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrReplicaLocked is returned when another process already mirrors into the
// replica
var ErrReplicaLocked = errors.New("replica is locked by another dirmirror process")

type replicaLock struct {
	flock *flock.Flock
}

func acquireLock(path string) (*replicaLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	f := flock.New(path)
	locked, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock replica: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrReplicaLocked, path)
	}

	return &replicaLock{flock: f}, nil
}

func (l *replicaLock) path() string {
	return l.flock.Path()
}

func (l *replicaLock) release() error {
	// nothing to clean up if this process never held the lock
	if !l.flock.Locked() {
		return nil
	}

	// the file is kept so every holder locks the same inode
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock replica: %w", err)
	}
	return nil
}
