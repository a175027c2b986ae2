package sync

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Outcome tallies what a single pass did. It is reported, never persisted.
type Outcome struct {
	Started time.Time
	Elapsed time.Duration

	FilesCopied  int
	BytesCopied  int64
	FilesDeleted int
	DirsCreated  int
	DirsDeleted  int
	ModesUpdated int
	Skipped      int // symlinks and special files
	Errors       int
}

// Changes returns the number of mutating actions in the pass (or, in dry-run
// mode, the number that would have been taken)
func (o *Outcome) Changes() int {
	return o.FilesCopied + o.FilesDeleted + o.DirsCreated + o.DirsDeleted + o.ModesUpdated
}

// Attrs returns the tallies as log attributes
func (o *Outcome) Attrs() []any {
	return []any{
		slog.Float64("elapsed_seconds", o.Elapsed.Seconds()),
		slog.Int("copied", o.FilesCopied),
		slog.String("bytes", humanize.Bytes(uint64(o.BytesCopied))),
		slog.Int("deleted", o.FilesDeleted),
		slog.Int("dirs_created", o.DirsCreated),
		slog.Int("dirs_deleted", o.DirsDeleted),
		slog.Int("modes_updated", o.ModesUpdated),
		slog.Int("skipped", o.Skipped),
		slog.Int("errors", o.Errors),
	}
}

// Op names the operation behind a per-entry error event
type Op string

const (
	OpWalk   Op = "walk"
	OpHash   Op = "hash"
	OpMkdir  Op = "mkdir"
	OpCopy   Op = "copy"
	OpChmod  Op = "chmod"
	OpDelete Op = "delete"
	OpStat   Op = "stat"
)
