package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gofrs/flock"
)

// Status describes a pid file as seen by an outside observer.
type Status struct {
	Path   string
	Exists bool
	PID    int // zero when missing or unparsable
	Locked bool
	Alive  bool
}

// Running reports whether a daemon currently owns the file.
func (s Status) Running() bool {
	return s.Locked
}

// Stale reports a leftover file that nobody holds.
func (s Status) Stale() bool {
	return s.Exists && !s.Locked
}

// Inspect probes path without creating it or disturbing its holder.
func Inspect(path string) (Status, error) {
	status := Status{Path: path}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return status, nil
		}
		return status, fmt.Errorf("stat pid file %s: %w", path, err)
	}
	status.Exists = true

	if pid, err := Read(path); err == nil {
		status.PID = pid
		status.Alive = Alive(pid)
	}

	probe := flock.New(path, flock.SetFlag(os.O_RDONLY))
	ok, err := probe.TryRLock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Status{Path: path}, nil
		}
		return status, fmt.Errorf("probe pid file %s: %w: %w", path, ErrLockProbe, err)
	}
	if ok {
		_ = probe.Close()
		return status, nil
	}
	status.Locked = true
	return status, nil
}
