// Package daemonctl controls a running daemon from the outside through its
// pid file.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"daemonize/internal/pidfile"
)

// ErrNotRunning indicates no live process holds the pid file.
var ErrNotRunning = errors.New("daemon not running")

// PollInterval bounds how long a missed pid file event can delay Stop.
var PollInterval = 100 * time.Millisecond

// StopOptions controls how Stop terminates the daemon.
type StopOptions struct {
	// GracePeriod is how long to wait after SIGTERM.
	GracePeriod time.Duration
	// Force sends SIGKILL once the grace period expires and removes the pid file.
	Force bool
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Stop asks the daemon recorded in path to terminate and waits until it lets
// go of the pid file. A stale or missing file yields ErrNotRunning.
func Stop(ctx context.Context, path string, opts StopOptions) (StopResult, error) {
	status, err := pidfile.Inspect(path)
	if err != nil {
		return StopResult{}, err
	}
	if !status.Running() || status.PID <= 0 {
		return StopResult{}, ErrNotRunning
	}
	pid := status.PID
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	result := StopResult{PID: pid}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return StopResult{}, ErrNotRunning
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.GracePeriod)
	defer cancel()
	waitErr := WaitForRelease(waitCtx, path, pid)
	if waitErr == nil {
		return result, nil
	}
	if !opts.Force || ctx.Err() != nil || !errors.Is(waitErr, context.DeadlineExceeded) {
		return result, fmt.Errorf("daemon did not stop: %w", waitErr)
	}

	if err := ForceKill(path, pid); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	return result, nil
}

// ForceKill sends SIGKILL to pid and removes the pid file if it still names pid.
func ForceKill(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid (pid file: %s)", path)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if recorded, err := pidfile.Read(path); err == nil && recorded == pid {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove pid file %q: %w", path, err)
		}
	}
	return nil
}

// WaitForRelease blocks until the daemon gives up its pid file or its
// process disappears. Pid file events drive the wait; polling covers
// daemons that die without cleaning up.
func WaitForRelease(ctx context.Context, path string, pid int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pid file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch pid file directory: %w", err)
	}

	if released(path, pid) {
		return nil
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pid %d still holds %s: %w", pid, path, ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("pid file watcher closed")
			}
			if filepath.Clean(event.Name) == target && released(path, pid) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("pid file watcher closed")
			}
			return fmt.Errorf("watch pid file: %w", err)
		case <-ticker.C:
			if released(path, pid) {
				return nil
			}
		}
	}
}

func released(path string, pid int) bool {
	if !pidfile.Alive(pid) {
		return true
	}
	status, err := pidfile.Inspect(path)
	if err != nil {
		return false
	}
	return !status.Locked || status.PID != pid
}
