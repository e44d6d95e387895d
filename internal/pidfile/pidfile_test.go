package pidfile_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofrs/flock"

	"daemonize/internal/pidfile"
)

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot spawn helper process: %v", err)
	}
	return cmd.ProcessState.Pid()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestAcquireWritesPIDAndReleaseRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")

	h, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got, want := readFile(t, path), strconv.Itoa(os.Getpid())+"\n"; got != want {
		t.Fatalf("pid file content = %q, want %q", got, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o600 != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode())
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}
}

func TestAcquireLockedFileFailsAndLeavesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	holder := flock.New(path)
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("seed lock: locked=%v err=%v", locked, err)
	}
	t.Cleanup(func() { _ = holder.Close() })

	_, err = pidfile.Acquire(path, pidfile.Options{Policy: pidfile.Reclaim})
	if !errors.Is(err, pidfile.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := readFile(t, path); got != "4242\n" {
		t.Fatalf("locked pid file was modified: %q", got)
	}
}

func TestAcquireSecondHandleInSameProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	first, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	if _, err := pidfile.Acquire(path, pidfile.Options{}); !errors.Is(err, pidfile.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestAcquireReclaimsStaleFile(t *testing.T) {
	dead := deadPID(t)
	for _, policy := range []pidfile.Policy{pidfile.Reject, pidfile.Reclaim} {
		t.Run(policy.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "d.pid")
			if err := os.WriteFile(path, []byte(strconv.Itoa(dead)+"\n"), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			h, err := pidfile.Acquire(path, pidfile.Options{Policy: policy})
			if err != nil {
				t.Fatalf("Acquire over stale file: %v", err)
			}
			t.Cleanup(func() { _ = h.Release() })
			if got, want := readFile(t, path), strconv.Itoa(os.Getpid())+"\n"; got != want {
				t.Fatalf("content = %q, want %q", got, want)
			}
		})
	}
}

func TestAcquireGarbageIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	if err := os.WriteFile(path, []byte("not a pid, much longer than the new content\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h, err := pidfile.Acquire(path, pidfile.Options{Policy: pidfile.Reject})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })
	if got, want := readFile(t, path), strconv.Itoa(os.Getpid())+"\n"; got != want {
		t.Fatalf("content = %q, want %q", got, want)
	}
}

func TestAcquireRejectLivePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	live := os.Getppid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(live)+"\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := pidfile.Acquire(path, pidfile.Options{Policy: pidfile.Reject})
	if !errors.Is(err, pidfile.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := readFile(t, path); got != strconv.Itoa(live)+"\n" {
		t.Fatalf("rejected pid file was modified: %q", got)
	}

	h, err := pidfile.Acquire(path, pidfile.Options{Policy: pidfile.Reclaim})
	if err != nil {
		t.Fatalf("Reclaim should overwrite an unlocked file: %v", err)
	}
	_ = h.Release()
}

func TestReleaseLeavesForeignPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	h, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := os.WriteFile(path, []byte("99999\n"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := readFile(t, path); got != "99999\n" {
		t.Fatalf("foreign pid file was touched: %q", got)
	}
}

func TestReleaseEmptiesFileWhenDirectoryIsReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "run")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "d.pid")
	h, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("pid file should be emptied, size = %d", info.Size())
	}

	status, err := pidfile.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.Stale() || status.PID != 0 {
		t.Fatalf("emptied file should read as stale: %+v", status)
	}
}

func TestReleaseLeavesReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.pid")
	h, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	replacement := filepath.Join(dir, "other.pid")
	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(replacement, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Rename(replacement, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := readFile(t, path); got != content {
		t.Fatalf("replaced pid file was touched: %q", got)
	}
}

func TestHeldFileAndLockShareInode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	h, err := pidfile.Acquire(path, pidfile.Options{PID: 4242})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	status, err := pidfile.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.Locked || status.PID != 4242 {
		t.Fatalf("lock and recorded pid disagree: %+v", status)
	}
	if got := readFile(t, path); got != "4242\n" {
		t.Fatalf("pid file content = %q", got)
	}
}

func TestAcquireMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "d.pid")
	_, err := pidfile.Acquire(path, pidfile.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, pidfile.ErrAlreadyRunning) || errors.Is(err, pidfile.ErrLockProbe) {
		t.Fatalf("open failure must be an I/O error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist cause, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.pid")

	status, err := pidfile.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect missing: %v", err)
	}
	if status.Exists || status.Running() {
		t.Fatalf("unexpected status for missing file: %+v", status)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("Inspect must not create the file")
	}

	h, err := pidfile.Acquire(path, pidfile.Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	status, err = pidfile.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect held: %v", err)
	}
	if !status.Running() || status.PID != os.Getpid() || !status.Alive {
		t.Fatalf("unexpected status for held file: %+v", status)
	}
	_ = h.Release()

	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))+"\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	status, err = pidfile.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect stale: %v", err)
	}
	if !status.Stale() || status.Alive {
		t.Fatalf("unexpected status for stale file: %+v", status)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]pidfile.Policy{
		"":         pidfile.Reject,
		"reject":   pidfile.Reject,
		"Reclaim":  pidfile.Reclaim,
		"truncate": pidfile.Reclaim,
	}
	for in, want := range tests {
		got, err := pidfile.ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := pidfile.ParsePolicy("overwrite"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestAlive(t *testing.T) {
	if !pidfile.Alive(os.Getpid()) {
		t.Fatal("current process must be alive")
	}
	if pidfile.Alive(0) || pidfile.Alive(-1) {
		t.Fatal("non-positive pids are never alive")
	}
	if pidfile.Alive(deadPID(t)) {
		t.Fatal("reaped helper must not be alive")
	}
}
