package pidfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning means another live process holds the lock.
	ErrAlreadyRunning = errors.New("pid file locked by a running instance")
	// ErrConflict means the file is unlocked but names another live process
	// and the Reject policy forbids taking it over.
	ErrConflict = errors.New("pid file names a live process")
	// ErrLockProbe means the lock state could not be determined.
	ErrLockProbe = errors.New("pid file lock probe failed")
)

// Policy decides what happens to an existing, unlocked pid file.
type Policy int

const (
	// Reject keeps a file whose recorded pid is still alive.
	Reject Policy = iota
	// Reclaim always overwrites an unlocked file.
	Reclaim
)

func (p Policy) String() string {
	switch p {
	case Reclaim:
		return "reclaim"
	default:
		return "reject"
	}
}

// ParsePolicy accepts "reject" and "reclaim" (also "truncate").
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "reject":
		return Reject, nil
	case "reclaim", "truncate":
		return Reclaim, nil
	default:
		return Reject, fmt.Errorf("unknown pid file policy %q", value)
	}
}

// DefaultMode is the permission used when creating a pid file.
const DefaultMode fs.FileMode = 0o644

type Options struct {
	Policy Policy
	Mode   fs.FileMode
	// PID overrides the recorded pid; zero means os.Getpid().
	PID int
}

// Handle owns an acquired pid file for the life of the daemon.
//
// It keeps two descriptors on the same inode: file carries reads and writes,
// and the flock holds its own descriptor for the lock. The lock belongs to
// that open file description, so closing file never drops it. Release closes
// both.
type Handle struct {
	mu       sync.Mutex
	path     string
	pid      int
	file     *os.File
	lock     *flock.Flock
	released bool
}

// Acquire creates or opens path, takes an exclusive non-blocking lock and
// records the pid. The lock is never waited on.
func Acquire(path string, opts Options) (*Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pid file path is empty")
	}
	mode := opts.Mode
	if mode == 0 {
		mode = DefaultMode
	}
	pid := opts.PID
	if pid <= 0 {
		pid = os.Getpid()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, mode)
	if err != nil {
		return nil, fmt.Errorf("open pid file %s: %w", path, err)
	}

	lock := flock.New(path, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(mode))
	locked, err := lock.TryLock()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock pid file %s: %w: %w", path, ErrLockProbe, err)
	}
	if !locked {
		holder, _ := readPID(file)
		_ = file.Close()
		if holder > 0 {
			return nil, fmt.Errorf("pid file %s held by pid %d: %w", path, holder, ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("pid file %s: %w", path, ErrAlreadyRunning)
	}

	h := &Handle{path: path, pid: pid, file: file, lock: lock}

	if opts.Policy == Reject {
		if recorded, err := readPID(file); err == nil && recorded != pid && Alive(recorded) {
			_ = h.closeLocked()
			return nil, fmt.Errorf("pid file %s records live pid %d: %w", path, recorded, ErrConflict)
		}
	}

	if err := h.write(); err != nil {
		_ = h.closeLocked()
		return nil, err
	}
	return h, nil
}

func (h *Handle) write() error {
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file %s: %w", h.path, err)
	}
	if _, err := h.file.WriteAt([]byte(strconv.Itoa(h.pid)+"\n"), 0); err != nil {
		return fmt.Errorf("write pid file %s: %w", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync pid file %s: %w", h.path, err)
	}
	return nil
}

func (h *Handle) Path() string { return h.path }

func (h *Handle) PID() int { return h.pid }

// Chown changes the pid file owner. A negative id leaves that field as is.
func (h *Handle) Chown(uid, gid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("chown pid file %s: %w", h.path, os.ErrClosed)
	}
	if err := h.file.Chown(uid, gid); err != nil {
		return fmt.Errorf("chown pid file %s: %w", h.path, err)
	}
	return nil
}

// Release removes the file if it still records this handle's pid, then drops
// the lock. When the directory no longer permits removal, as after a privilege
// drop, the file is emptied through the held descriptor instead. Calling it
// more than once is a no-op.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	var errs []error
	if recorded, err := readPID(h.file); err == nil && recorded == h.pid {
		if err := h.removeLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.closeLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// removeLocked unlinks path only while it still names the held inode.
func (h *Handle) removeLocked() error {
	info, err := os.Stat(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		held, serr := h.file.Stat()
		if serr != nil {
			return fmt.Errorf("stat pid file %s: %w", h.path, serr)
		}
		if !os.SameFile(info, held) {
			return nil
		}
		err = os.Remove(h.path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	// An empty file reads as stale to the next start.
	if terr := h.file.Truncate(0); terr != nil {
		return fmt.Errorf("remove pid file %s: %w", h.path, errors.Join(err, terr))
	}
	return nil
}

func (h *Handle) closeLocked() error {
	var errs []error
	if err := h.lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("unlock pid file %s: %w", h.path, err))
	}
	if err := h.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close pid file %s: %w", h.path, err))
	}
	return errors.Join(errs...)
}

// Read parses the pid recorded at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := parsePID(data)
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

func readPID(f *os.File) (int, error) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, err
	}
	return parsePID(buf[:n])
}

func parsePID(data []byte) (int, error) {
	text := string(bytes.TrimSpace(data))
	if text == "" {
		return 0, errors.New("empty pid")
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", text)
	}
	return pid, nil
}

// Alive reports whether pid names a process, using signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
