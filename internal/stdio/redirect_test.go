package stdio

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

// scratchSlot returns a raw descriptor standing in for a standard stream.
func scratchSlot(t *testing.T) int {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "slot")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	defer f.Close()
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup slot: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

func openTarget(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open target: %v", err)
	}
	return f
}

func countFDs(t *testing.T) int {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("descriptor counting needs /proc")
	}
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("read /proc/self/fd: %v", err)
	}
	return len(entries)
}

func writeFD(t *testing.T, fd int, text string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(text)); err != nil {
		t.Fatalf("write fd %d: %v", fd, err)
	}
}

func TestRedirectToFile(t *testing.T) {
	slotFD := scratchSlot(t)
	path := filepath.Join(t.TempDir(), "out.log")
	target := openTarget(t, path)

	r, err := redirect([]slot{{fd: slotFD, dest: ToFile(target)}})
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if got := r.Replaced(); len(got) != 1 || got[0] != slotFD {
		t.Fatalf("Replaced = %v", got)
	}
	writeFD(t, slotFD, "hello\n")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("target content = %q", data)
	}
	if _, err := target.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("source file should be closed after redirect, got %v", err)
	}
}

func TestRedirectTruncatesOnlyWhenRebound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := os.WriteFile(path, []byte("previous run\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	unused := ToFile(openTarget(t, path)).Truncating()
	_ = unused.File().Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "previous run\n" {
		t.Fatalf("opening a truncating destination must not clear it: %q", data)
	}

	out, errSlot := scratchSlot(t), scratchSlot(t)
	dest := ToFile(openTarget(t, path)).Truncating()
	if _, err := redirect([]slot{{fd: out, dest: dest}, {fd: errSlot, dest: dest}}); err != nil {
		t.Fatalf("redirect: %v", err)
	}
	writeFD(t, out, "a")
	writeFD(t, errSlot, "b")
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "ab" {
		t.Fatalf("target content = %q", data)
	}
}

func TestTruncatingIgnoresNonFile(t *testing.T) {
	for _, d := range []Destination{Inherit(), Null()} {
		if d.Truncating().Truncates() {
			t.Fatalf("%s destination must not truncate", d)
		}
	}
}

func TestRedirectIsIdempotentPerSlot(t *testing.T) {
	slotFD := scratchSlot(t)
	path := filepath.Join(t.TempDir(), "out.log")

	before := countFDs(t)
	for i := 0; i < 3; i++ {
		if _, err := redirect([]slot{{fd: slotFD, dest: ToFile(openTarget(t, path))}}); err != nil {
			t.Fatalf("redirect #%d: %v", i, err)
		}
		if after := countFDs(t); after != before {
			t.Fatalf("descriptor count changed after redirect #%d: %d -> %d", i, before, after)
		}
	}
	writeFD(t, slotFD, "still here\n")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "still here\n" {
		t.Fatalf("target content = %q", data)
	}
}

func TestRedirectSharedSourceClosedOnce(t *testing.T) {
	out, errSlot := scratchSlot(t), scratchSlot(t)
	path := filepath.Join(t.TempDir(), "combined.log")
	target := openTarget(t, path)

	before := countFDs(t)
	if _, err := redirect([]slot{
		{fd: out, dest: ToFile(target)},
		{fd: errSlot, dest: ToFile(target)},
	}); err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if after := countFDs(t); after != before-1 {
		t.Fatalf("expected exactly the source descriptor closed: %d -> %d", before, after)
	}
	writeFD(t, out, "a")
	writeFD(t, errSlot, "b")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "ab" {
		t.Fatalf("target content = %q", data)
	}
}

func TestRedirectNullAndInherit(t *testing.T) {
	nullSlot, keep := scratchSlot(t), scratchSlot(t)

	before := countFDs(t)
	r, err := redirect([]slot{
		{fd: nullSlot, dest: Null()},
		{fd: keep, dest: Inherit()},
	})
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if after := countFDs(t); after != before {
		t.Fatalf("null device handle leaked: %d -> %d", before, after)
	}
	if got := r.Replaced(); len(got) != 1 || got[0] != nullSlot {
		t.Fatalf("Replaced = %v, inherited slot must not be listed", got)
	}

	buf := make([]byte, 8)
	n, err := unix.Read(nullSlot, buf)
	if err != nil || n != 0 {
		t.Fatalf("reading null device: n=%d err=%v", n, err)
	}
	writeFD(t, nullSlot, "discarded")
}

func TestRedirectRejectsMissingFile(t *testing.T) {
	_, err := redirect([]slot{{fd: scratchSlot(t), dest: ToFile(nil)}})
	if !errors.Is(err, ErrRedirect) {
		t.Fatalf("expected ErrRedirect, got %v", err)
	}
}

func TestRedirectDupFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	_, err := redirect([]slot{{fd: -1, dest: ToFile(openTarget(t, path))}})
	if !errors.Is(err, ErrRedirect) {
		t.Fatalf("expected ErrRedirect, got %v", err)
	}
}

func TestRedirectionCloseUnwinds(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "slot")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	slotFD, err := unix.Dup(int(f.Fd()))
	_ = f.Close()
	if err != nil {
		t.Fatalf("dup slot: %v", err)
	}

	r, err := redirect([]slot{{fd: slotFD, dest: Null()}})
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := unix.FcntlInt(uintptr(slotFD), unix.F_GETFD, 0); !errors.Is(err, unix.EBADF) {
		t.Fatalf("expected replaced descriptor closed, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
}

func TestDestinationString(t *testing.T) {
	if Inherit().String() != "inherit" || Null().String() != "null" {
		t.Fatal("unexpected destination names")
	}
	var zero Destination
	if zero.Kind() != KindInherit {
		t.Fatal("zero destination must inherit")
	}
}
