package stdio

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrRedirect reports that a standard stream could not be rebound.
var ErrRedirect = errors.New("stream redirection failed")

// Redirection records which standard descriptors were replaced.
type Redirection struct {
	mu       sync.Mutex
	replaced []int
	closed   bool
}

type slot struct {
	fd   int
	dest Destination
}

// Redirect rebinds descriptors 0, 1 and 2. Every source descriptor is closed
// exactly once after duplication; a standard descriptor is never closed.
func Redirect(stdin, stdout, stderr Destination) (*Redirection, error) {
	return redirect([]slot{
		{fd: int(os.Stdin.Fd()), dest: stdin},
		{fd: int(os.Stdout.Fd()), dest: stdout},
		{fd: int(os.Stderr.Fd()), dest: stderr},
	})
}

func redirect(slots []slot) (*Redirection, error) {
	for _, s := range slots {
		if err := s.dest.Validate(); err != nil {
			return nil, fmt.Errorf("fd %d: %w: %w", s.fd, ErrRedirect, err)
		}
	}

	targets := make([]int, 0, len(slots))
	for _, s := range slots {
		targets = append(targets, s.fd)
	}

	var (
		null    *os.File
		sources []*os.File
	)
	closeSources := func() {
		for _, f := range sources {
			fd := int(f.Fd())
			if fd <= 2 || slices.Contains(targets, fd) {
				continue
			}
			_ = f.Close()
		}
	}

	r := &Redirection{}
	for _, s := range slots {
		var src *os.File
		switch s.dest.Kind() {
		case KindInherit:
			continue
		case KindNull:
			if null == nil {
				f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
				if err != nil {
					closeSources()
					return r, fmt.Errorf("open %s: %w: %w", os.DevNull, ErrRedirect, err)
				}
				null = f
				sources = append(sources, f)
			}
			src = null
		case KindFile:
			src = s.dest.File()
			if !slices.Contains(sources, src) {
				sources = append(sources, src)
				if s.dest.Truncates() {
					if err := unix.Ftruncate(int(src.Fd()), 0); err != nil {
						closeSources()
						return r, fmt.Errorf("truncate %s: %w: %w", s.dest, ErrRedirect, err)
					}
				}
			}
		}

		if err := dup(int(src.Fd()), s.fd); err != nil {
			closeSources()
			return r, fmt.Errorf("dup %s onto fd %d: %w: %w", s.dest, s.fd, ErrRedirect, err)
		}
		r.replaced = append(r.replaced, s.fd)
	}

	closeSources()
	return r, nil
}

// Replaced lists the descriptors that now point at a new destination.
func (r *Redirection) Replaced() []int {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.replaced)
}

// Close closes the replaced descriptors. Inherited ones are left alone.
func (r *Redirection) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, fd := range r.replaced {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
	}
	return errors.Join(errs...)
}
