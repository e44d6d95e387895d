package daemon

import (
	"errors"
	"fmt"
	"syscall"

	"daemonize/internal/detach"
	"daemonize/internal/identity"
	"daemonize/internal/pidfile"
	"daemonize/internal/privilege"
	"daemonize/internal/stdio"
)

// Phase names the step of the sequence that failed.
type Phase string

const (
	PhaseConfig    Phase = "config"
	PhaseFork      Phase = "fork"
	PhaseSession   Phase = "session"
	PhaseProcName  Phase = "procname"
	PhaseWorkDir   Phase = "workdir"
	PhaseUmask     Phase = "umask"
	PhasePidFile   Phase = "pidfile"
	PhaseStreams   Phase = "streams"
	PhaseIdentity  Phase = "identity"
	PhasePrivilege Phase = "privilege"
)

// Error is the only error type Start returns. Err keeps the cause chain, so
// errors.Is works against the leaf package sentinels and syscall errnos, also
// for failures relayed from the child process.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemonize %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the short error kind, or "" for plain I/O failures.
func (e *Error) Kind() string {
	return kindOf(e.Err)
}

// Errno returns the OS error number behind e, if any.
func (e *Error) Errno() (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno, true
	}
	return 0, false
}

var kinds = []struct {
	name     string
	sentinel error
}{
	{"already_running", pidfile.ErrAlreadyRunning},
	{"conflict", pidfile.ErrConflict},
	{"lock_probe", pidfile.ErrLockProbe},
	{"not_found", identity.ErrNotFound},
	{"lookup_failed", identity.ErrLookupFailed},
	{"group_drop", privilege.ErrGroupDrop},
	{"user_drop", privilege.ErrUserDrop},
	{"redirect", stdio.ErrRedirect},
	{"session", detach.ErrSession},
	{"fork", detach.ErrFork},
}

func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.name
		}
	}
	return ""
}

func sentinelFor(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.sentinel
		}
	}
	return nil
}

func toFailure(e *Error) detach.Failure {
	errno, _ := e.Errno()
	return detach.Failure{
		Phase:   string(e.Phase),
		Kind:    e.Kind(),
		Errno:   errno,
		Message: e.Err.Error(),
	}
}

// remoteError stands in for an error that happened in the child.
type remoteError struct {
	msg  string
	errs []error
}

func (e *remoteError) Error() string   { return e.msg }
func (e *remoteError) Unwrap() []error { return e.errs }

func fromFailure(f *detach.Failure) *Error {
	if f == nil {
		return &Error{Phase: PhaseFork, Err: errors.New("daemon exited before reporting")}
	}
	phase := Phase(f.Phase)
	if phase == "" {
		phase = PhaseFork
	}
	remote := &remoteError{msg: f.Message}
	if sentinel := sentinelFor(f.Kind); sentinel != nil {
		remote.errs = append(remote.errs, sentinel)
	}
	if f.Errno != 0 {
		remote.errs = append(remote.errs, f.Errno)
	}
	return &Error{Phase: phase, Err: remote}
}
