package daemon

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"daemonize/internal/detach"
	"daemonize/internal/identity"
	"daemonize/internal/logging"
	"daemonize/internal/pidfile"
	"daemonize/internal/privilege"
	"daemonize/internal/stdio"
)

type notifier interface {
	Ready(pid int) error
	Fail(f detach.Failure) error
	Close() error
}

type closer interface {
	Close() error
}

type releaser interface {
	Release() error
	Chown(uid, gid int) error
	Path() string
}

// system holds every process-level effect of the sequence.
type system struct {
	stage    func() detach.Stage
	spawn    func(detach.Options) (detach.Outcome, error)
	cont     func(detach.Options) (notifier, error)
	setName  func(string) error
	chdir    func(string) error
	umask    func(int) int
	acquire  func(string, pidfile.Options) (releaser, error)
	redirect func(stdin, stdout, stderr stdio.Destination) (closer, error)
	resolve  func(user, group identity.Spec) (identity.Identity, error)
	drop     func(identity.Identity) error
	exit     func(int)
	getpid   func() int
	getppid  func() int
}

func osSystem(logger *slog.Logger) system {
	resolver := identity.NewResolver(nil)
	dropper := privilege.New(logger)
	return system{
		stage: detach.CurrentStage,
		spawn: detach.Spawn,
		cont: func(opts detach.Options) (notifier, error) {
			n, err := detach.Continue(opts)
			if n == nil {
				return nil, err
			}
			return n, err
		},
		setName: setProcName,
		chdir:   os.Chdir,
		umask:   unix.Umask,
		acquire: func(path string, opts pidfile.Options) (releaser, error) {
			h, err := pidfile.Acquire(path, opts)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
		redirect: func(stdin, stdout, stderr stdio.Destination) (closer, error) {
			r, err := stdio.Redirect(stdin, stdout, stderr)
			if r == nil {
				return nil, err
			}
			return r, err
		},
		resolve: resolver.Resolve,
		drop:    dropper.Drop,
		exit:    os.Exit,
		getpid:  os.Getpid,
		getppid: os.Getppid,
	}
}

// Daemon is the detached process once setup completed.
type Daemon struct {
	mu       sync.Mutex
	cfg      *Config
	sys      system
	logger   *slog.Logger
	state    State
	trace    []State
	pid      int
	notifier notifier
	pidFile  releaser
	streams  closer
	identity identity.Identity
}

// IsChild reports whether this process is a re-executed detaching child.
func IsChild() bool {
	return detach.IsChild()
}

// Start detaches the program according to cfg.
//
// In the original process Start does not return on success: it runs the
// parent hook and exits 0. On failure it returns the *Error relayed by the
// child. In the child Start returns the running daemon; a failing child
// unwinds, reports to the parent and exits 1.
func Start(cfg *Config) (*Daemon, error) {
	if cfg == nil {
		return nil, &Error{Phase: PhaseConfig, Err: errors.New("nil config")}
	}
	logger := logging.NewComponentLogger(cfg.logger, "daemon")
	return start(cfg, osSystem(cfg.logger), logger)
}

func start(cfg *Config, sys system, logger *slog.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, sys: sys, logger: logger, identity: identity.None()}
	d.transition(StateConfiguring)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d.transition(StateForking)
	if sys.stage() == detach.StageParent {
		return nil, d.runParent()
	}
	return d.runChild()
}

func (d *Daemon) detachOptions() detach.Options {
	return detach.Options{DoubleFork: d.cfg.doubleFork, Logger: d.cfg.logger, Exit: d.sys.exit}
}

func (d *Daemon) runParent() error {
	d.transition(StateWaitingOnChild)
	outcome, err := d.sys.spawn(d.detachOptions())
	if err != nil {
		d.transition(StateFailed)
		return &Error{Phase: PhaseFork, Err: err}
	}
	if !outcome.Ready {
		d.transition(StateFailed)
		e := fromFailure(outcome.Failure)
		d.logger.Debug("daemon reported failure",
			logging.String(logging.FieldPhase, string(e.Phase)),
			logging.String("kind", e.Kind()),
		)
		return e
	}

	d.pid = outcome.PID
	d.transition(StateExited)
	d.logger.Debug("daemon ready", logging.Int(logging.FieldPID, outcome.PID))
	if d.cfg.parentHook != nil {
		d.cfg.parentHook(d.sys.getpid(), outcome.PID)
	}
	d.sys.exit(0)
	return nil
}

func (d *Daemon) runChild() (*Daemon, error) {
	n, err := d.sys.cont(d.detachOptions())
	d.notifier = n
	if err != nil {
		phase := PhaseSession
		if errors.Is(err, detach.ErrFork) || errors.Is(err, detach.ErrNoChannel) {
			phase = PhaseFork
		}
		return nil, d.fail(phase, err)
	}
	d.pid = d.sys.getpid()
	d.logger = d.logger.With(logging.Int(logging.FieldPID, d.pid))
	d.transition(StateSessionDetached)

	if d.cfg.childHook != nil {
		d.cfg.childHook(d.sys.getppid(), d.pid)
	}

	if d.cfg.name != "" {
		if err := d.sys.setName(d.cfg.name); err != nil {
			return nil, d.fail(PhaseProcName, err)
		}
	}

	if err := d.sys.chdir(d.cfg.workDir); err != nil {
		return nil, d.fail(PhaseWorkDir, err)
	}
	d.transition(StateWorkDirSet)

	d.sys.umask(d.cfg.umask)
	d.transition(StateUmaskSet)

	if d.cfg.pidFile != "" {
		h, err := d.sys.acquire(d.cfg.pidFile, pidfile.Options{
			Policy: d.cfg.pidPolicy,
			Mode:   d.cfg.pidMode,
			PID:    d.pid,
		})
		if err != nil {
			return nil, d.fail(PhasePidFile, err)
		}
		d.pidFile = h
	}
	d.transition(StatePidAcquired)

	streams, err := d.sys.redirect(d.cfg.stdin, d.cfg.stdout, d.cfg.stderr)
	d.streams = streams
	if err != nil {
		return nil, d.fail(PhaseStreams, err)
	}
	d.transition(StateStreamsRedirected)

	id, err := d.sys.resolve(d.cfg.user, d.cfg.group)
	if err != nil {
		return nil, d.fail(PhaseIdentity, err)
	}
	d.identity = id
	if d.cfg.chownPid && d.pidFile != nil {
		if err := d.pidFile.Chown(id.UID, id.GID); err != nil {
			return nil, d.fail(PhasePidFile, err)
		}
	}
	if err := d.sys.drop(id); err != nil {
		return nil, d.fail(PhasePrivilege, err)
	}
	d.transition(StatePrivilegeDropped)

	d.transition(StateRunning)
	d.logger.Info("daemon running",
		logging.String("workdir", d.cfg.workDir),
		logging.String(logging.FieldPidFile, d.cfg.pidFile),
		logging.String("identity", id.String()),
	)
	if err := d.notifier.Ready(d.pid); err != nil {
		logging.WarnWithContext(d.logger, "parent notification failed", "notify_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "launcher may report a failure although the daemon runs"),
		)
	}
	return d, nil
}

// fail unwinds what earlier states acquired, reports to the parent and
// terminates the child.
func (d *Daemon) fail(phase Phase, err error) error {
	e := &Error{Phase: phase, Err: err}
	d.transition(StateFailed)
	logging.ErrorWithContext(d.logger, "daemon setup failed", "daemon_setup_failed",
		logging.String(logging.FieldPhase, string(phase)),
		logging.Error(err),
	)

	d.unwind()

	if d.notifier != nil {
		_ = d.notifier.Fail(toFailure(e))
	}
	d.sys.exit(1)
	return e
}

func (d *Daemon) unwind() {
	if d.streams != nil {
		if err := d.streams.Close(); err != nil {
			d.logger.Debug("close redirected streams", logging.Error(err))
		}
		d.streams = nil
	}
	if d.pidFile != nil {
		if err := d.pidFile.Release(); err != nil {
			d.logger.Debug("release pid file", logging.Error(err))
		}
		d.pidFile = nil
	}
}

func (d *Daemon) transition(next State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = next
	d.trace = append(d.trace, next)
	d.logger.Debug("state", logging.String("state", next.String()))
}

// Release drops the pid file. Safe to call more than once.
func (d *Daemon) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pidFile == nil {
		return nil
	}
	err := d.pidFile.Release()
	d.pidFile = nil
	return err
}

func (d *Daemon) PID() int { return d.pid }

// PidFile returns the pid file path, or "" when none is held.
func (d *Daemon) PidFile() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pidFile == nil {
		return ""
	}
	return d.pidFile.Path()
}

func (d *Daemon) Identity() identity.Identity { return d.identity }

func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
