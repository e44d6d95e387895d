package detach

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"daemonize/internal/logging"
)

var (
	// ErrFork reports that the child process could not be started.
	ErrFork = errors.New("fork failed")
	// ErrSession reports that the child could not become a session leader.
	ErrSession = errors.New("session creation failed")
	// ErrNoChannel means a child was launched without a notification pipe.
	ErrNoChannel = errors.New("notification channel unavailable")
)

// Options configures both sides of the detachment.
type Options struct {
	DoubleFork bool
	Logger     *slog.Logger
	// Exit terminates the intermediate process in double-fork mode.
	Exit func(code int)
}

func (o Options) logger() *slog.Logger {
	return logging.NewComponentLogger(o.Logger, "detach")
}

func (o Options) exit(code int) {
	if o.Exit != nil {
		o.Exit(code)
		return
	}
	os.Exit(code)
}

// Spawn re-executes the current program as a detaching child and blocks until
// the child reports. The wait has no timeout: a child stuck in setup keeps
// the parent blocked.
func Spawn(opts Options) (Outcome, error) {
	logger := opts.logger()

	exe, err := os.Executable()
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve executable: %w: %w", ErrFork, err)
	}
	token := uuid.NewString()

	r, w, err := os.Pipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("create notification pipe: %w: %w", ErrFork, err)
	}
	defer r.Close()

	cmd := newChildCommand(exe, StageSession, token, w)
	if err := cmd.Start(); err != nil {
		_ = w.Close()
		return Outcome{}, fmt.Errorf("start child: %w: %w", ErrFork, err)
	}
	_ = w.Close()
	logger.Debug("child started", logging.Int(logging.FieldPID, cmd.Process.Pid), logging.Bool("double_fork", opts.DoubleFork))

	outcome, ok, readErr := readOutcome(r, token)

	switch {
	case readErr != nil:
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return Outcome{}, fmt.Errorf("child %d: %w", cmd.Process.Pid, readErr)
	case !ok:
		waitErr := cmd.Wait()
		msg := "daemon exited before reporting"
		if waitErr != nil {
			msg += ": " + waitErr.Error()
		}
		return Outcome{Failure: &Failure{Phase: "fork", Message: msg}}, nil
	case outcome.Ready && !opts.DoubleFork:
		_ = cmd.Process.Release()
	default:
		// The failed child or the intermediate exits right after reporting.
		_ = cmd.Wait()
	}
	return outcome, nil
}

func newChildCommand(exe string, stage Stage, token string, notify *os.File) *exec.Cmd {
	cmd := exec.Command(exe, os.Args[1:]...)
	if len(os.Args) > 0 {
		cmd.Args[0] = os.Args[0]
	}
	cmd.Env = stageEnv(os.Environ(), stage, token)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{notify}
	return cmd
}
