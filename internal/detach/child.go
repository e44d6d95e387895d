package detach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"daemonize/internal/logging"
)

// ErrNotified is returned when a notifier is used after its one message.
var ErrNotified = errors.New("parent already notified")

// Notifier is the child's end of the notification channel. It carries
// exactly one message.
type Notifier struct {
	mu    sync.Mutex
	w     io.WriteCloser
	token string
	sent  bool
}

func newNotifier(w io.WriteCloser, token string) *Notifier {
	return &Notifier{w: w, token: token}
}

// Ready tells the parent that setup completed.
func (n *Notifier) Ready(pid int) error {
	return n.send(message{Status: statusReady, PID: pid})
}

// Fail relays a setup failure to the parent.
func (n *Notifier) Fail(f Failure) error {
	return n.send(message{
		Status:  statusFailed,
		Phase:   f.Phase,
		Kind:    f.Kind,
		Errno:   int(f.Errno),
		Message: f.Message,
	})
}

func (n *Notifier) send(msg message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent {
		return ErrNotified
	}
	n.sent = true
	msg.Token = n.token
	err := writeMessage(n.w, msg)
	if cerr := n.w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close notification channel: %w", cerr)
	}
	return err
}

// Close drops the channel without a message; the parent sees a failure.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent {
		return nil
	}
	n.sent = true
	return n.w.Close()
}

// Continue runs the child side of the detachment. In the session stage it
// makes the process a session leader; with DoubleFork it then launches the
// daemon stage and exits. The returned notifier is non-nil whenever the
// channel could be adopted, even if an error is returned, so the caller can
// report that error.
func Continue(opts Options) (*Notifier, error) {
	stage := CurrentStage()
	if stage == StageParent {
		return nil, fmt.Errorf("continue detachment: %w: not a detaching child", ErrNoChannel)
	}
	logger := opts.logger().With(logging.String("stage", stage.String()))

	if _, err := unix.FcntlInt(uintptr(notifyFD), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("adopt fd %d: %w: %w", notifyFD, ErrNoChannel, err)
	}
	unix.CloseOnExec(notifyFD)
	w := os.NewFile(uintptr(notifyFD), "daemonize-notify")
	notifier := newNotifier(w, launched.token)

	_ = os.Unsetenv(EnvStage)
	_ = os.Unsetenv(EnvToken)

	if stage == StageDaemon {
		logger.Debug("continuing as daemon stage")
		return notifier, nil
	}

	if _, err := unix.Setsid(); err != nil {
		return notifier, fmt.Errorf("setsid: %w: %w", ErrSession, err)
	}
	logger.Debug("session leader established", logging.Int(logging.FieldPID, os.Getpid()))

	if !opts.DoubleFork {
		return notifier, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return notifier, fmt.Errorf("resolve executable: %w: %w", ErrFork, err)
	}
	cmd := newChildCommand(exe, StageDaemon, launched.token, w)
	if err := cmd.Start(); err != nil {
		return notifier, fmt.Errorf("start daemon stage: %w: %w", ErrFork, err)
	}
	logger.Debug("daemon stage started", logging.Int(logging.FieldPID, cmd.Process.Pid))
	_ = cmd.Process.Release()
	_ = w.Close()
	opts.exit(0)
	return nil, nil
}
