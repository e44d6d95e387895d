package detach

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"syscall"
)

const (
	statusReady  = "ready"
	statusFailed = "failed"
)

// message is one line on the notification pipe.
type message struct {
	Status  string `json:"status"`
	Token   string `json:"token"`
	PID     int    `json:"pid,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Errno   int    `json:"errno,omitempty"`
	Message string `json:"message,omitempty"`
}

// Failure is a setup error relayed from the child.
type Failure struct {
	Phase   string
	Kind    string
	Errno   syscall.Errno
	Message string
}

func (f *Failure) Error() string {
	if f.Phase == "" {
		return f.Message
	}
	return f.Phase + ": " + f.Message
}

// Outcome is what the parent learns from the child.
type Outcome struct {
	Ready   bool
	PID     int
	Failure *Failure
}

func writeMessage(w io.Writer, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode handoff message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write handoff message: %w", err)
	}
	return nil
}

// readOutcome performs the single read of the handoff. ok is false when the
// writer closed before sending anything.
func readOutcome(r io.Reader, token string) (outcome Outcome, ok bool, err error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if len(line) == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("read handoff: %w", err)
	}

	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Outcome{}, true, fmt.Errorf("decode handoff %q: %w", line, err)
	}
	if msg.Token != token {
		return Outcome{Failure: &Failure{Phase: "fork", Message: "handoff token mismatch"}}, true, nil
	}

	switch msg.Status {
	case statusReady:
		return Outcome{Ready: true, PID: msg.PID}, true, nil
	case statusFailed:
		return Outcome{Failure: &Failure{
			Phase:   msg.Phase,
			Kind:    msg.Kind,
			Errno:   syscall.Errno(msg.Errno),
			Message: msg.Message,
		}}, true, nil
	default:
		return Outcome{}, true, fmt.Errorf("unknown handoff status %q", msg.Status)
	}
}
