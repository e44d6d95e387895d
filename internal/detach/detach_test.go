package detach

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
)

const envTestMode = "DETACH_TEST_MODE"

// TestMain doubles as the re-executed child for the Spawn tests.
func TestMain(m *testing.M) {
	if CurrentStage() != StageParent {
		os.Exit(runTestChild())
	}
	os.Exit(m.Run())
}

func runTestChild() int {
	mode := os.Getenv(envTestMode)
	n, err := Continue(Options{DoubleFork: strings.HasSuffix(mode, "-double")})
	if err != nil {
		if n != nil {
			_ = n.Fail(Failure{Phase: "session", Errno: syscall.EPERM, Message: err.Error()})
		}
		return 1
	}
	switch strings.TrimSuffix(mode, "-double") {
	case "fail":
		_ = n.Fail(Failure{Phase: "pidfile", Kind: "already_running", Message: "locked"})
		return 1
	case "silent":
		_ = n.Close()
		return 7
	default:
		if os.Getenv(EnvStage) != "" || os.Getenv(EnvToken) != "" {
			_ = n.Fail(Failure{Phase: "session", Message: "stage env not scrubbed"})
			return 1
		}
		_ = n.Ready(os.Getpid())
		return 0
	}
}

func TestSpawn(t *testing.T) {
	tests := []struct {
		mode      string
		ready     bool
		phase     string
		kind      string
		msgSubstr string
	}{
		{mode: "ready", ready: true},
		{mode: "ready-double", ready: true},
		{mode: "fail", phase: "pidfile", kind: "already_running", msgSubstr: "locked"},
		{mode: "fail-double", phase: "pidfile", kind: "already_running", msgSubstr: "locked"},
		{mode: "silent", phase: "fork", msgSubstr: "exited before reporting"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Setenv(envTestMode, tt.mode)

			outcome, err := Spawn(Options{DoubleFork: strings.HasSuffix(tt.mode, "-double")})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			if outcome.Ready != tt.ready {
				t.Fatalf("Ready = %v, failure = %+v", outcome.Ready, outcome.Failure)
			}
			if tt.ready {
				if outcome.PID <= 0 || outcome.PID == os.Getpid() {
					t.Fatalf("unexpected daemon pid %d", outcome.PID)
				}
				return
			}
			if outcome.Failure == nil {
				t.Fatal("expected a failure")
			}
			if outcome.Failure.Phase != tt.phase || outcome.Failure.Kind != tt.kind {
				t.Fatalf("failure = %+v", outcome.Failure)
			}
			if !strings.Contains(outcome.Failure.Message, tt.msgSubstr) {
				t.Fatalf("message %q does not mention %q", outcome.Failure.Message, tt.msgSubstr)
			}
		})
	}
}

func TestNotifierRoundTrip(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		defer r.Close()

		n := newNotifier(w, "tok")
		if err := n.Ready(4321); err != nil {
			t.Fatalf("Ready: %v", err)
		}
		if err := n.Fail(Failure{Phase: "late"}); !errors.Is(err, ErrNotified) {
			t.Fatalf("second message should be refused, got %v", err)
		}

		outcome, ok, err := readOutcome(r, "tok")
		if err != nil || !ok {
			t.Fatalf("readOutcome: ok=%v err=%v", ok, err)
		}
		if !outcome.Ready || outcome.PID != 4321 {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	})

	t.Run("failed", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		defer r.Close()

		n := newNotifier(w, "tok")
		if err := n.Fail(Failure{Phase: "privilege", Kind: "user_drop", Errno: syscall.EPERM, Message: "setuid 65534"}); err != nil {
			t.Fatalf("Fail: %v", err)
		}

		outcome, ok, err := readOutcome(r, "tok")
		if err != nil || !ok {
			t.Fatalf("readOutcome: ok=%v err=%v", ok, err)
		}
		f := outcome.Failure
		if outcome.Ready || f == nil {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
		if f.Phase != "privilege" || f.Kind != "user_drop" || f.Errno != syscall.EPERM {
			t.Fatalf("unexpected failure %+v", f)
		}
		if got := f.Error(); got != "privilege: setuid 65534" {
			t.Fatalf("Error() = %q", got)
		}
	})

	t.Run("closed without message", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		defer r.Close()

		if err := newNotifier(w, "tok").Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, ok, err := readOutcome(r, "tok"); ok || err != nil {
			t.Fatalf("expected no message, ok=%v err=%v", ok, err)
		}
	})

	t.Run("foreign token", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		defer r.Close()

		if err := newNotifier(w, "other").Ready(1); err != nil {
			t.Fatalf("Ready: %v", err)
		}
		outcome, ok, err := readOutcome(r, "tok")
		if err != nil || !ok {
			t.Fatalf("readOutcome: ok=%v err=%v", ok, err)
		}
		if outcome.Ready || outcome.Failure == nil {
			t.Fatalf("foreign token must not count as ready: %+v", outcome)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, _, err := readOutcome(strings.NewReader("not json\n"), "tok"); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestStageEnv(t *testing.T) {
	env := stageEnv([]string{"HOME=/root", EnvStage + "=session", EnvToken + "=old"}, StageDaemon, "new")
	var stage, token int
	for _, kv := range env {
		switch kv {
		case EnvStage + "=daemon":
			stage++
		case EnvToken + "=new":
			token++
		case EnvStage + "=session", EnvToken + "=old":
			t.Fatalf("stale marker %q kept", kv)
		}
	}
	if stage != 1 || token != 1 || env[0] != "HOME=/root" {
		t.Fatalf("unexpected env %v", env)
	}
}

func TestParseStage(t *testing.T) {
	for in, want := range map[string]Stage{"": StageParent, "session": StageSession, "daemon": StageDaemon, "bogus": StageParent} {
		if got := parseStage(in); got != want {
			t.Errorf("parseStage(%q) = %v, want %v", in, got, want)
		}
	}
	if IsChild() {
		t.Fatal("test process must not look like a detaching child")
	}
}
