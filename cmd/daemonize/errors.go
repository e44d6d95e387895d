package main

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"daemonize/internal/daemon"
)

var phaseLabels = map[daemon.Phase]string{
	daemon.PhaseConfig:    "configuration",
	daemon.PhaseFork:      "fork",
	daemon.PhaseSession:   "session setup",
	daemon.PhaseProcName:  "process name",
	daemon.PhaseWorkDir:   "working directory",
	daemon.PhaseUmask:     "umask",
	daemon.PhasePidFile:   "pid file",
	daemon.PhaseStreams:   "stream redirection",
	daemon.PhaseIdentity:  "identity lookup",
	daemon.PhasePrivilege: "privilege drop",
}

var kindHints = map[string]string{
	"already_running": "another instance is already running; stop it first or choose another pid file",
	"conflict":        "the pid file names a live process; remove it or start with --policy reclaim",
	"lock_probe":      "the pid file lock could not be tested; check the filesystem supports flock",
	"not_found":       "check the user and group names",
	"group_drop":      "changing groups requires root",
	"user_drop":       "changing user requires root",
}

// describeError renders err for the terminal. Detachment failures get a
// titled phase and, for well-known kinds, a hint.
func describeError(err error) string {
	var derr *daemon.Error
	if !errors.As(err, &derr) {
		return err.Error()
	}
	label, ok := phaseLabels[derr.Phase]
	if !ok {
		label = strings.ReplaceAll(string(derr.Phase), "_", " ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed: %v", cases.Title(language.English).String(label), derr.Err)
	if hint := kindHints[derr.Kind()]; hint != "" {
		fmt.Fprintf(&b, "\nHint: %s", hint)
	}
	return b.String()
}
