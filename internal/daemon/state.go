package daemon

// State is a step of the detachment state machine. Transitions only move
// forward; the parent and child branches split after StateForking.
type State int

const (
	StateConfiguring State = iota
	StateForking
	StateWaitingOnChild
	StateExited
	StateSessionDetached
	StateWorkDirSet
	StateUmaskSet
	StatePidAcquired
	StateStreamsRedirected
	StatePrivilegeDropped
	StateRunning
	StateFailed
)

var stateNames = [...]string{
	StateConfiguring:       "configuring",
	StateForking:           "forking",
	StateWaitingOnChild:    "waiting_on_child",
	StateExited:            "exited",
	StateSessionDetached:   "session_detached",
	StateWorkDirSet:        "workdir_set",
	StateUmaskSet:          "umask_set",
	StatePidAcquired:       "pid_acquired",
	StateStreamsRedirected: "streams_redirected",
	StatePrivilegeDropped:  "privilege_dropped",
	StateRunning:           "running",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateExited || s == StateRunning || s == StateFailed
}
