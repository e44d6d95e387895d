// Package detach severs a process from its parent and controlling terminal.
//
// The Go runtime cannot fork without exec, so detaching re-executes the
// current binary with a stage marker in the environment and the write end of
// a pipe on descriptor 3. The parent (Spawn) blocks on a single read of that
// pipe; the child (Continue) becomes a session leader, optionally re-executes
// once more as the double-fork daemon stage, and eventually reports exactly
// one JSON line: ready with its pid, or failed with the phase, error kind and
// errno. A pipe closed without a message is a failure as well.
//
// Each launch carries a random token the child echoes back, so the parent
// never mistakes another writer's line for its own child.
package detach
