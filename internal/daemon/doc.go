// Package daemon turns the running program into a detached background daemon.
//
// Start sequences the detachment in a fixed order: session, process name,
// working directory, umask, pid file, standard streams, identity resolution
// and privilege drop. In the original process Start blocks until the child
// reports, then exits 0 on success or returns the child's failure as an
// *Error. In the child it returns the running *Daemon.
//
// The sequence mutates process-global state (umask, cwd, descriptors 0-2),
// so Start must run before the program starts goroutines that depend on it.
// The child re-runs main, which must build the same configuration and call
// Start again; IsChild lets callers skip one-shot foreground work.
//
// Keep detachment mechanics in the leaf packages (detach, pidfile, stdio,
// identity, privilege); this package owns ordering, unwinding and error
// propagation.
package daemon
