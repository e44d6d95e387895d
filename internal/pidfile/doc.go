// Package pidfile manages the exclusive pid file of a daemon.
//
// Acquire takes a non-blocking advisory lock (gofrs/flock) and records the
// process id as a decimal number followed by a newline. The lock, not the
// file's existence, decides whether another instance is running: a file left
// by a crashed process is unlocked and gets reclaimed. Release only unlinks
// the file while it still records the releasing process.
//
// Read, Alive and Inspect serve shutdown scripts and status tooling.
package pidfile
