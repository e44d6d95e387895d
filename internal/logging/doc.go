// Package logging assembles structured slog loggers and formatting helpers used
// by the daemonize CLI and the detachment core.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes attribute helpers with the standard field keys (component,
// phase, pid, event_type) so every phase of the detachment sequence logs with
// the same shape. The package also provides a no-op logger for tests and for
// library callers that did not configure one.
//
// Loggers that write to stderr keep working across stream redirection: once
// descriptor 2 is rebound the same *os.File writes to the new destination.
package logging
