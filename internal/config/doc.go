// Package config loads, normalizes, and validates daemonize configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours DAEMONIZE_LOG_LEVEL as a level
// override. The Config type holds every knob the CLI needs to build a
// detachment configuration: working directory, umask, pid file, identity,
// stream destinations and logging.
//
// Relative paths are resolved against the directory the CLI starts in. The
// detached child re-reads the same file from the same directory, so both
// processes agree on every path.
package config
