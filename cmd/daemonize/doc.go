// Package main hosts the daemonize CLI entrypoint and command graph.
//
// The Cobra command tree starts a program in the background, inspects and
// stops a running instance through its pid file, and scaffolds
// configuration. The start command re-executes this binary: the same
// command line runs again in the detached child, where daemon.Start returns
// instead of exiting.
package main
