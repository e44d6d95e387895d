package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"daemonize/internal/pidfile"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var pidFileFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a daemon holds its pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.pidFilePath(pidFileFlag)
			if err != nil {
				return err
			}
			status, err := pidfile.Inspect(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, strings.Join(renderSectionHeader("Daemon", colorize), "\n"))
			fmt.Fprintln(out, renderDetails([][2]string{
				{"Pid file", status.Path},
				{"Exists", yesNo(status.Exists)},
				{"PID", pidText(status.PID)},
				{"Locked", yesNo(status.Locked)},
				{"Process alive", yesNo(status.Alive)},
			}))
			kind, message := summarizeStatus(status)
			fmt.Fprintln(out, renderStatusLine("State", kind, message, colorize))
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFileFlag, "pid-file", "", "Pid file to inspect (defaults to pid_file.path)")
	return cmd
}

func summarizeStatus(status pidfile.Status) (statusKind, string) {
	switch {
	case status.Running():
		return statusOK, fmt.Sprintf("running (pid %s)", pidText(status.PID))
	case status.Stale() && status.Alive:
		return statusWarn, fmt.Sprintf("stale pid file names live pid %d", status.PID)
	case status.Stale():
		return statusWarn, "stale pid file; not running"
	default:
		return statusInfo, "not running"
	}
}
