package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daemonize/internal/daemonctl"
	"daemonize/internal/pidfile"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var pidFileFlag string
	var timeout time.Duration
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon recorded in the pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.pidFilePath(pidFileFlag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			result, err := daemonctl.Stop(cmd.Context(), path, daemonctl.StopOptions{
				GracePeriod: timeout,
				Force:       force,
			})
			if errors.Is(err, daemonctl.ErrNotRunning) {
				if status, inspectErr := pidfile.Inspect(path); inspectErr == nil && status.Stale() {
					fmt.Fprintf(out, "daemon is not running (stale pid file %s)\n", path)
					return nil
				}
				fmt.Fprintln(out, "daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "daemon killed (pid %d)\n", result.PID)
				return nil
			}
			fmt.Fprintf(out, "daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFileFlag, "pid-file", "", "Pid file of the daemon (defaults to pid_file.path)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the daemon to exit")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL when the daemon outlives --timeout")
	return cmd
}
