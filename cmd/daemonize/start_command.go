package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"daemonize/internal/config"
	"daemonize/internal/daemon"
	"daemonize/internal/identity"
	"daemonize/internal/logging"
	"daemonize/internal/stdio"
)

type startFlags struct {
	pidFile    string
	policy     string
	workDir    string
	umask      string
	user       string
	group      string
	chown      bool
	stdin      string
	stdout     string
	stderr     string
	truncate   bool
	doubleFork bool
	name       string
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "start [flags] [-- command [args...]]",
		Short: "Detach and keep running in the background",
		Long: `Detach from the terminal and run in the background.

With a command after --, the daemon runs it and forwards SIGTERM and SIGINT
to it. Without one the daemon holds its pid file until it is stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			return runStart(cmd.OutOrStdout(), cfg, args)
		},
	}

	cmd.Flags().StringVar(&flags.pidFile, "pid-file", "", "Exclusive pid file path")
	cmd.Flags().StringVar(&flags.policy, "policy", "", "Unlocked pid file policy: reject or reclaim")
	cmd.Flags().StringVar(&flags.workDir, "work-dir", "", "Working directory of the daemon")
	cmd.Flags().StringVar(&flags.umask, "umask", "", "File creation mask (octal)")
	cmd.Flags().StringVarP(&flags.user, "user", "u", "", "User name or uid to run as")
	cmd.Flags().StringVarP(&flags.group, "group", "g", "", "Group name or gid to run as")
	cmd.Flags().BoolVar(&flags.chown, "chown-pid-file", false, "Hand the pid file to the target user and group")
	cmd.Flags().StringVar(&flags.stdin, "stdin", "", "Standard input: inherit, null or a file path")
	cmd.Flags().StringVar(&flags.stdout, "stdout", "", "Standard output: inherit, null or a file path")
	cmd.Flags().StringVar(&flags.stderr, "stderr", "", "Standard error: inherit, null or a file path")
	cmd.Flags().BoolVar(&flags.truncate, "truncate", false, "Truncate output files instead of appending")
	cmd.Flags().BoolVar(&flags.doubleFork, "double-fork", false, "Fork twice so the daemon is not a session leader")
	cmd.Flags().StringVar(&flags.name, "name", "", "Process name shown by ps")
	return cmd
}

// apply overlays explicitly set flags on cfg and re-validates it.
func (f *startFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	expand := func(target *string, value string) error {
		expanded, err := config.ExpandPath(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target = expanded
		return nil
	}

	if changed("pid-file") {
		if err := expand(&cfg.PidFile.Path, f.pidFile); err != nil {
			return fmt.Errorf("--pid-file: %w", err)
		}
	}
	if changed("policy") {
		cfg.PidFile.Policy = strings.ToLower(strings.TrimSpace(f.policy))
	}
	if changed("work-dir") {
		if err := expand(&cfg.Daemon.WorkDir, f.workDir); err != nil {
			return fmt.Errorf("--work-dir: %w", err)
		}
	}
	if changed("umask") {
		cfg.Daemon.Umask = strings.TrimSpace(f.umask)
	}
	if changed("user") {
		cfg.Identity.User = strings.TrimSpace(f.user)
	}
	if changed("group") {
		cfg.Identity.Group = strings.TrimSpace(f.group)
	}
	if changed("chown-pid-file") {
		cfg.PidFile.Chown = f.chown
	}
	for _, stream := range []struct {
		flag   string
		value  string
		target *string
	}{
		{"stdin", f.stdin, &cfg.Stdio.Stdin},
		{"stdout", f.stdout, &cfg.Stdio.Stdout},
		{"stderr", f.stderr, &cfg.Stdio.Stderr},
	} {
		if !changed(stream.flag) {
			continue
		}
		switch value := strings.ToLower(strings.TrimSpace(stream.value)); value {
		case config.StreamInherit, config.StreamNull:
			*stream.target = value
		default:
			if err := expand(stream.target, stream.value); err != nil {
				return fmt.Errorf("--%s: %w", stream.flag, err)
			}
		}
	}
	if changed("truncate") {
		cfg.Stdio.Append = !f.truncate
	}
	if changed("double-fork") {
		cfg.Daemon.DoubleFork = f.doubleFork
	}
	if changed("name") {
		cfg.Daemon.Name = strings.TrimSpace(f.name)
	}
	return cfg.Validate()
}

func runStart(out io.Writer, cfg *config.Config, command []string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	streams, err := openStreams(cfg.Stdio)
	if err != nil {
		return err
	}

	opts, err := daemonOptions(cfg, logger, streams)
	if err != nil {
		streams.close()
		return err
	}
	opts = append(opts, daemon.WithParentHook(func(_, childPID int) {
		fmt.Fprintf(out, "daemon started (pid %d)\n", childPID)
	}))

	dcfg, err := daemon.NewConfig(opts...)
	if err != nil {
		streams.close()
		return err
	}

	d, err := daemon.Start(dcfg)
	if err != nil {
		streams.close()
		return err
	}
	defer func() {
		if err := d.Release(); err != nil {
			logging.WarnWithContext(logger, "pid file release failed", "pid_release_failed",
				logging.String(logging.FieldImpact, "a stale pid file may remain"),
				logging.Error(err),
			)
		}
	}()

	return serve(logger, command)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var outputs []string
	if cfg.Logging.File != "" {
		outputs = []string{cfg.Logging.File}
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

type openedStreams struct {
	stdin  stdio.Destination
	stdout stdio.Destination
	stderr stdio.Destination
	files  []*os.File
}

func (s *openedStreams) close() {
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
}

// openStreams opens file destinations. Stdout and stderr naming the same path
// share one descriptor so their writes interleave in order. Output files are
// always opened for append; truncation waits until the daemon owns the pid
// file and rebinds its streams, so a refused start leaves them intact.
func openStreams(cfg config.Stdio) (*openedStreams, error) {
	streams := &openedStreams{}
	byPath := make(map[string]*os.File)

	destination := func(value string, output bool) (stdio.Destination, error) {
		switch value {
		case config.StreamInherit:
			return stdio.Inherit(), nil
		case config.StreamNull, "":
			return stdio.Null(), nil
		}
		f, ok := byPath[value]
		if !ok {
			var err error
			if output {
				f, err = os.OpenFile(value, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
			} else {
				f, err = os.Open(value)
			}
			if err != nil {
				return stdio.Destination{}, err
			}
			byPath[value] = f
			streams.files = append(streams.files, f)
		}
		dest := stdio.ToFile(f)
		if output && !cfg.Append {
			dest = dest.Truncating()
		}
		return dest, nil
	}

	var err error
	if streams.stdin, err = destination(cfg.Stdin, false); err != nil {
		streams.close()
		return nil, fmt.Errorf("open stdin: %w", err)
	}
	if streams.stdout, err = destination(cfg.Stdout, true); err != nil {
		streams.close()
		return nil, fmt.Errorf("open stdout: %w", err)
	}
	if streams.stderr, err = destination(cfg.Stderr, true); err != nil {
		streams.close()
		return nil, fmt.Errorf("open stderr: %w", err)
	}
	return streams, nil
}

func daemonOptions(cfg *config.Config, logger *slog.Logger, streams *openedStreams) ([]daemon.Option, error) {
	umask, err := cfg.UmaskValue()
	if err != nil {
		return nil, err
	}
	opts := []daemon.Option{
		daemon.WithLogger(logger),
		daemon.WithWorkDir(cfg.Daemon.WorkDir),
		daemon.WithUmask(umask),
		daemon.WithDoubleFork(cfg.Daemon.DoubleFork),
		daemon.WithName(cfg.Daemon.Name),
		daemon.WithUser(identity.ParseSpec(cfg.Identity.User)),
		daemon.WithGroup(identity.ParseSpec(cfg.Identity.Group)),
		daemon.WithStdin(streams.stdin),
		daemon.WithStdout(streams.stdout),
		daemon.WithStderr(streams.stderr),
	}
	if cfg.PidFile.Path != "" {
		policy, err := cfg.PidPolicy()
		if err != nil {
			return nil, err
		}
		mode, err := cfg.PidFileMode()
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			daemon.WithPidFile(cfg.PidFile.Path, policy),
			daemon.WithPidFileMode(mode),
			daemon.WithChownPidFile(cfg.PidFile.Chown),
		)
	}
	return opts, nil
}

// serve runs the daemon body: either the supervised command or an idle wait
// for a termination signal.
func serve(logger *slog.Logger, command []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	started := time.Now()

	if len(command) == 0 {
		logger.Info("idling until signalled")
		<-ctx.Done()
		logger.Info("shutdown signal received", logging.Duration("uptime", time.Since(started)))
		return nil
	}

	child := exec.Command(command[0], command[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command[0], err)
	}
	logger.Info("command started",
		logging.String("command", strings.Join(command, " ")),
		logging.Int(logging.FieldPID, child.Process.Pid),
	)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	select {
	case err := <-done:
		return commandResult(logger, command[0], time.Since(started), err)
	case <-ctx.Done():
		logger.Info("shutdown signal received; stopping command",
			logging.Int(logging.FieldPID, child.Process.Pid),
		)
		_ = child.Process.Signal(syscall.SIGTERM)
		err := <-done
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			logger.Info("command stopped", logging.Duration("uptime", time.Since(started)))
			return nil
		}
		return commandResult(logger, command[0], time.Since(started), err)
	}
}

func commandResult(logger *slog.Logger, name string, uptime time.Duration, err error) error {
	if err != nil {
		logging.WarnWithContext(logger, "command exited with error", "command_failed",
			logging.String("command", name),
			logging.Duration("uptime", uptime),
			logging.String(logging.FieldImpact, "daemon stops"),
			logging.Error(err),
		)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("command exited", logging.String("command", name), logging.Duration("uptime", uptime))
	return nil
}
