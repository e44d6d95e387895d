package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"daemonize/internal/identity"
	"daemonize/internal/pidfile"
	"daemonize/internal/stdio"
)

// DefaultUmask is rwxr-x--- for new files.
const DefaultUmask = 0o027

// Hook receives the parent and child process ids.
type Hook func(parentPID, childPID int)

// Config is the immutable detachment configuration built by NewConfig.
type Config struct {
	workDir    string
	umask      int
	pidFile    string
	pidPolicy  pidfile.Policy
	pidMode    fs.FileMode
	user       identity.Spec
	group      identity.Spec
	chownPid   bool
	stdin      stdio.Destination
	stdout     stdio.Destination
	stderr     stdio.Destination
	doubleFork bool
	name       string
	logger     *slog.Logger
	parentHook Hook
	childHook  Hook
}

// Option adjusts a Config under construction.
type Option func(*Config)

func WithWorkDir(dir string) Option { return func(c *Config) { c.workDir = dir } }

func WithUmask(mask int) Option { return func(c *Config) { c.umask = mask } }

// WithPidFile enables the exclusive pid file at path.
func WithPidFile(path string, policy pidfile.Policy) Option {
	return func(c *Config) {
		c.pidFile = path
		c.pidPolicy = policy
	}
}

func WithPidFileMode(mode fs.FileMode) Option { return func(c *Config) { c.pidMode = mode } }

func WithUser(spec identity.Spec) Option { return func(c *Config) { c.user = spec } }

func WithGroup(spec identity.Spec) Option { return func(c *Config) { c.group = spec } }

// WithChownPidFile hands the pid file to the target identity before the drop.
func WithChownPidFile(enabled bool) Option { return func(c *Config) { c.chownPid = enabled } }

func WithStdin(dest stdio.Destination) Option  { return func(c *Config) { c.stdin = dest } }
func WithStdout(dest stdio.Destination) Option { return func(c *Config) { c.stdout = dest } }
func WithStderr(dest stdio.Destination) Option { return func(c *Config) { c.stderr = dest } }

func WithDoubleFork(enabled bool) Option { return func(c *Config) { c.doubleFork = enabled } }

// WithName sets the process name shown by ps (Linux only).
func WithName(name string) Option { return func(c *Config) { c.name = name } }

func WithLogger(logger *slog.Logger) Option { return func(c *Config) { c.logger = logger } }

// WithParentHook runs in the original process once the daemon is running,
// just before that process exits.
func WithParentHook(h Hook) Option { return func(c *Config) { c.parentHook = h } }

// WithChildHook runs in the daemon right after it became a session leader.
func WithChildHook(h Hook) Option { return func(c *Config) { c.childHook = h } }

// NewConfig applies opts over the defaults and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		workDir: "/",
		umask:   DefaultUmask,
		pidMode: pidfile.DefaultMode,
		stdin:   stdio.Null(),
		stdout:  stdio.Null(),
		stderr:  stdio.Null(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.workDir) == "" {
		return &Error{Phase: PhaseConfig, Err: errors.New("working directory is required")}
	}
	if c.umask < 0 || c.umask > 0o777 {
		return &Error{Phase: PhaseUmask, Err: fmt.Errorf("umask %#o outside 0-0777", c.umask)}
	}
	if c.pidMode&^fs.ModePerm != 0 {
		return &Error{Phase: PhaseConfig, Err: fmt.Errorf("pid file mode %v has non-permission bits", c.pidMode)}
	}
	if c.chownPid {
		if c.pidFile == "" {
			return &Error{Phase: PhaseConfig, Err: errors.New("pid file chown requires a pid file")}
		}
		if !c.user.IsSet() && !c.group.IsSet() {
			return &Error{Phase: PhaseConfig, Err: errors.New("pid file chown requires a user or group")}
		}
	}
	for _, d := range []struct {
		name string
		dest stdio.Destination
	}{{"stdin", c.stdin}, {"stdout", c.stdout}, {"stderr", c.stderr}} {
		if err := d.dest.Validate(); err != nil {
			return &Error{Phase: PhaseConfig, Err: fmt.Errorf("%s: %w", d.name, err)}
		}
	}
	return nil
}

func (c *Config) WorkDir() string      { return c.workDir }
func (c *Config) Umask() int           { return c.umask }
func (c *Config) PidFile() string      { return c.pidFile }
func (c *Config) DoubleFork() bool     { return c.doubleFork }
func (c *Config) Name() string         { return c.name }
func (c *Config) User() identity.Spec  { return c.user }
func (c *Config) Group() identity.Spec { return c.group }
