package config

import (
	"errors"
	"fmt"

	"daemonize/internal/logging"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validatePidFile(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDaemon() error {
	if c.Daemon.WorkDir == "" {
		return errors.New("daemon.work_dir must be set")
	}
	if _, err := c.UmaskValue(); err != nil {
		return fmt.Errorf("daemon.umask: %w", err)
	}
	return nil
}

func (c *Config) validatePidFile() error {
	if _, err := c.PidPolicy(); err != nil {
		return fmt.Errorf("pid_file.policy: %w", err)
	}
	if _, err := c.PidFileMode(); err != nil {
		return fmt.Errorf("pid_file.mode: %w", err)
	}
	if c.PidFile.Chown {
		if c.PidFile.Path == "" {
			return errors.New("pid_file.chown requires pid_file.path")
		}
		if c.Identity.User == "" && c.Identity.Group == "" {
			return errors.New("pid_file.chown requires identity.user or identity.group")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
