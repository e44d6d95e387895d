package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	if err := c.normalizePidFile(); err != nil {
		return err
	}
	c.normalizeIdentity()
	if err := c.normalizeStdio(); err != nil {
		return err
	}
	return c.normalizeLogging()
}

func (c *Config) normalizeDaemon() error {
	if strings.TrimSpace(c.Daemon.WorkDir) == "" {
		c.Daemon.WorkDir = defaultWorkDir
	}
	var err error
	if c.Daemon.WorkDir, err = expandPath(strings.TrimSpace(c.Daemon.WorkDir)); err != nil {
		return fmt.Errorf("daemon.work_dir: %w", err)
	}
	c.Daemon.Umask = strings.TrimSpace(c.Daemon.Umask)
	if c.Daemon.Umask == "" {
		c.Daemon.Umask = defaultUmask
	}
	c.Daemon.Name = strings.TrimSpace(c.Daemon.Name)
	return nil
}

func (c *Config) normalizePidFile() error {
	var err error
	if c.PidFile.Path, err = expandPath(strings.TrimSpace(c.PidFile.Path)); err != nil {
		return fmt.Errorf("pid_file.path: %w", err)
	}
	c.PidFile.Policy = strings.ToLower(strings.TrimSpace(c.PidFile.Policy))
	if c.PidFile.Policy == "" {
		c.PidFile.Policy = defaultPolicy
	}
	c.PidFile.Mode = strings.TrimSpace(c.PidFile.Mode)
	if c.PidFile.Mode == "" {
		c.PidFile.Mode = defaultPidMode
	}
	return nil
}

func (c *Config) normalizeIdentity() {
	c.Identity.User = strings.TrimSpace(c.Identity.User)
	c.Identity.Group = strings.TrimSpace(c.Identity.Group)
}

func (c *Config) normalizeStdio() error {
	for _, stream := range []struct {
		name  string
		value *string
	}{
		{"stdio.stdin", &c.Stdio.Stdin},
		{"stdio.stdout", &c.Stdio.Stdout},
		{"stdio.stderr", &c.Stdio.Stderr},
	} {
		normalized, err := normalizeStream(*stream.value)
		if err != nil {
			return fmt.Errorf("%s: %w", stream.name, err)
		}
		*stream.value = normalized
	}
	return nil
}

func normalizeStream(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "", StreamNull, "/dev/null":
		return StreamNull, nil
	case StreamInherit:
		return StreamInherit, nil
	}
	return expandPath(trimmed)
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if value, ok := os.LookupEnv("DAEMONIZE_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(value))
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}
