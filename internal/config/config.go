package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"daemonize/internal/pidfile"
)

//go:embed sample_config.toml
var sampleConfig string

// Daemon contains the detachment settings.
type Daemon struct {
	WorkDir    string `toml:"work_dir"`
	Umask      string `toml:"umask"` // octal, e.g. "0027"
	DoubleFork bool   `toml:"double_fork"`
	Name       string `toml:"name"`
}

// PidFile contains the exclusive pid file settings. An empty path disables it.
type PidFile struct {
	Path   string `toml:"path"`
	Policy string `toml:"policy"`
	Mode   string `toml:"mode"`
	Chown  bool   `toml:"chown"`
}

// Identity names the user and group the daemon drops to.
type Identity struct {
	User  string `toml:"user"`
	Group string `toml:"group"`
}

// Stdio maps each standard stream to "inherit", "null" or a file path.
type Stdio struct {
	Stdin  string `toml:"stdin"`
	Stdout string `toml:"stdout"`
	Stderr string `toml:"stderr"`
	Append bool   `toml:"append"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for daemonize.
//
// Configuration sections:
//   - Daemon: working directory, umask, fork mode and process name
//   - PidFile: exclusive pid file path, conflict policy and ownership
//   - Identity: target user and group for the privilege drop
//   - Stdio: standard stream destinations
//   - Logging: log format, level and file
type Config struct {
	Daemon   Daemon   `toml:"daemon"`
	PidFile  PidFile  `toml:"pid_file"`
	Identity Identity `toml:"identity"`
	Stdio    Stdio    `toml:"stdio"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// UmaskValue parses the configured octal umask.
func (c *Config) UmaskValue() (int, error) {
	return parseOctal(c.Daemon.Umask, 0o777)
}

// PidFileMode parses the configured octal pid file permissions.
func (c *Config) PidFileMode() (fs.FileMode, error) {
	mode, err := parseOctal(c.PidFile.Mode, 0o777)
	return fs.FileMode(mode), err
}

// PidPolicy returns the parsed pid file conflict policy.
func (c *Config) PidPolicy() (pidfile.Policy, error) {
	return pidfile.ParsePolicy(c.PidFile.Policy)
}

func parseOctal(value string, limit int) (int, error) {
	value = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0o"), "0O")
	if value == "" {
		return 0, errors.New("empty octal value")
	}
	parsed, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal value %q", value)
	}
	if int(parsed) > limit {
		return 0, fmt.Errorf("octal value %#o exceeds %#o", parsed, limit)
	}
	return int(parsed), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
