package config

const (
	defaultConfigPath = "~/.config/daemonize/config.toml"
	projectConfigName = "daemonize.toml"

	defaultWorkDir  = "/"
	defaultUmask    = "0027"
	defaultPolicy   = "reject"
	defaultPidMode  = "0644"
	defaultLogLevel = "info"

	// StreamInherit keeps the stream the launcher had.
	StreamInherit = "inherit"
	// StreamNull points the stream at the null device.
	StreamNull = "null"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			WorkDir: defaultWorkDir,
			Umask:   defaultUmask,
		},
		PidFile: PidFile{
			Policy: defaultPolicy,
			Mode:   defaultPidMode,
		},
		Stdio: Stdio{
			Stdin:  StreamNull,
			Stdout: StreamNull,
			Stderr: StreamNull,
			Append: true,
		},
		Logging: Logging{
			Format: "console",
			Level:  defaultLogLevel,
		},
	}
}
