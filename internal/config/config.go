package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains runtime file locations.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	SocketPath string `toml:"socket_path"`
	StateDB    string `toml:"state_db"`
	LogDir     string `toml:"log_dir"`
}

// Engine describes the native engine the controller constructs. An empty
// command selects the in-process engine.
type Engine struct {
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	StopTimeoutSeconds int      `toml:"stop_timeout_seconds"`
}

// Grant holds the notification channel and descriptor text used when the
// worker is promoted to protected execution.
type Grant struct {
	ChannelID      string `toml:"channel_id"`
	ChannelName    string `toml:"channel_name"`
	Title          string `toml:"title"`
	Body           string `toml:"body"`
	NotificationID int    `toml:"notification_id"`
}

// Binding controls how controllers connect to the worker.
type Binding struct {
	ConnectTimeoutSeconds int  `toml:"connect_timeout_seconds"`
	HeartbeatSeconds      int  `toml:"heartbeat_seconds"`
	Reconnect             bool `toml:"reconnect"`
	ReconnectMaxSeconds   int  `toml:"reconnect_max_seconds"`
}

// Notifications contains configuration for ntfy mirroring of the ongoing notification.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Metrics controls the prometheus endpoint. An empty bind disables it.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for enginehost.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	Grant         Grant         `toml:"grant"`
	Binding       Binding       `toml:"binding"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
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
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the runtime and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.RuntimeDir, c.Paths.LogDir, filepath.Dir(c.Paths.StateDB), filepath.Dir(c.Paths.SocketPath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "enginehostd.lock")
}

// ConnectTimeout returns the bounded wait for a pending bind. Zero disables it.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Binding.ConnectTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns how often remote bindings probe the worker.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Binding.HeartbeatSeconds) * time.Second
}

// ReconnectMax returns the upper bound on reconnect backoff.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Binding.ReconnectMaxSeconds) * time.Second
}

// EngineStopTimeout returns how long an external engine gets to exit after its stdin closes.
func (c *Config) EngineStopTimeout() time.Duration {
	return time.Duration(c.Engine.StopTimeoutSeconds) * time.Second
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
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
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
