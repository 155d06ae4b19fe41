package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"enginehost/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "enginehost", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	runtimeDir := filepath.Join(tempHome, ".local", "state", "enginehost")
	if cfg.Paths.RuntimeDir != runtimeDir {
		t.Fatalf("unexpected runtime dir: got %q want %q", cfg.Paths.RuntimeDir, runtimeDir)
	}
	if cfg.Paths.SocketPath != filepath.Join(runtimeDir, "enginehost.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Paths.StateDB != filepath.Join(runtimeDir, "journal.db") {
		t.Fatalf("unexpected state db: %q", cfg.Paths.StateDB)
	}
	if cfg.LockPath() != filepath.Join(runtimeDir, "enginehostd.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if cfg.Grant.NotificationID != 1555 {
		t.Fatalf("expected notification id 1555, got %d", cfg.Grant.NotificationID)
	}
	if cfg.Grant.ChannelID != "foreground_audio_engine" {
		t.Fatalf("unexpected channel id %q", cfg.Grant.ChannelID)
	}
	if !cfg.Binding.Reconnect {
		t.Fatal("expected reconnect enabled by default")
	}
	if cfg.Engine.Command != "" {
		t.Fatalf("expected in-process engine by default, got %q", cfg.Engine.Command)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	custom := config.Default()
	custom.Paths.RuntimeDir = filepath.Join(dir, "run")
	custom.Grant.Title = "  Studio  "
	custom.Grant.NotificationID = 42
	custom.Binding.ConnectTimeoutSeconds = 0
	custom.Logging.Format = "JSON"
	custom.Metrics.Bind = "127.0.0.1:9477"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected existing config at %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Grant.Title != "Studio" {
		t.Fatalf("expected trimmed title, got %q", cfg.Grant.Title)
	}
	if cfg.Grant.NotificationID != 42 {
		t.Fatalf("expected notification id 42, got %d", cfg.Grant.NotificationID)
	}
	if cfg.ConnectTimeout() != 0 {
		t.Fatalf("expected unbounded connect wait, got %s", cfg.ConnectTimeout())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased format, got %q", cfg.Logging.Format)
	}
	if cfg.Paths.SocketPath != filepath.Join(dir, "run", "enginehost.sock") {
		t.Fatalf("expected socket under custom runtime dir, got %q", cfg.Paths.SocketPath)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[grant]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to fail parsing")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "negative connect timeout",
			mutate: func(c *config.Config) { c.Binding.ConnectTimeoutSeconds = -1 },
			want:   "binding.connect_timeout_seconds",
		},
		{
			name:   "channel id with spaces",
			mutate: func(c *config.Config) { c.Grant.ChannelID = "audio channel" },
			want:   "grant.channel_id",
		},
		{
			name:   "ntfy topic without scheme",
			mutate: func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/topic" },
			want:   "notifications.ntfy_topic",
		},
		{
			name:   "metrics bind without port",
			mutate: func(c *config.Config) { c.Metrics.Bind = "localhost" },
			want:   "metrics.bind",
		},
		{
			name:   "unknown log level",
			mutate: func(c *config.Config) { c.Logging.Level = "trace" },
			want:   "logging.level",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}

func TestEnsureDirectoriesCreatesRuntimeLayout(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RuntimeDir = filepath.Join(base, "run")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StateDB = filepath.Join(base, "db", "journal.db")
	cfg.Paths.SocketPath = filepath.Join(base, "sock", "enginehost.sock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"run", "logs", "db", "sock"} {
		info, err := os.Stat(filepath.Join(base, dir))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}
