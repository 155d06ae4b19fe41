package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"enginehost/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The socket lives in a short temp dir so it stays under the unix socket
// path limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	sockDir, err := os.MkdirTemp("", "eh-")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "run")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDB = filepath.Join(base, "run", "journal.db")
	cfgVal.Paths.SocketPath = filepath.Join(sockDir, "enginehost.sock")
	cfgVal.Binding.ConnectTimeoutSeconds = 5
	cfgVal.Binding.HeartbeatSeconds = 1
	cfgVal.Binding.ReconnectMaxSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithNtfyTopic points notifications at topic.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithoutReconnect disables controller reconnects.
func WithoutReconnect() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Binding.Reconnect = false
	}
}

// WithStubbedEngine writes a shell script engine and selects it as the
// external engine command. An empty body produces an engine that consumes
// intents until stdin closes.
func WithStubbedEngine(body string) ConfigOption {
	return func(b *configBuilder) {
		if body == "" {
			body = "cat > /dev/null\n"
		}
		target := filepath.Join(b.baseDir, "bin", "engine")
		WriteExecutable(b.t, target, "#!/bin/sh\n"+body)
		b.cfg.Engine.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RuntimeDir)
}
