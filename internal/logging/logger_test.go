package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"enginehost/internal/config"
	"enginehost/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "enginehostd")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "enginehostd.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "grant").Info("message without caller", logging.Int("id", 1555))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if !strings.Contains(line, "[grant]") {
		t.Fatalf("expected component tag, got %q", line)
	}
	if !strings.Contains(line, "id=1555") {
		t.Fatalf("expected id attribute, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerWarnWithContextInjectsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "promotion denied", "grant_denied",
		logging.String(logging.FieldImpact, "engine keeps running without protection"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", entry["level"])
	}
	if entry[logging.FieldEventType] != "grant_denied" {
		t.Fatalf("expected event_type grant_denied, got %v", entry[logging.FieldEventType])
	}
	if entry[logging.FieldErrorHint] != "check the daemon journal for the worker key" {
		t.Fatalf("expected default error hint, got %v", entry[logging.FieldErrorHint])
	}
	if entry[logging.FieldImpact] != "engine keeps running without protection" {
		t.Fatalf("expected caller-provided impact to win, got %v", entry[logging.FieldImpact])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("expected nop logger to be disabled")
	}
	logger.Error("ignored")
}

type keyString string

func (k keyString) String() string { return string(k) }

func TestWorkerKeyAndGenerationAttrs(t *testing.T) {
	attr := logging.WorkerKey(keyString("w-3"))
	if attr.Key != logging.FieldWorkerKey || attr.Value.String() != "w-3" {
		t.Fatalf("unexpected worker key attr %v", attr)
	}
	if got := logging.WorkerKey(keyString("")).Value.String(); got != "none" {
		t.Fatalf("empty key rendered %q, want none", got)
	}
	if got := logging.WorkerKey(nil).Value.String(); got != "none" {
		t.Fatalf("nil key rendered %q, want none", got)
	}
	gen := logging.Generation(7)
	if gen.Key != logging.FieldGeneration || gen.Value.Uint64() != 7 {
		t.Fatalf("unexpected generation attr %v", gen)
	}
}
