package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigAppliesSocketOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[paths]\nruntime_dir = \"" + filepath.Join(t.TempDir(), "run") + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if filepath.Base(cfg.Paths.SocketPath) != "enginehost.sock" {
		t.Fatalf("expected default socket name, got %q", cfg.Paths.SocketPath)
	}

	override := filepath.Join(t.TempDir(), "custom.sock")
	cfg, err = loadConfig(path, override)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Paths.SocketPath != override {
		t.Fatalf("expected socket override, got %q", cfg.Paths.SocketPath)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("bogus = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, ""); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCommandRejectsArgs(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional args to be rejected")
	}
}
