package daemonctl_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"enginehost/internal/daemonctl"
	"enginehost/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, daemonctl.PIDFileName)

	pid, err := daemonctl.ReadPID(path, 42)
	if err != nil || pid != 42 {
		t.Fatalf("expected fallback for missing file, got %d err=%v", pid, err)
	}
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, err = daemonctl.ReadPID(path, 42)
	if err != nil || pid != 1234 {
		t.Fatalf("expected 1234, got %d err=%v", pid, err)
	}
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(path, 42); err == nil {
		t.Fatal("expected invalid pid error")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.StopAndTerminate(cfg.Paths.SocketPath, cfg, 100*time.Millisecond); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected no daemon, alive=%v pid=%d err=%v", alive, pid, err)
	}
}

func TestTerminateStopsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	pid := cmd.Process.Pid
	if !daemonctl.Alive(pid) {
		t.Fatal("expected child to be alive")
	}
	forced, err := daemonctl.Terminate(pid, 2*time.Second)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if forced {
		t.Fatal("expected SIGTERM to be enough for sleep")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}
}

func TestTerminateRefusesSelf(t *testing.T) {
	if _, err := daemonctl.Terminate(os.Getpid(), time.Millisecond); err == nil {
		t.Fatal("expected refusal to signal current process")
	}
}
