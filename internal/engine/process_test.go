package engine_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enginehost/internal/engine"
	"enginehost/internal/logging"
)

func TestProcessForwardsIntentsAsJSONLines(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	out := filepath.Join(t.TempDir(), "intents.jsonl")
	proc := engine.NewProcess(sh, []string{"-c", `cat > "$0"`, out}, 5*time.Second, logging.NewNop())
	h := engine.NewHandle(proc, nil)

	if err := h.Construct(); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := h.NewIntent(engine.Intent{Action: "join", URI: "engine://group/rehearsal"}); err != nil {
		t.Fatalf("NewIntent: %v", err)
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read intents: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one intent line, got %q", data)
	}
	var got engine.Intent
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if got.Action != "join" || got.URI != "engine://group/rehearsal" {
		t.Fatalf("unexpected intent %+v", got)
	}
}

func TestProcessKillsEngineThatIgnoresEOF(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	proc := engine.NewProcess(sh, []string{"-c", "exec sleep 30"}, 100*time.Millisecond, nil)
	ref, err := proc.ConstructNativeClass()
	if err != nil {
		t.Fatalf("ConstructNativeClass: %v", err)
	}
	start := time.Now()
	if err := proc.DestroyNativeClass(ref); err != nil {
		t.Fatalf("DestroyNativeClass: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("expected kill after stop timeout, took %s", elapsed)
	}
	if err := proc.DestroyNativeClass(ref); err == nil {
		t.Fatal("expected unknown instance on second destroy")
	}
}

func TestProcessRejectsEmptyCommand(t *testing.T) {
	proc := engine.NewProcess("", nil, 0, nil)
	if _, err := proc.ConstructNativeClass(); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestProcessDestroyUnblocksStalledIntentWrite(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	// The engine never reads stdin, so writes stall once the pipe fills.
	proc := engine.NewProcess(sh, []string{"-c", "sleep 30"}, 300*time.Millisecond, nil)
	h := engine.NewHandle(proc, nil)
	if err := h.Construct(); err != nil {
		t.Fatalf("Construct: %v", err)
	}

	payload := strings.Repeat("x", 16<<10)
	writes := make(chan error, 1)
	go func() {
		var last error
		for i := 0; i < 16; i++ {
			if _, err := h.NewIntent(engine.Intent{Action: "load", Extras: map[string]string{"blob": payload}}); err != nil {
				last = err
				break
			}
		}
		writes <- last
	}()
	time.Sleep(200 * time.Millisecond)

	destroyed := make(chan error, 1)
	go func() { destroyed <- h.Destroy() }()
	select {
	case err := <-destroyed:
		if err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Destroy blocked behind a stalled intent write")
	}

	select {
	case err := <-writes:
		if err == nil {
			t.Fatal("expected the stalled write to fail once the engine was destroyed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("intent writer never returned after Destroy")
	}
	if h.Constructed() {
		t.Fatal("handle must be unconstructed after Destroy")
	}
}
