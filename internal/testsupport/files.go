package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteExecutable writes an executable file at path, creating parents.
func WriteExecutable(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
