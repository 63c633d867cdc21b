package gittest

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirAndWrite(t testing.TB, fullPath, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("gittest: mkdir %s: %v", fullPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("gittest: write %s: %v", fullPath, err)
	}
}

func readFileIfExists(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
