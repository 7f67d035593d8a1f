package main

import (
	"log/slog"
	"os"
	"testing"
)

func TestWatchRuntimeDirNoopWhenUnset(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	os.Unsetenv("XDG_RUNTIME_DIR")

	stop := watchRuntimeDir(slog.Default())
	stop()
}

func TestWatchRuntimeDirWatchesExistingDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	stop := watchRuntimeDir(slog.Default())
	defer stop()

	f, err := os.CreateTemp(os.Getenv("XDG_RUNTIME_DIR"), "probe")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()
	os.Remove(f.Name())
}
