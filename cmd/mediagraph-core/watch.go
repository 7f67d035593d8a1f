package main

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// watchRuntimeDir logs filesystem events under XDG_RUNTIME_DIR for
// diagnostics — e.g. spotting an external process removing the socket or
// lock file out from under a running core. Purely observational; it never
// influences daemon behavior. Returns a no-op stop func if XDG_RUNTIME_DIR
// is unset or the watch can't be established, so callers can always defer
// the result unconditionally.
func watchRuntimeDir(log *slog.Logger) func() {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return func() {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify: watcher unavailable", "error", err)
		return func() {}
	}
	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify: watch failed", "dir", dir, "error", err)
		_ = w.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				log.Debug("runtime dir event", "name", ev.Name, "op", ev.Op.String())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}
}
