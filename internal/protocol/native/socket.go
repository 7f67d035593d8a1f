package native

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultSocketName is used when neither an explicit name nor PIPEWIRE_CORE
// is set (§6 "Unix socket").
const DefaultSocketName = "pipewire-0"

// Listener is the bound, locked server socket: `$XDG_RUNTIME_DIR/<name>`
// guarded by a companion `<name>.lock` held with flock(LOCK_EX|LOCK_NB), so
// a second instance started against the same runtime dir fails fast instead
// of silently stealing the socket (§6, §8 S1).
type Listener struct {
	*net.UnixListener
	lock *os.File
	path string
}

// Listen resolves the socket path from XDG_RUNTIME_DIR and name (falling
// back to PIPEWIRE_CORE, then DefaultSocketName), acquires the lock file,
// removes any stale socket left by a crashed instance, and binds.
func Listen(name string) (*Listener, error) {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return nil, fmt.Errorf("native: XDG_RUNTIME_DIR is required")
	}
	if name == "" {
		name = os.Getenv("PIPEWIRE_CORE")
	}
	if name == "" {
		name = DefaultSocketName
	}

	sockPath := filepath.Join(runtimeDir, name)
	lockPath := sockPath + ".lock"

	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("native: open lock file %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("native: unable to lock lockfile %s: %w", lockPath, err)
	}

	// Holding the lock exclusively means any socket file left behind is
	// stale (a prior instance crashed without cleaning up); remove it
	// before bind so ListenUnix doesn't fail with EADDRINUSE.
	_ = os.Remove(sockPath)

	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		unix.Flock(int(lock.Fd()), unix.LOCK_UN)
		lock.Close()
		return nil, fmt.Errorf("native: resolve socket address: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		unix.Flock(int(lock.Fd()), unix.LOCK_UN)
		lock.Close()
		return nil, fmt.Errorf("native: listen on %s: %w", sockPath, err)
	}

	return &Listener{UnixListener: ln, lock: lock, path: sockPath}, nil
}

// Path returns the bound socket's filesystem path.
func (l *Listener) Path() string { return l.path }

// Close closes the listener, releases and removes the lock file, and
// removes the socket file so a subsequent Listen on the same path starts
// clean rather than tripping the stale-socket removal path unnecessarily.
func (l *Listener) Close() error {
	err := l.UnixListener.Close()
	unix.Flock(int(l.lock.Fd()), unix.LOCK_UN)
	l.lock.Close()
	os.Remove(l.lock.Name())
	os.Remove(l.path)
	return err
}
