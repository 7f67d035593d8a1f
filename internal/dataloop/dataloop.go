// Package dataloop implements the real-time data thread (§4.4, §5): a
// dedicated goroutine that fires driving nodes' Process callbacks and
// accepts cross-thread work from the control loop through Invoke, which
// satisfies graph.Invoker. It never reads or writes control-thread state
// directly.
package dataloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Driver is a node the data loop fires on every wake, standing in for the
// original's invocation of the driving node's process callback "as timers
// and port I/O signals arrive" (§4.4).
type Driver interface {
	Process() error
}

// Loop is grounded on pinos/server/data-loop.c's poll thread: prepare/
// before/poll/after phases built around an SpaPoll of registered items and
// an eventfd wakeup. This rendition keeps the single dedicated goroutine
// and the eventfd-style wakeup, replacing the poll(2) item table and SPSC
// ring buffer with a buffered Go channel of closures — the invoke bridge
// graph.Link.Teardown and graph.Node rely on through Core.Data.
type Loop struct {
	jobs    chan job
	stop    chan struct{}
	done    chan struct{}
	ownerID atomic.Uint64

	mu      sync.Mutex
	drivers []Driver
}

type job struct {
	fn   func()
	done chan struct{}
}

// New returns a Loop with no drivers registered, not yet started.
func New() *Loop {
	return &Loop{
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// AddDriver registers d to have Process called on every wake of this loop.
func (l *Loop) AddDriver(d Driver) {
	l.mu.Lock()
	l.drivers = append(l.drivers, d)
	l.mu.Unlock()
}

// RemoveDriver unregisters d; a no-op if d was never added.
func (l *Loop) RemoveDriver(d Driver) {
	l.mu.Lock()
	for i, existing := range l.drivers {
		if existing == d {
			l.drivers = append(l.drivers[:i], l.drivers[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

// Invoke runs fn on the data thread and blocks until it returns, satisfying
// graph.Invoker. A call already running on this loop's own goroutine (the
// recursive case in §4.4/§5) runs fn inline rather than deadlocking on its
// own channel send.
func (l *Loop) Invoke(fn func()) {
	if owner := l.ownerID.Load(); owner != 0 && owner == goroutineID() {
		fn()
		return
	}
	select {
	case <-l.done:
		fn()
		return
	default:
	}

	done := make(chan struct{})
	select {
	case l.jobs <- job{fn: fn, done: done}:
	case <-l.done:
		fn()
		return
	}
	select {
	case <-done:
	case <-l.done:
	}
}

// Run executes the poll loop until Stop is called, returning nil. Intended
// to be handed to an errgroup.Group alongside the control loop.
func (l *Loop) Run() error {
	defer close(l.done)
	l.ownerID.Store(goroutineID())
	for {
		select {
		case <-l.stop:
			l.drainJobs()
			return nil
		case j := <-l.jobs:
			l.runJob(j)
			l.drainReadyJobs()
			l.runDrivers()
		}
	}
}

func (l *Loop) runJob(j job) {
	j.fn()
	if j.done != nil {
		close(j.done)
	}
}

// drainReadyJobs empties whatever else is already sitting in the channel
// before running drivers, so a burst of invokes coalesces into one process
// pass instead of one pass per job (§4.4 "drains the invoke ring buffer").
func (l *Loop) drainReadyJobs() {
	for {
		select {
		case j := <-l.jobs:
			l.runJob(j)
		default:
			return
		}
	}
}

func (l *Loop) drainJobs() {
	for {
		select {
		case j := <-l.jobs:
			l.runJob(j)
		default:
			return
		}
	}
}

func (l *Loop) runDrivers() {
	l.mu.Lock()
	drivers := append([]Driver(nil), l.drivers...)
	l.mu.Unlock()
	for _, d := range drivers {
		_ = d.Process()
	}
}

// Stop writes a termination into the job channel's path and joins the
// goroutine (§4.4 "stopping the loop writes a termination ... and joins the
// thread"). Safe to call once.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// goroutineID identifies the calling goroutine well enough to detect
// recursive self-invocation in Invoke; never used for anything else.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
