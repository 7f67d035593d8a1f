// Package controlloop implements the single-threaded control-thread event
// loop (§4, §5): timers, an invoke bridge other goroutines use to reach the
// control thread safely, and the draining of every work queue registered
// against it with AddQueue.
// It is the only goroutine allowed to read or write graph.Core state
// directly; everything else reaches the graph through Invoke.
package controlloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// Loop is grounded on pinos/server/main-loop.c's PinosMainLoopImpl: a
// GMainLoop driven by an eventfd-backed invoke ring buffer and a work-item
// list drained from a GSource idle callback. This rendition swaps the glib
// main context for a single goroutine selecting over channels, and the
// ring buffer for a buffered Go channel of closures.
type Loop struct {
	mu     sync.Mutex
	queues map[*workqueue.Queue]chan struct{}
	timers map[*timerEntry]struct{}

	wake    chan struct{}
	jobs    chan job
	stop    chan struct{}
	done    chan struct{}
	ownerID atomic.Uint64
}

type timerEntry struct {
	timer *time.Timer
	fn    func()
}

type job struct {
	fn   func()
	done chan struct{}
}

// New returns a Loop with no queues registered, not yet started.
func New() *Loop {
	return &Loop{
		queues: make(map[*workqueue.Queue]chan struct{}),
		timers: make(map[*timerEntry]struct{}),
		wake:   make(chan struct{}, 1),
		jobs:   make(chan job, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AddQueue registers a work queue to be drained on this loop's goroutine
// whenever it has ready work, mirroring how the original attaches every
// object's deferred-work list to the single GMainLoop via a shared idle
// source (§4.3). cmd/mediagraph-core registers Core.Queue at startup; a
// Link's private queue is not registered here by any caller in this module.
func (l *Loop) AddQueue(q *workqueue.Queue) {
	stopFwd := make(chan struct{})
	l.mu.Lock()
	l.queues[q] = stopFwd
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-q.Wake():
				l.signal()
			case <-stopFwd:
				return
			}
		}
	}()
}

// RemoveQueue stops forwarding q's wake signals and drops q from the set
// drained on wake.
func (l *Loop) RemoveQueue(q *workqueue.Queue) {
	l.mu.Lock()
	stopFwd, ok := l.queues[q]
	delete(l.queues, q)
	l.mu.Unlock()
	if ok {
		close(stopFwd)
	}
}

// AfterFunc satisfies graph.Timer: fn runs on the control thread, through
// Invoke, once d elapses (§5 idle-suspend timers). The returned cancel is
// safe to call more than once, including after the timer already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	te := &timerEntry{fn: fn}
	l.mu.Lock()
	l.timers[te] = struct{}{}
	l.mu.Unlock()

	te.timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		_, live := l.timers[te]
		delete(l.timers, te)
		l.mu.Unlock()
		if !live {
			return
		}
		l.Invoke(fn)
	})

	return func() {
		te.timer.Stop()
		l.mu.Lock()
		delete(l.timers, te)
		l.mu.Unlock()
	}
}

// Invoke runs fn on the control thread and blocks until it returns. A call
// already running on this loop's own goroutine executes fn inline instead
// of deadlocking on its own channel send (§5 "recursive self-invocation
// runs inline"). Called before Run starts, it queues fn and blocks until
// Run executes it; called after the loop stops, fn runs inline on the
// calling goroutine.
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

// Run executes the loop until Stop is called, returning nil. Callers
// typically start it with `go loop.Run()` or hand it to an errgroup.Group
// alongside the data loop and the listener accept loop.
func (l *Loop) Run() error {
	defer close(l.done)
	l.ownerID.Store(goroutineID())
	for {
		select {
		case <-l.stop:
			return nil
		case j := <-l.jobs:
			l.runJob(j)
		case <-l.wake:
			l.processQueues()
		}
	}
}

func (l *Loop) runJob(j job) {
	j.fn()
	if j.done != nil {
		close(j.done)
	}
}

func (l *Loop) processQueues() {
	l.mu.Lock()
	queues := make([]*workqueue.Queue, 0, len(l.queues))
	for q := range l.queues {
		queues = append(queues, q)
	}
	l.mu.Unlock()
	for _, q := range queues {
		q.Process()
	}
}

// Stop signals Run to exit and blocks until it has returned. Safe to call
// once; calling it again panics on the closed channel, matching the
// single-shot destroy semantics of §5 "explicit destroy entry points".
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// goroutineID identifies the calling goroutine well enough to detect
// recursive self-invocation in Invoke; it is never exposed outside this
// package and never used for anything but that one comparison.
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
