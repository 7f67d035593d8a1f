// Package workqueue implements the control loop's single-threaded deferred
// work list: actions that must wait for an async plugin acknowledgement, or
// that must run in strict insertion order relative to other deferred work
// on the same object, are queued here instead of running inline.
package workqueue

import "sync"

// invalidSeq marks an item with no outstanding async dependency.
const invalidSeq = ^uint32(0)

// Result is the outcome attached to a work item, either at Add time (for
// work that is immediately ready or explicitly synchronizing) or later via
// Complete (for work that was deferred pending an async sequence number).
type Result struct {
	async bool
	seq   uint32
	// waitSync marks an item that may only run once it reaches the head
	// of the queue, serializing it with everything queued before it.
	waitSync bool
	Code     int32
}

// Async returns a Result describing work still pending async completion
// under sequence number seq; the item will not run until Complete(obj, seq, ...)
// is called.
func Async(seq uint32) Result { return Result{async: true, seq: seq} }

// WaitSync returns a Result marking an item that runs only once it is at
// the head of the queue, after every item queued before it has completed.
func WaitSync() Result { return Result{waitSync: true} }

// Sync returns a Result for work that is ready to run as soon as it is
// drained (no async wait, no head-of-queue requirement).
func Sync(code int32) Result { return Result{Code: code} }

// IsAsync reports whether r is still awaiting an out-of-band Complete call.
func (r Result) IsAsync() bool { return r.async }

// Seq returns the sequence number r.Async was constructed with. Only
// meaningful when IsAsync reports true.
func (r Result) Seq() uint32 { return r.seq }

// Func is invoked when a queued item is ready to run.
type Func func(obj any, data any, result Result, id uint32)

type item struct {
	id     uint32
	obj    any
	seq    uint32
	result Result
	fn     Func
	data   any
}

// Queue is a per-loop list of deferred work items. The zero value is ready
// to use. Queue is safe for concurrent use; Process must be called from the
// owning loop's single goroutine (it is not safe to run two Process calls
// concurrently against the same Queue).
type Queue struct {
	mu      sync.Mutex
	items   []item
	counter uint32
	// wake is signalled whenever Add/Cancel/Complete makes at least one
	// item immediately processable; the owning loop selects on it.
	wake chan struct{}
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Wake returns the channel the owning loop should select on: a value is
// sent (non-blocking) whenever new work may be ready to Process.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Add enqueues fn to run against obj once res indicates it is ready (see
// Async/WaitSync/Sync). It returns an id that can later be passed to
// Cancel.
func (q *Queue) Add(obj any, res Result, fn Func, data any) uint32 {
	q.mu.Lock()
	q.counter++
	id := q.counter
	it := item{id: id, obj: obj, fn: fn, data: data, result: res}
	if res.async {
		it.seq = res.seq
	} else {
		it.seq = invalidSeq
	}
	q.items = append(q.items, it)
	readyNow := !res.async
	q.mu.Unlock()

	if readyNow {
		q.signal()
	}
	return id
}

// Cancel clears the callback for every queued item matching obj and id. A
// zero id matches any id; a nil obj matches any object. Cancelled items are
// still removed from the queue on the next Process, but their callback is
// not invoked.
func (q *Queue) Cancel(obj any, id uint32) {
	q.mu.Lock()
	found := false
	for i := range q.items {
		it := &q.items[i]
		if (id == 0 || it.id == id) && (obj == nil || it.obj == obj) {
			it.seq = invalidSeq
			it.fn = nil
			found = true
		}
	}
	q.mu.Unlock()
	if found {
		q.signal()
	}
}

// Complete marks every item queued against obj under sequence seq as ready,
// attaching res as its result. It reports whether any item matched.
func (q *Queue) Complete(obj any, seq uint32, res Result) bool {
	q.mu.Lock()
	found := false
	for i := range q.items {
		it := &q.items[i]
		if it.obj == obj && it.seq == seq {
			it.seq = invalidSeq
			it.result = res
			found = true
		}
	}
	q.mu.Unlock()
	if found {
		q.signal()
	}
	return found
}

// Process drains every item that is currently ready to run, in queue
// (insertion) order, skipping over items still awaiting an async
// completion or a WaitSync item that is not yet at the head. It must be
// called from the loop that owns this Queue. Process never blocks.
func (q *Queue) Process() {
	for {
		q.mu.Lock()
		idx := -1
		for i := range q.items {
			it := &q.items[i]
			if it.seq != invalidSeq {
				continue // still awaiting async ack
			}
			if it.result.waitSync && i != 0 {
				continue // sync items only run at the head
			}
			idx = i
			break
		}
		if idx < 0 {
			q.mu.Unlock()
			return
		}
		it := q.items[idx]
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.mu.Unlock()

		if it.fn != nil {
			it.fn(it.obj, it.data, it.result, it.id)
		}
	}
}

// Len reports the number of items currently queued (processed or not).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
