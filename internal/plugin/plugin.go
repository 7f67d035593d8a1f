// Package plugin defines the interfaces a concrete node implementation
// (a codec, a device monitor, a loopback test node, ...) must satisfy to be
// driven by the graph engine, and the process-wide factory registry nodes
// are created from. Concrete plugins are out of scope for the core itself;
// this package only carries the contract and the registration mechanism.
package plugin

import "github.com/alxayo/mediagraph-core/internal/workqueue"

// Direction identifies a port as input or output.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Format describes a negotiated or candidate media format. MediaType is an
// opaque identifier (e.g. "audio/raw"); Props carries codec-specific keys
// such as sample rate, channel count, or pixel format.
type Format struct {
	MediaType string
	Props     map[string]any
}

// SharedMeta identifies a buffer's backing memory-pool position, carried in
// every buffer's metadata so a peer can map it.
type SharedMeta struct {
	BlockID uint32
	Offset  int
	Size    int
}

// Buffer is one element of a port's buffer pool.
type Buffer struct {
	Shared SharedMeta
	Extra  map[string]any
}

// BufferSize requests one buffer to be allocated with the given size and
// stride.
type BufferSize struct {
	Size   int
	Stride int
}

// Caps reports a port's negotiated allocation capabilities, gathered from
// PortGetInfo during Stage A (buffer allocation) of link negotiation.
type Caps struct {
	CanUseBuffers   bool
	CanAllocBuffers bool
	Live            bool
	RingBuffer      bool
	Size            int
	Stride          int
}

// State is a node's lifecycle state (§4.1).
type State int

const (
	StateCreating State = iota
	StateSuspended
	StateIdle
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateSuspended:
		return "suspended"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Node is the capability set a plugin must implement to be driven by the
// graph engine (§4.1, §6). Any method that may complete asynchronously
// returns a workqueue.Result: Sync results take effect immediately, Async
// results are completed later by the node reporting the same sequence
// number back through its work queue.
type Node interface {
	// PortGetInfo reports the capabilities of the named port, used during
	// Stage A buffer-allocation negotiation.
	PortGetInfo(dir Direction, portID uint32) (Caps, error)
	// PortSetFormat applies a negotiated format to a port (Stage N).
	PortSetFormat(dir Direction, portID uint32, format Format) (workqueue.Result, error)
	// PortUseBuffers installs an externally-allocated buffer set on a port
	// that declared CanUseBuffers (Stage A).
	PortUseBuffers(dir Direction, portID uint32, buffers []Buffer) (workqueue.Result, error)
	// PortAllocBuffers allocates and installs a buffer set on a port that
	// declared CanAllocBuffers (Stage A); returns the allocated buffers.
	PortAllocBuffers(dir Direction, portID uint32, sizes []BufferSize) ([]Buffer, workqueue.Result, error)
	// SetState requests a node state transition (§4.1, Stage S).
	SetState(target State) (workqueue.Result, error)
	// Process runs one iteration of the node's real-time processing
	// callback; invoked only from the data loop.
	Process() error
}

// Factory creates Node instances by name, mirroring node-factory.c's
// enumeration-function contract (§6 "Plugin interface (consumed)").
type Factory interface {
	Name() string
	New(props map[string]string) (Node, error)
}
