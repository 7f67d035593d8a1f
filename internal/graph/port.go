package graph

import (
	"sync"

	"github.com/alxayo/mediagraph-core/internal/plugin"
)

// PortState is a port's position in the negotiation pipeline (§3, §4.2).
// It only ever increases via negotiation, and drops to PortConfigure only
// when its format is cleared (§3 invariant 4).
type PortState int

const (
	PortConfigure PortState = iota
	PortReady
	PortPaused
	PortStreaming
)

func (s PortState) String() string {
	switch s {
	case PortConfigure:
		return "configure"
	case PortReady:
		return "ready"
	case PortPaused:
		return "paused"
	case PortStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Port is a directional endpoint on a Node (§3).
type Port struct {
	ID        uint32
	Node      *Node
	Direction plugin.Direction
	PortID    uint32 // numeric port id, scoped to Node+Direction

	mu              sync.Mutex
	state           PortState
	possibleFormats []plugin.Format
	format          *plugin.Format
	buffers         []plugin.Buffer
	allocated       bool // true if this port's buffers were allocated by a link it's part of
	links           []*Link
}

// NewPort constructs a Port in state PortConfigure.
func NewPort(node *Node, dir plugin.Direction, portID uint32, possible []plugin.Format) *Port {
	return &Port{Node: node, Direction: dir, PortID: portID, possibleFormats: possible, state: PortConfigure}
}

// State returns the port's current negotiation state.
func (p *Port) State() PortState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setState moves the port to s. Callers (the link state machine) are
// responsible for only ever increasing it, except when clearing format
// drops it back to PortConfigure (invariant 4).
func (p *Port) setState(s PortState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Format returns the negotiated format, or nil if the port is still below
// PortReady.
func (p *Port) Format() *plugin.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

func (p *Port) setFormat(f *plugin.Format) {
	p.mu.Lock()
	p.format = f
	if f == nil {
		p.state = PortConfigure
	}
	p.mu.Unlock()
}

// PossibleFormats returns the filter set this port advertises before
// negotiation.
func (p *Port) PossibleFormats() []plugin.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]plugin.Format(nil), p.possibleFormats...)
}

// Buffers returns the port's currently installed buffer set.
func (p *Port) Buffers() []plugin.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers
}

func (p *Port) setBuffers(bufs []plugin.Buffer, allocated bool) {
	p.mu.Lock()
	p.buffers = bufs
	p.allocated = allocated
	p.mu.Unlock()
}

// Allocated reports whether this port's buffer set was allocated through
// this port by a link, rather than installed from a pool allocated
// elsewhere (§3 Port: "allocated-flag records which").
func (p *Port) Allocated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// AddLink records l as incident on this port.
func (p *Port) AddLink(l *Link) {
	p.mu.Lock()
	p.links = append(p.links, l)
	p.mu.Unlock()
}

// RemoveLink forgets l. The port's buffers are left as they are.
func (p *Port) RemoveLink(l *Link) {
	p.mu.Lock()
	for i, existing := range p.links {
		if existing == l {
			p.links = append(p.links[:i], p.links[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Links returns a snapshot of links incident to this port.
func (p *Port) Links() []*Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Link(nil), p.links...)
}
