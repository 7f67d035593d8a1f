package graph

import (
	"fmt"
	"sync"

	"github.com/alxayo/mediagraph-core/internal/plugin"
	"github.com/alxayo/mediagraph-core/internal/signal"
	"github.com/alxayo/mediagraph-core/internal/types"
	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// LinkState is a link's position in the five-stage negotiation pipeline
// (§4.2): init, negotiating a common format, allocating buffers, paused
// once both ports have buffers, running once both are streaming.
type LinkState int

const (
	LinkInit LinkState = iota
	LinkNegotiating
	LinkAllocating
	LinkPaused
	LinkRunning
	LinkError
	LinkUnlinked
)

func (s LinkState) String() string {
	switch s {
	case LinkInit:
		return "init"
	case LinkNegotiating:
		return "negotiating"
	case LinkAllocating:
		return "allocating"
	case LinkPaused:
		return "paused"
	case LinkRunning:
		return "running"
	case LinkError:
		return "error"
	case LinkUnlinked:
		return "unlinked"
	default:
		return "unknown"
	}
}

// LinkStateChange is emitted on Link.StateChanged on every transition.
type LinkStateChange struct {
	Link *Link
	Old  LinkState
	New  LinkState
	Err  error
}

// Link connects one output port to one input port and drives them through
// negotiation, buffer allocation, and start (§4.2). A Link owns a private
// work queue used only to serialize re-entrant calls to checkStates behind
// any outstanding async plugin operation; per-op completion bookkeeping
// lives on the Node that issued the operation (Node.AsyncComplete).
type Link struct {
	Core   *Core
	Global *Global

	mu        sync.Mutex
	state     LinkState
	errMsg    string
	destroyed bool

	Output *Port
	Input  *Port

	filter []plugin.Format

	bufferOwner *Port // port the buffers came from; on fresh allocation, the port allocated through
	linkOwns    bool
	buffers     []plugin.Buffer

	queue *workqueue.Queue

	outputNode, inputNode *Node

	outDestroyID int
	inDestroyID  int
	outAsyncID   int
	inAsyncID    int

	StateChanged signal.Signal[LinkStateChange]
	Destroy      signal.Signal[*Link]
	PortUnlinked signal.Signal[*Port]
}

// NewLink constructs a Link between output and input, in state LinkInit.
// Callers must call Activate to start negotiation.
func NewLink(core *Core, output, input *Port, filter []plugin.Format) *Link {
	l := &Link{
		Core:       core,
		Output:     output,
		Input:      input,
		outputNode: output.Node,
		inputNode:  input.Node,
		filter:     filter,
		state:      LinkInit,
		queue:      workqueue.New(),
	}
	output.AddLink(l)
	input.AddLink(l)

	l.outDestroyID = output.Node.PortRemoved.Connect(func(p *Port) { l.onPortDestroyed(p) })
	l.inDestroyID = input.Node.PortRemoved.Connect(func(p *Port) { l.onPortDestroyed(p) })
	l.outAsyncID = output.Node.AsyncComplete.Connect(func(seq uint32) { l.onNodeAsyncComplete(output.Node, seq) })
	l.inAsyncID = input.Node.AsyncComplete.Connect(func(seq uint32) { l.onNodeAsyncComplete(input.Node, seq) })

	linkTypeID := core.Types.ID(types.URILink)
	l.Global = core.AddGlobal(nil, linkTypeID, l, func(client *Client, clientLocalID uint32) (*Resource, error) {
		return client.AddResource(clientLocalID, linkTypeID, l, nil), nil
	})
	return l
}

// State returns the link's current negotiation state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ErrMsg returns the error description set when the link entered LinkError.
func (l *Link) ErrMsg() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}

func (l *Link) setState(s LinkState, errMsg string) {
	l.mu.Lock()
	old := l.state
	if old == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.errMsg = errMsg
	l.mu.Unlock()

	var err error
	if errMsg != "" {
		err = fmt.Errorf("%s", errMsg)
	}
	l.StateChanged.Emit(LinkStateChange{Link: l, Old: old, New: s, Err: err})
}

// Queue exposes the link's private work queue so the owning loop can select
// on its Wake channel and call Process when it fires.
func (l *Link) Queue() *workqueue.Queue { return l.queue }

// Activate schedules the first negotiation pass (§4.2).
func (l *Link) Activate() {
	l.queue.Add(l, workqueue.WaitSync(), func(obj any, data any, r workqueue.Result, id uint32) {
		l.checkStates()
	}, nil)
}

func (l *Link) onNodeAsyncComplete(node *Node, seq uint32) {
	l.queue.Complete(node, seq, workqueue.Sync(0))
}

func (l *Link) deferRecheck() {
	l.queue.Add(l, workqueue.WaitSync(), func(obj any, data any, r workqueue.Result, id uint32) {
		l.checkStates()
	}, nil)
}

// checkStates drives the negotiate -> allocate -> start pipeline, looping
// while port states keep advancing in a single pass and deferring a re-run
// (behind any outstanding async op) once they stop (§4.2, §8 property 4).
// Must only be invoked from the loop that owns l.Queue().
func (l *Link) checkStates() {
	for {
		if l.State() == LinkError {
			return
		}
		if l.Input == nil || l.Output == nil {
			return
		}
		if l.Input.Node.State() == plugin.StateError || l.Output.Node.State() == plugin.StateError {
			l.setState(LinkError, "peer node entered error state")
			return
		}

		inState := l.Input.State()
		outState := l.Output.State()

		if !l.doNegotiate(inState, outState) {
			if l.State() != LinkError {
				l.deferRecheck()
			}
			return
		}
		if l.State() == LinkError {
			return
		}
		if !l.doAllocate(inState, outState) {
			if l.State() != LinkError {
				l.deferRecheck()
			}
			return
		}
		if l.State() == LinkError {
			return
		}
		if !l.doStart(inState, outState) {
			if l.State() != LinkError {
				l.deferRecheck()
			}
			return
		}
		if l.State() == LinkError {
			return
		}

		if l.Input.State() == inState && l.Output.State() == outState {
			return // converged, nothing left to advance
		}
		// one or both ports moved forward this pass; re-evaluate from the top
	}
}

func negotiateFormat(output, input *Port, filter []plugin.Format) (*plugin.Format, error) {
	candidates := output.PossibleFormats()
	if len(candidates) == 0 {
		candidates = input.PossibleFormats()
	}
	inSet := input.PossibleFormats()
	for _, c := range candidates {
		if len(filter) > 0 && !formatAllowed(c, filter) {
			continue
		}
		if len(inSet) == 0 || formatAllowed(c, inSet) {
			f := c
			return &f, nil
		}
	}
	return nil, fmt.Errorf("no common format between output and input ports")
}

func formatAllowed(f plugin.Format, set []plugin.Format) bool {
	for _, s := range set {
		if formatsCompatible(f, s) {
			return true
		}
	}
	return false
}

// formatsCompatible reports whether a and b can describe one negotiated
// stream: same media type, and every prop key present on both sides agrees
// (§4.2 Stage N intersects media type and the detailed format, not media
// type alone — two "audio/raw" formats with different sample formats are
// not the same format).
func formatsCompatible(a, b plugin.Format) bool {
	if a.MediaType != b.MediaType {
		return false
	}
	for k, av := range a.Props {
		if bv, ok := b.Props[k]; ok && av != bv {
			return false
		}
	}
	return true
}

// doNegotiate implements Stage N. Returns false if the pass must be
// deferred (either an error, or an async set-format still outstanding).
func (l *Link) doNegotiate(inState, outState PortState) bool {
	if inState != PortConfigure && outState != PortConfigure {
		return true
	}
	l.setState(LinkNegotiating, "")

	format, err := negotiateFormat(l.Output, l.Input, l.filter)
	if err != nil {
		l.setState(LinkError, err.Error())
		return false
	}

	if outState > PortConfigure && l.Output.Node.State() == plugin.StateIdle {
		_ = l.Output.Node.SetState(plugin.StateSuspended)
		outState = PortConfigure
	}
	if inState > PortConfigure && l.Input.Node.State() == plugin.StateIdle {
		_ = l.Input.Node.SetState(plugin.StateSuspended)
		inState = PortConfigure
	}

	if outState == PortConfigure {
		res, err := l.Output.Node.Plugin.PortSetFormat(plugin.Output, l.Output.PortID, *format)
		if err != nil {
			l.setState(LinkError, fmt.Sprintf("set output format: %v", err))
			return false
		}
		l.Output.setFormat(format)
		l.Output.setState(PortReady)
		if res.IsAsync() {
			l.queue.Add(l.Output.Node, res, nil, nil)
		}
	}
	if inState == PortConfigure {
		res, err := l.Input.Node.Plugin.PortSetFormat(plugin.Input, l.Input.PortID, *format)
		if err != nil {
			l.setState(LinkError, fmt.Sprintf("set input format: %v", err))
			return false
		}
		l.Input.setFormat(format)
		l.Input.setState(PortReady)
		if res.IsAsync() {
			l.queue.Add(l.Input.Node, res, nil, nil)
		}
	}
	return true
}

// doAllocate implements Stage A: decide who allocates, who reuses (§3 Port:
// allocated-flag; §4.2 Open Question: a ring-buffer metadata override takes
// precedence over the generic min-size/stride negotiation whenever both
// sides advertise RingBuffer capability).
func (l *Link) doAllocate(inState, outState PortState) bool {
	if inState != PortReady && outState != PortReady {
		return true
	}
	l.setState(LinkAllocating, "")

	outCaps, err := l.Output.Node.Plugin.PortGetInfo(plugin.Output, l.Output.PortID)
	if err != nil {
		l.setState(LinkError, fmt.Sprintf("get output port info: %v", err))
		return false
	}
	inCaps, err := l.Input.Node.Plugin.PortGetInfo(plugin.Input, l.Input.PortID)
	if err != nil {
		l.setState(LinkError, fmt.Sprintf("get input port info: %v", err))
		return false
	}

	if outCaps.Live || inCaps.Live {
		l.Output.Node.setLive(true)
		l.Input.Node.setLive(true)
	}

	var outAlloc, outUse, inAlloc, inUse bool
	switch {
	case inState == PortReady && outState == PortReady:
		switch {
		case outCaps.CanAllocBuffers && inCaps.CanUseBuffers:
			outAlloc, inUse = true, true
		case outCaps.CanUseBuffers && inCaps.CanAllocBuffers:
			outUse, inAlloc = true, true
		case outCaps.CanUseBuffers && inCaps.CanUseBuffers:
			outUse, inUse = true, true
		case outCaps.CanAllocBuffers && inCaps.CanAllocBuffers:
			outAlloc, inUse = true, true // output allocates, input uses what it produces
		default:
			l.setState(LinkError, "no common buffer allocation strategy")
			return false
		}
	case inState == PortReady && outState > PortReady:
		inUse = true
	case outState == PortReady && inState > PortReady:
		outUse = true
	default:
		return true // nothing new to allocate this pass
	}

	if l.buffers == nil {
		size, stride := negotiateBufferLayout(outCaps, inCaps)
		nBuffers := l.Core.MaxBuffers
		if outCaps.RingBuffer && inCaps.RingBuffer {
			nBuffers = 1 // ring-buffer override: a single large buffer
		}
		switch {
		case len(l.Output.Buffers()) > 0:
			l.buffers = l.Output.Buffers()
			l.bufferOwner = l.Output
		case len(l.Input.Buffers()) > 0:
			l.buffers = l.Input.Buffers()
			l.bufferOwner = l.Input
		case outAlloc:
			bufs, res, err := l.Output.Node.Plugin.PortAllocBuffers(plugin.Output, l.Output.PortID,
				makeSizes(nBuffers, size, stride))
			if err != nil {
				l.setState(LinkError, fmt.Sprintf("alloc output buffers: %v", err))
				return false
			}
			l.buffers = bufs
			l.bufferOwner = l.Output
			l.linkOwns = true
			l.Output.setState(PortPaused)
			l.Output.setBuffers(bufs, true)
			if res.IsAsync() {
				l.queue.Add(l.Output.Node, res, nil, nil)
			}
		case inAlloc:
			bufs, res, err := l.Input.Node.Plugin.PortAllocBuffers(plugin.Input, l.Input.PortID,
				makeSizes(nBuffers, size, stride))
			if err != nil {
				l.setState(LinkError, fmt.Sprintf("alloc input buffers: %v", err))
				return false
			}
			l.buffers = bufs
			l.bufferOwner = l.Input
			l.linkOwns = true
			l.Input.setState(PortPaused)
			l.Input.setBuffers(bufs, true)
			if res.IsAsync() {
				l.queue.Add(l.Input.Node, res, nil, nil)
			}
		default:
			l.setState(LinkError, "no allocator side available")
			return false
		}
	}

	if inUse && l.Input.State() != PortPaused {
		res, err := l.Input.Node.Plugin.PortUseBuffers(plugin.Input, l.Input.PortID, l.buffers)
		if err != nil {
			l.setState(LinkError, fmt.Sprintf("use input buffers: %v", err))
			return false
		}
		l.Input.setState(PortPaused)
		l.Input.setBuffers(l.buffers, false)
		if res.IsAsync() {
			l.queue.Add(l.Input.Node, res, nil, nil)
		}
	} else if outUse && l.Output.State() != PortPaused {
		res, err := l.Output.Node.Plugin.PortUseBuffers(plugin.Output, l.Output.PortID, l.buffers)
		if err != nil {
			l.setState(LinkError, fmt.Sprintf("use output buffers: %v", err))
			return false
		}
		l.Output.setState(PortPaused)
		l.Output.setBuffers(l.buffers, false)
		if res.IsAsync() {
			l.queue.Add(l.Output.Node, res, nil, nil)
		}
	}

	if l.Output.State() == PortPaused {
		l.Output.Node.linkAttached(plugin.Output)
	}
	if l.Input.State() == PortPaused {
		l.Input.Node.linkAttached(plugin.Input)
	}

	return true
}

func negotiateBufferLayout(outCaps, inCaps plugin.Caps) (size, stride int) {
	if outCaps.RingBuffer && inCaps.RingBuffer {
		// ring-buffer metadata, when both sides advertise it, overrides the
		// generic size/stride negotiation below (Open Question decision).
		size = maxInt(outCaps.Size, inCaps.Size)
		stride = maxInt(outCaps.Stride, inCaps.Stride)
		return
	}
	size = maxInt(outCaps.Size, inCaps.Size)
	if size == 0 {
		size = 1024
	}
	stride = maxInt(outCaps.Stride, inCaps.Stride)
	return
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func makeSizes(n, size, stride int) []plugin.BufferSize {
	if n <= 0 {
		n = defaultMaxBuffers
	}
	sizes := make([]plugin.BufferSize, n)
	for i := range sizes {
		sizes[i] = plugin.BufferSize{Size: size, Stride: stride}
	}
	return sizes
}

// doStart implements Stage S: once both ports hold buffers (Paused), ask
// whichever node hasn't started yet to run, advancing that port to
// Streaming; once both sides stream, the link itself is Running.
func (l *Link) doStart(inState, outState PortState) bool {
	if inState < PortPaused || outState < PortPaused {
		return true
	}
	if l.Input.State() == PortStreaming && l.Output.State() == PortStreaming {
		l.setState(LinkRunning, "")
		return true
	}

	l.setState(LinkPaused, "")

	if l.Input.State() == PortPaused {
		if err := l.Input.Node.SetState(plugin.StateRunning); err != nil {
			l.setState(LinkError, fmt.Sprintf("start input node: %v", err))
			return false
		}
		l.Input.setState(PortStreaming)
	}
	if l.Output.State() == PortPaused {
		if err := l.Output.Node.SetState(plugin.StateRunning); err != nil {
			l.setState(LinkError, fmt.Sprintf("start output node: %v", err))
			return false
		}
		l.Output.setState(PortStreaming)
	}
	return true
}

// onPortDestroyed handles either endpoint's owning node removing that port
// out from under this link: the link is forced into teardown (§4.2 "Port
// destroyed mid-link").
func (l *Link) onPortDestroyed(p *Port) {
	var other *Port
	l.mu.Lock()
	if l.Output == p {
		other = l.Input
		l.Output = nil
	} else if l.Input == p {
		other = l.Output
		l.Input = nil
	} else {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if l.bufferOwner == p && other != nil {
		other.setBuffers(nil, false)
		other.setState(PortReady)
	}
	// Teardown only sees the surviving port, so detach the destroyed one here.
	p.RemoveLink(l)
	p.Node.linkDetached(p.Direction)

	l.PortUnlinked.Emit(p)
	l.setState(LinkUnlinked, "")
	l.Teardown()
}

// Teardown performs the two-phase asynchronous link removal (§5): the
// per-port detach (clearing buffers, decrementing each node's used-link
// count) runs through Core.Data, bridging to the data loop's thread the
// same way the control loop's invoke mechanism does; once both sides have
// been detached, the link unsubscribes its signals and is eligible for
// garbage collection. Safe to call more than once.
func (l *Link) Teardown() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	out, in := l.Output, l.Input
	l.mu.Unlock()

	detach := func() {
		if out != nil {
			out.RemoveLink(l)
			out.Node.linkDetached(plugin.Output)
			if l.bufferOwner != out {
				clearPortBuffers(out)
			}
		}
		if in != nil {
			in.RemoveLink(l)
			in.Node.linkDetached(plugin.Input)
			if l.bufferOwner != in {
				clearPortBuffers(in)
			}
		}
	}

	if l.Core != nil && l.Core.Data != nil {
		l.Core.Data.Invoke(detach)
	} else {
		detach()
	}

	l.Destroy.Emit(l)

	if l.outputNode != nil {
		l.outputNode.PortRemoved.Disconnect(l.outDestroyID)
		l.outputNode.AsyncComplete.Disconnect(l.outAsyncID)
	}
	if l.inputNode != nil {
		l.inputNode.PortRemoved.Disconnect(l.inDestroyID)
		l.inputNode.AsyncComplete.Disconnect(l.inAsyncID)
	}

	if l.Global != nil && l.Core != nil {
		l.Core.RemoveGlobal(l.Global)
	}
}

func clearPortBuffers(p *Port) {
	if p.State() == PortConfigure {
		return
	}
	p.setBuffers(nil, false)
	p.setState(PortReady)
}
