package graph

import (
	"fmt"
	"sync"

	mgerrors "github.com/alxayo/mediagraph-core/internal/errors"
	"github.com/alxayo/mediagraph-core/internal/plugin"
	"github.com/alxayo/mediagraph-core/internal/signal"
	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// StateChange is emitted on Node.StateChanged whenever a node's lifecycle
// state transitions, including into StateError.
type StateChange struct {
	Node *Node
	Old  plugin.State
	New  plugin.State
	Err  error
}

// Info mirrors the small info block the original core sends verbatim in
// NODE_INFO events: capacity and current port counts plus properties
// (§3.1 supplemented field).
type Info struct {
	MaxInputPorts  int
	MaxOutputPorts int
	NInputPorts    int
	NOutputPorts   int
	Props          map[string]string
}

// Node is a polymorphic media processing unit driven by a plugin
// implementation (§4.1).
type Node struct {
	Global *Global
	Core   *Core
	ID     uint32
	Name   string
	Plugin plugin.Node

	mu               sync.Mutex
	state            plugin.State
	errMsg           string
	info             Info
	inputPorts       []*Port
	outputPorts      []*Port
	nUsedInputLinks  int
	nUsedOutputLinks int
	idleCancel       func()
	nextPortID       uint32
	live             bool

	StateChanged  signal.Signal[StateChange]
	PortAdded     signal.Signal[*Port]
	PortRemoved   signal.Signal[*Port]
	AsyncComplete signal.Signal[uint32]
}

func newNode(core *Core, name string, props map[string]string, impl plugin.Node) *Node {
	strProps := make(map[string]string, len(props))
	for k, v := range props {
		strProps[k] = v
	}
	n := &Node{
		Core:   core,
		Name:   name,
		Plugin: impl,
		state:  plugin.StateCreating,
		info:   Info{Props: strProps},
	}
	// The plugin signalling readiness is modeled as immediate for a
	// synchronous plugin implementation; an async-init plugin would call
	// back through the work queue instead, same as any other async op.
	n.state = plugin.StateSuspended
	return n
}

// State returns the node's current lifecycle state.
func (n *Node) State() plugin.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// ErrMsg returns the sticky error description set by ReportError, if the
// node is in StateError.
func (n *Node) ErrMsg() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.errMsg
}

// Info returns a copy of the node's info block.
func (n *Node) Info() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

// ReportError transfers ownership of msg, moves the node to StateError
// (sticky until destruction), and fires StateChanged (§4.1).
func (n *Node) ReportError(err error) {
	n.mu.Lock()
	old := n.state
	if old == plugin.StateError {
		n.mu.Unlock()
		return
	}
	n.state = plugin.StateError
	if err != nil {
		n.errMsg = err.Error()
	}
	n.mu.Unlock()

	n.StateChanged.Emit(StateChange{Node: n, Old: old, New: plugin.StateError, Err: err})
}

// SetState requests a transition to target. If the plugin's SetState
// returns an async result, the transition completes later via the work
// queue when the plugin calls CompleteAsync with the same sequence number.
func (n *Node) SetState(target plugin.State) error {
	n.mu.Lock()
	if n.state == plugin.StateError {
		n.mu.Unlock()
		return nil // error is sticky until destruction
	}
	old := n.state
	n.mu.Unlock()

	res, err := n.Plugin.SetState(target)
	if err != nil {
		n.ReportError(err)
		return err
	}
	if res.IsAsync() {
		n.Core.Queue.Add(n, res, func(obj any, data any, r workqueue.Result, id uint32) {
			node := obj.(*Node)
			pending := data.(pendingStateChange)
			if r.Code < 0 {
				cause := fmt.Errorf("plugin reported failure (code %d) setting state %s", r.Code, pending.target)
				node.ReportError(mgerrors.NewAsyncError("node.set_state", id, cause))
				return
			}
			node.applyState(pending.old, pending.target)
		}, pendingStateChange{old: old, target: target})
		return nil
	}

	n.applyState(old, target)
	return nil
}

type pendingStateChange struct {
	old    plugin.State
	target plugin.State
}

func (n *Node) applyState(old, target plugin.State) {
	n.mu.Lock()
	n.state = target
	n.mu.Unlock()
	n.StateChanged.Emit(StateChange{Node: n, Old: old, New: target})
}

// CompleteAsync completes a pending async SetState/port operation
// identified by seq, with a negative code signalling plugin failure (§7
// "Async-op failure").
func (n *Node) CompleteAsync(seq uint32, code int32) {
	n.Core.Queue.Complete(n, seq, workqueue.Sync(code))
	n.AsyncComplete.Emit(seq)
}

// AddPort appends a new port in the given direction and emits PortAdded.
func (n *Node) AddPort(dir plugin.Direction, possible []plugin.Format) *Port {
	n.mu.Lock()
	portID := n.nextPortID
	n.nextPortID++
	p := NewPort(n, dir, portID, possible)
	if dir == plugin.Input {
		n.inputPorts = append(n.inputPorts, p)
		n.info.NInputPorts++
	} else {
		n.outputPorts = append(n.outputPorts, p)
		n.info.NOutputPorts++
	}
	n.mu.Unlock()

	n.PortAdded.Emit(p)
	return p
}

// RemovePort removes p from its direction's list and emits PortRemoved.
func (n *Node) RemovePort(p *Port) {
	n.mu.Lock()
	if p.Direction == plugin.Input {
		n.inputPorts = removePort(n.inputPorts, p)
		n.info.NInputPorts--
	} else {
		n.outputPorts = removePort(n.outputPorts, p)
		n.info.NOutputPorts--
	}
	n.mu.Unlock()

	n.PortRemoved.Emit(p)
}

func removePort(list []*Port, target *Port) []*Port {
	for i, p := range list {
		if p == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Ports returns a snapshot of this node's ports in the given direction, in
// insertion order.
func (n *Node) Ports(dir plugin.Direction) []*Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	if dir == plugin.Input {
		return append([]*Port(nil), n.inputPorts...)
	}
	return append([]*Port(nil), n.outputPorts...)
}

// Live reports whether this node was marked live (bound to a hardware clock)
// by a link's buffer negotiation (§4.2 Stage A).
func (n *Node) Live() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.live
}

func (n *Node) setLive(live bool) {
	n.mu.Lock()
	if live {
		n.live = true
	}
	n.mu.Unlock()
}

// FreePort returns the first port in direction with no active link, or nil.
func (n *Node) FreePort(dir plugin.Direction) *Port {
	for _, p := range n.Ports(dir) {
		if len(p.Links()) == 0 {
			return p
		}
	}
	return nil
}

// linkAttached is called by Link when a port's state first reaches Paused;
// it bumps the node's use-count for dir and, if the node is still
// suspended, advances it to idle (§4.1).
func (n *Node) linkAttached(dir plugin.Direction) {
	n.mu.Lock()
	if dir == plugin.Input {
		n.nUsedInputLinks++
	} else {
		n.nUsedOutputLinks++
	}
	if n.idleCancel != nil {
		n.idleCancel()
		n.idleCancel = nil
	}
	needsIdle := n.state == plugin.StateSuspended
	n.mu.Unlock()

	if needsIdle {
		n.applyState(plugin.StateSuspended, plugin.StateIdle)
	}
}

// linkDetached mirrors linkAttached on link teardown; when both use-counts
// reach zero the node arms its idle-suspend timer (§4.1, §5).
func (n *Node) linkDetached(dir plugin.Direction) {
	n.mu.Lock()
	if dir == plugin.Input && n.nUsedInputLinks > 0 {
		n.nUsedInputLinks--
	} else if dir == plugin.Output && n.nUsedOutputLinks > 0 {
		n.nUsedOutputLinks--
	}
	bothZero := n.nUsedInputLinks == 0 && n.nUsedOutputLinks == 0
	wasRunning := n.state == plugin.StateRunning
	isIdle := n.state == plugin.StateIdle
	n.mu.Unlock()

	if bothZero && wasRunning {
		n.applyState(plugin.StateRunning, plugin.StateIdle)
		isIdle = true
	}
	if bothZero && isIdle {
		n.armIdleTimer()
	}
}

// armIdleTimer schedules a transition to StateSuspended after
// Core.IdleTimeout, unless a new link attaches first (§8 property 6).
func (n *Node) armIdleTimer() {
	if n.Core.Timer == nil {
		return
	}
	cancel := n.Core.Timer.AfterFunc(n.Core.IdleTimeout, func() {
		n.mu.Lock()
		stillIdle := n.state == plugin.StateIdle && n.nUsedInputLinks == 0 && n.nUsedOutputLinks == 0
		n.idleCancel = nil
		n.mu.Unlock()
		if stillIdle {
			n.applyState(plugin.StateIdle, plugin.StateSuspended)
		}
	})
	n.mu.Lock()
	n.idleCancel = cancel
	n.mu.Unlock()
}
