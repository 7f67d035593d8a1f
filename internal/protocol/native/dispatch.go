package native

import (
	"log/slog"

	"github.com/alxayo/mediagraph-core/internal/access"
	"github.com/alxayo/mediagraph-core/internal/graph"
	"github.com/alxayo/mediagraph-core/internal/types"
	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// Result codes carried in ErrorEvent.Res (§7 error taxonomy). Negative,
// mirroring the convention every plugin and work-queue completion in this
// core already uses for failure.
const (
	ResNoPermission = -1
	ResNoSuchObject = -2
	ResInvalid      = -3
	ResNoMemory     = -4
)

// Dispatcher owns one client's worth of protocol state: its graph.Client,
// the registry resource id it bound (if any), and the Global-added/removed
// subscriptions feeding that registry's live notify_global stream (§4.5,
// §4.6). Every server object's event vtable and demarshal vtable — "the
// protocol installs on resource-added by inspecting resource.type" — is
// collapsed here into one opcode switch per resource type, since this core
// only ever sees Core/Registry/Node/Client/Link resources.
type Dispatcher struct {
	core   *graph.Core
	conn   *Conn
	client *graph.Client
	log    *slog.Logger

	registryResID uint32
	registryBound bool
	addedID       int
	removedID     int
}

// NewDispatcher registers a fresh graph.Client for conn's credentials,
// installs the core resource at the conventional id 0, wires conn's frame
// handler, and sends the initial CORE_INFO event.
func NewDispatcher(core *graph.Core, conn *Conn) *Dispatcher {
	client := core.NewClient(conn.UID, conn.GID, conn.PID)
	coreResource := client.AddResource(0, core.Types.ID(types.URICore), core, nil)
	client.CoreResource = coreResource

	d := &Dispatcher{core: core, conn: conn, client: client, log: core.Logger}
	conn.SetFrameHandler(d.handleFrame)

	_ = conn.SendFrame(d.event(0, OpCoreInfo, CoreInfo{ID: client.ID}.Encode()))
	return d
}

func (d *Dispatcher) event(destID uint32, op Opcode, payload Value) Frame {
	return Frame{ID: destID, Opcode: uint8(op), Payload: Marshal(nil, payload)}
}

func (d *Dispatcher) sendError(destID uint32, res int32, msg string) {
	_ = d.conn.SendFrame(d.event(destID, OpCoreError, ErrorEvent{ID: destID, Res: res, Message: msg}.Encode()))
}

// handleFrame is the connection's sole entry point for incoming requests.
// An unknown destination resource id closes the connection; an unknown
// opcode for a known resource type drops the frame and logs (§4.6).
func (d *Dispatcher) handleFrame(fr Frame) {
	res, ok := d.client.Resource(fr.ID)
	if !ok {
		d.log.Warn("native: unknown resource id, closing connection", "id", fr.ID)
		_ = d.conn.Close()
		return
	}

	switch res.TypeID {
	case d.core.Types.ID(types.URICore):
		d.handleCore(fr)
	case d.core.Types.ID(types.URIRegistry):
		d.handleRegistry(fr)
	case d.core.Types.ID(types.URINode):
		d.handleNode(fr, res)
	default:
		d.log.Warn("native: opcode for unsupported resource type", "type", res.TypeID, "opcode", fr.Opcode)
	}
}

func (d *Dispatcher) handleCore(fr Frame) {
	switch Opcode(fr.Opcode) {
	case OpCoreClientUpdate:
		v, n, err := Unmarshal(fr.Payload)
		if err != nil || n != len(fr.Payload) {
			d.log.Warn("native: malformed CLIENT_UPDATE", "error", err)
			return
		}
		msg, err := DecodeClientUpdate(v, d.core.Types.URI)
		if err != nil {
			d.log.Warn("native: malformed CLIENT_UPDATE", "error", err)
			return
		}
		for k, val := range msg.Props {
			d.client.Properties[k] = val
		}

	case OpCoreSync:
		v, n, err := Unmarshal(fr.Payload)
		if err != nil || n != len(fr.Payload) {
			d.log.Warn("native: malformed SYNC", "error", err)
			return
		}
		msg, err := DecodeSync(v)
		if err != nil {
			d.log.Warn("native: malformed SYNC", "error", err)
			return
		}
		seq := msg.Seq
		d.core.Queue.Add(d.client, workqueue.WaitSync(), func(any, any, workqueue.Result, uint32) {
			_ = d.conn.SendFrame(d.event(0, OpCoreNotifyDone, NotifyDone{Seq: seq}.Encode()))
		}, nil)

	case OpCoreGetRegistry:
		v, n, err := Unmarshal(fr.Payload)
		if err != nil || n != len(fr.Payload) {
			d.log.Warn("native: malformed GET_REGISTRY", "error", err)
			return
		}
		msg, err := DecodeGetRegistry(v)
		if err != nil {
			d.log.Warn("native: malformed GET_REGISTRY", "error", err)
			return
		}
		d.bindRegistry(msg.NewID)

	case OpCoreCreateNode:
		v, n, err := Unmarshal(fr.Payload)
		if err != nil || n != len(fr.Payload) {
			d.log.Warn("native: malformed CREATE_NODE", "error", err)
			return
		}
		msg, err := DecodeCreateNode(v, d.core.Types.URI)
		if err != nil {
			d.log.Warn("native: malformed CREATE_NODE", "error", err)
			return
		}
		d.createNode(msg)

	default:
		d.log.Warn("native: unknown core opcode", "opcode", fr.Opcode)
	}
}

func (d *Dispatcher) bindRegistry(newID uint32) {
	d.client.AddResource(newID, d.core.Types.ID(types.URIRegistry), d.core, nil)
	d.registryResID = newID
	d.registryBound = true

	for _, g := range d.core.Globals() {
		d.maybeNotifyGlobal(g)
	}
	d.addedID = d.core.GlobalAdded.Connect(d.maybeNotifyGlobal)
	d.removedID = d.core.GlobalRemoved.Connect(d.maybeNotifyGlobalRemove)
}

func (d *Dispatcher) maybeNotifyGlobal(g *graph.Global) {
	if !d.registryBound {
		return
	}
	decision := d.core.Access().CheckSend(d.core.Types.ID(types.URIRegistry), access.OpNotifyGlobal, d.client.UID, g.ID)
	if decision != access.OK {
		return
	}
	_ = d.conn.SendFrame(d.event(d.registryResID, OpRegistryNotifyGlobal, NotifyGlobal{ID: g.ID, TypeID: g.TypeID}.Encode()))
}

func (d *Dispatcher) maybeNotifyGlobalRemove(g *graph.Global) {
	if !d.registryBound {
		return
	}
	decision := d.core.Access().CheckSend(d.core.Types.ID(types.URIRegistry), access.OpNotifyGlobalRemove, d.client.UID, g.ID)
	if decision != access.OK {
		return
	}
	_ = d.conn.SendFrame(d.event(d.registryResID, OpRegistryNotifyGlobalRemove, NotifyGlobalRemove{ID: g.ID}.Encode()))
}

func (d *Dispatcher) createNode(msg CreateNode) {
	node, err := d.core.CreateNode(d.client, msg.Factory, msg.Name, msg.Props)
	if err != nil {
		d.sendError(0, ResNoMemory, err.Error())
		return
	}
	global := node.Global
	d.client.AddResource(msg.NewID, d.core.Types.ID(types.URINode), node, func() {
		d.core.RemoveGlobal(global)
	})
	_ = d.conn.SendFrame(d.event(msg.NewID, OpNodeCreateDone, NodeCreateDone{ID: msg.NewID}.Encode()))
	_ = d.conn.SendFrame(d.event(msg.NewID, OpNodeInfo, NodeInfo{ID: msg.NewID, State: node.State().String(), Props: msg.Props}.Encode(d.core.Types.ID)))
}

func (d *Dispatcher) handleRegistry(fr Frame) {
	switch Opcode(fr.Opcode) {
	case OpRegistryBind:
		v, n, err := Unmarshal(fr.Payload)
		if err != nil || n != len(fr.Payload) {
			d.log.Warn("native: malformed BIND", "error", err)
			return
		}
		msg, err := DecodeBind(v)
		if err != nil {
			d.log.Warn("native: malformed BIND", "error", err)
			return
		}
		d.bind(msg)
	default:
		d.log.Warn("native: unknown registry opcode", "opcode", fr.Opcode)
	}
}

func (d *Dispatcher) bind(msg Bind) {
	decision := d.core.Access().CheckDispatch(d.core.Types.ID(types.URIRegistry), access.OpBind, d.client.UID, msg.GlobalID)
	if decision != access.OK {
		d.sendError(d.registryResID, ResNoPermission, "no permission")
		return
	}
	global, ok := d.core.Global(msg.GlobalID)
	if !ok {
		d.sendError(d.registryResID, ResNoSuchObject, "no such object")
		return
	}
	if global.Bind == nil {
		d.sendError(d.registryResID, ResInvalid, "object is not bindable")
		return
	}
	resource, err := global.Bind(d.client, msg.NewID)
	if err != nil {
		d.sendError(d.registryResID, ResInvalid, err.Error())
		return
	}
	d.sendBoundInfo(resource)
}

func (d *Dispatcher) sendBoundInfo(resource *graph.Resource) {
	switch obj := resource.Object.(type) {
	case *graph.Node:
		_ = d.conn.SendFrame(d.event(resource.ID, OpNodeInfo, NodeInfo{ID: resource.ID, State: obj.State().String()}.Encode(d.core.Types.ID)))
	case *graph.Client:
		_ = d.conn.SendFrame(d.event(resource.ID, OpClientInfo, ClientInfo{
			ID: resource.ID, UID: obj.UID, GID: obj.GID, PID: obj.PID, Props: obj.Properties,
		}.Encode(d.core.Types.ID)))
	case *graph.Link:
		_ = d.conn.SendFrame(d.event(resource.ID, OpLinkInfo, LinkInfo{ID: resource.ID, State: obj.State().String(), ErrMsg: obj.ErrMsg()}.Encode()))
	}
}

func (d *Dispatcher) handleNode(fr Frame, res *graph.Resource) {
	switch Opcode(fr.Opcode) {
	case OpNodeRemove:
		if node, ok := res.Object.(*graph.Node); ok {
			d.core.RemoveGlobal(node.Global)
		}
		res.Free()
	default:
		d.log.Warn("native: unknown node opcode", "opcode", fr.Opcode)
	}
}

// Close tears down this client's registry subscriptions and removes it from
// the core, cascading through its owned globals' resources (§7 "peer
// disconnect destroys the client, which destroys its resources").
func (d *Dispatcher) Close() {
	if d.registryBound {
		d.core.GlobalAdded.Disconnect(d.addedID)
		d.core.GlobalRemoved.Disconnect(d.removedID)
	}
	d.core.RemoveClient(d.client)
	_ = d.conn.Close()
}
