package native

// Opcode identifies the operation a frame carries, scoped to the resource
// type the frame's destination id resolves to (§4.6: "every server object
// has a fixed event vtable and demarshal vtable the protocol installs on
// resource-added by inspecting resource.type"). Request opcodes and event
// opcodes share one numbering space per resource type; a dispatcher never
// needs to distinguish them by number, only by which table it looks them up
// in (requests against Decode, events against Encode).
type Opcode uint8

// Core requests (client -> server) and events (server -> client), §6.
const (
	OpCoreClientUpdate Opcode = iota
	OpCoreSync
	OpCoreGetRegistry
	OpCoreCreateNode

	OpCoreInfo
	OpCoreNotifyDone
	OpCoreError
	OpCoreRemoveID
)

// Registry: BIND is the only request; NOTIFY_GLOBAL/NOTIFY_GLOBAL_REMOVE
// are the only events, both gated by the check_send ownership predicate
// (§4.5, §8 property 5).
const (
	OpRegistryBind Opcode = iota
	OpRegistryNotifyGlobal
	OpRegistryNotifyGlobalRemove
)

// Node: REMOVE is the only client-issued request this core exposes; a
// plugin's own SPA-node IPC (PORT_UPDATE, SET_FORMAT, ...) is internal to
// internal/plugin and never crosses the wire, so no ClientNode opcode table
// is defined here.
const (
	OpNodeRemove Opcode = iota
	OpNodeCreateDone
	OpNodeInfo
)

// Client: an info event only, sent to a client when it binds a Client's
// Global (supplemented beyond §6's illustrative set,
// since every other resource type has an info event and Client should too).
const (
	OpClientInfo Opcode = iota
)

// Link: an info event carrying the link's negotiation state (supplemented;
// grounded on link_event_info in protocol-native.c).
const (
	OpLinkInfo Opcode = iota
)
