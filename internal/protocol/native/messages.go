package native

import "fmt"

// field extracts the i-th element of a STRUCT pod, the shape every message
// in this file encodes itself as (§6: "payload is a typed structured
// value").
func field(v Value, i int) (Value, error) {
	if v.Tag != TagStruct {
		return Value{}, fmt.Errorf("native: expected struct payload, got tag %d", v.Tag)
	}
	if i >= len(v.Struct) {
		return Value{}, fmt.Errorf("native: struct field %d missing (have %d)", i, len(v.Struct))
	}
	return v.Struct[i], nil
}

func fieldID(v Value, i int) (uint32, error) {
	f, err := field(v, i)
	if err != nil {
		return 0, err
	}
	if f.Tag != TagID {
		return 0, fmt.Errorf("native: field %d: expected ID, got tag %d", i, f.Tag)
	}
	return f.ID, nil
}

func fieldInt(v Value, i int) (int32, error) {
	f, err := field(v, i)
	if err != nil {
		return 0, err
	}
	if f.Tag != TagInt {
		return 0, fmt.Errorf("native: field %d: expected Int, got tag %d", i, f.Tag)
	}
	return f.Int, nil
}

func fieldString(v Value, i int) (string, error) {
	f, err := field(v, i)
	if err != nil {
		return "", err
	}
	if f.Tag != TagString {
		return "", fmt.Errorf("native: field %d: expected String, got tag %d", i, f.Tag)
	}
	return f.Str, nil
}

func fieldObject(v Value, i int) (Value, error) {
	f, err := field(v, i)
	if err != nil {
		return Value{}, err
	}
	if f.Tag != TagObject {
		return Value{}, fmt.Errorf("native: field %d: expected Object, got tag %d", i, f.Tag)
	}
	return f, nil
}

// --- Core requests ---

// ClientUpdate carries property updates a client pushes about itself
// (§6 Core: CLIENT_UPDATE).
type ClientUpdate struct {
	Props map[string]string
}

func (m ClientUpdate) Encode(idOf func(string) uint32) Value {
	return Struct(PropsToObject(0, m.Props, idOf))
}

func DecodeClientUpdate(v Value, uriOf func(uint32) (string, bool)) (ClientUpdate, error) {
	obj, err := fieldObject(v, 0)
	if err != nil {
		return ClientUpdate{}, err
	}
	return ClientUpdate{Props: ObjectToProps(obj, uriOf)}, nil
}

// Sync asks the server to echo back NotifyDone(seq) once every work queued
// ahead of it for the client's resources has completed (§6, §8 property 7).
type Sync struct {
	Seq uint32
}

func (m Sync) Encode() Value { return Struct(Int(int32(m.Seq))) }

func DecodeSync(v Value) (Sync, error) {
	seq, err := fieldInt(v, 0)
	if err != nil {
		return Sync{}, err
	}
	return Sync{Seq: uint32(seq)}, nil
}

// GetRegistry asks the server to bind a Registry resource at NewID.
type GetRegistry struct {
	NewID uint32
}

func (m GetRegistry) Encode() Value { return Struct(ID(m.NewID)) }

func DecodeGetRegistry(v Value) (GetRegistry, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return GetRegistry{}, err
	}
	return GetRegistry{NewID: id}, nil
}

// CreateNode asks the server to instantiate factory as a new Node, binding
// it at NewID.
type CreateNode struct {
	NewID   uint32
	Factory string
	Name    string
	Props   map[string]string
}

func (m CreateNode) Encode(idOf func(string) uint32) Value {
	return Struct(ID(m.NewID), String(m.Factory), String(m.Name), PropsToObject(0, m.Props, idOf))
}

func DecodeCreateNode(v Value, uriOf func(uint32) (string, bool)) (CreateNode, error) {
	newID, err := fieldID(v, 0)
	if err != nil {
		return CreateNode{}, err
	}
	factory, err := fieldString(v, 1)
	if err != nil {
		return CreateNode{}, err
	}
	name, err := fieldString(v, 2)
	if err != nil {
		return CreateNode{}, err
	}
	obj, err := fieldObject(v, 3)
	if err != nil {
		return CreateNode{}, err
	}
	return CreateNode{NewID: newID, Factory: factory, Name: name, Props: ObjectToProps(obj, uriOf)}, nil
}

// --- Core events ---

// CoreInfo is sent once, synchronously, when a client connects (§4.6).
type CoreInfo struct {
	ID     uint32
	Cookie uint32
}

func (m CoreInfo) Encode() Value { return Struct(ID(m.ID), ID(m.Cookie)) }

func DecodeCoreInfo(v Value) (CoreInfo, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return CoreInfo{}, err
	}
	cookie, err := fieldID(v, 1)
	if err != nil {
		return CoreInfo{}, err
	}
	return CoreInfo{ID: id, Cookie: cookie}, nil
}

// NotifyDone answers a prior Sync once its seq has drained the work queue
// (§8 property 7).
type NotifyDone struct {
	Seq uint32
}

func (m NotifyDone) Encode() Value { return Struct(Int(int32(m.Seq))) }

func DecodeNotifyDone(v Value) (NotifyDone, error) {
	seq, err := fieldInt(v, 0)
	if err != nil {
		return NotifyDone{}, err
	}
	return NotifyDone{Seq: uint32(seq)}, nil
}

// ErrorEvent reports a failure against resource ID with result code Res and
// a human-readable Message (§7 "Invalid argument"/"No permission").
type ErrorEvent struct {
	ID      uint32
	Res     int32
	Message string
}

func (m ErrorEvent) Encode() Value { return Struct(ID(m.ID), Int(m.Res), String(m.Message)) }

func DecodeErrorEvent(v Value) (ErrorEvent, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return ErrorEvent{}, err
	}
	res, err := fieldInt(v, 1)
	if err != nil {
		return ErrorEvent{}, err
	}
	msg, err := fieldString(v, 2)
	if err != nil {
		return ErrorEvent{}, err
	}
	return ErrorEvent{ID: id, Res: res, Message: msg}, nil
}

// RemoveID tells a client that id is no longer valid (its resource or
// global was destroyed).
type RemoveID struct {
	ID uint32
}

func (m RemoveID) Encode() Value { return Struct(ID(m.ID)) }

func DecodeRemoveID(v Value) (RemoveID, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return RemoveID{}, err
	}
	return RemoveID{ID: id}, nil
}

// --- Registry ---

// Bind asks the server to create a Resource at NewID for the Global
// identified by GlobalID (§4.5 check_dispatch gate).
type Bind struct {
	GlobalID uint32
	NewID    uint32
}

func (m Bind) Encode() Value { return Struct(ID(m.GlobalID), ID(m.NewID)) }

func DecodeBind(v Value) (Bind, error) {
	globalID, err := fieldID(v, 0)
	if err != nil {
		return Bind{}, err
	}
	newID, err := fieldID(v, 1)
	if err != nil {
		return Bind{}, err
	}
	return Bind{GlobalID: globalID, NewID: newID}, nil
}

// NotifyGlobal announces one published Global to a registry-bound client
// (§4.5 check_send gate, §8 property 5).
type NotifyGlobal struct {
	ID     uint32
	TypeID uint32
}

func (m NotifyGlobal) Encode() Value { return Struct(ID(m.ID), ID(m.TypeID)) }

func DecodeNotifyGlobal(v Value) (NotifyGlobal, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return NotifyGlobal{}, err
	}
	typeID, err := fieldID(v, 1)
	if err != nil {
		return NotifyGlobal{}, err
	}
	return NotifyGlobal{ID: id, TypeID: typeID}, nil
}

// NotifyGlobalRemove announces that a previously-notified Global is gone.
type NotifyGlobalRemove struct {
	ID uint32
}

func (m NotifyGlobalRemove) Encode() Value { return Struct(ID(m.ID)) }

func DecodeNotifyGlobalRemove(v Value) (NotifyGlobalRemove, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return NotifyGlobalRemove{}, err
	}
	return NotifyGlobalRemove{ID: id}, nil
}

// --- Node ---

// NodeRemove asks the server to destroy the node the frame's destination
// resource id points at; it carries no fields of its own.
type NodeRemove struct{}

func (m NodeRemove) Encode() Value { return Struct() }

// NodeCreateDone answers a CreateNode request once the node's Global has
// been published.
type NodeCreateDone struct {
	ID uint32
}

func (m NodeCreateDone) Encode() Value { return Struct(ID(m.ID)) }

func DecodeNodeCreateDone(v Value) (NodeCreateDone, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return NodeCreateDone{}, err
	}
	return NodeCreateDone{ID: id}, nil
}

// NodeInfo reports a node's lifecycle state (§4.1).
type NodeInfo struct {
	ID    uint32
	State string
	Props map[string]string
}

func (m NodeInfo) Encode(idOf func(string) uint32) Value {
	return Struct(ID(m.ID), String(m.State), PropsToObject(0, m.Props, idOf))
}

func DecodeNodeInfo(v Value, uriOf func(uint32) (string, bool)) (NodeInfo, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return NodeInfo{}, err
	}
	state, err := fieldString(v, 1)
	if err != nil {
		return NodeInfo{}, err
	}
	obj, err := fieldObject(v, 2)
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{ID: id, State: state, Props: ObjectToProps(obj, uriOf)}, nil
}

// --- Client ---

// ClientInfo reports a client's own credentials and properties.
type ClientInfo struct {
	ID       uint32
	UID, GID uint32
	PID      int32
	Props    map[string]string
}

func (m ClientInfo) Encode(idOf func(string) uint32) Value {
	return Struct(ID(m.ID), ID(m.UID), ID(m.GID), Int(m.PID), PropsToObject(0, m.Props, idOf))
}

func DecodeClientInfo(v Value, uriOf func(uint32) (string, bool)) (ClientInfo, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return ClientInfo{}, err
	}
	uid, err := fieldID(v, 1)
	if err != nil {
		return ClientInfo{}, err
	}
	gid, err := fieldID(v, 2)
	if err != nil {
		return ClientInfo{}, err
	}
	pid, err := fieldInt(v, 3)
	if err != nil {
		return ClientInfo{}, err
	}
	obj, err := fieldObject(v, 4)
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{ID: id, UID: uid, GID: gid, PID: pid, Props: ObjectToProps(obj, uriOf)}, nil
}

// --- Link ---

// LinkInfo reports a link's current negotiation state and, if in error, the
// description attached to it (§4.2, §7 "asprintf'd description").
type LinkInfo struct {
	ID     uint32
	State  string
	ErrMsg string
}

func (m LinkInfo) Encode() Value { return Struct(ID(m.ID), String(m.State), String(m.ErrMsg)) }

func DecodeLinkInfo(v Value) (LinkInfo, error) {
	id, err := fieldID(v, 0)
	if err != nil {
		return LinkInfo{}, err
	}
	state, err := fieldString(v, 1)
	if err != nil {
		return LinkInfo{}, err
	}
	errMsg, err := fieldString(v, 2)
	if err != nil {
		return LinkInfo{}, err
	}
	return LinkInfo{ID: id, State: state, ErrMsg: errMsg}, nil
}
