package graph

import "github.com/alxayo/mediagraph-core/internal/signal"

// BindFunc creates a Resource for client at clientLocalID pointing at a
// Global's underlying object. Returning a nil Bind from AddGlobal means the
// global cannot be bound directly (e.g. the core resource itself, which
// every client receives at connect time rather than via BIND).
type BindFunc func(client *Client, clientLocalID uint32) (*Resource, error)

// Global is one published object entry in the Core's registry (§3). Clients
// never hold the object pointer directly; binding installs a Resource in
// its place.
type Global struct {
	ID      uint32
	Owner   *Client // nil: owned by the core itself, visible/bindable to everyone
	TypeID  uint32
	Version uint32
	Object  any
	Bind    BindFunc

	Destroy signal.Signal[*Global]
}

// OwnerUID reports the owning client's uid, mirroring the ownership
// predicate check_global_owner applies (§4.5).
func (g *Global) OwnerUID() (hasOwner bool, uid uint32) {
	if g.Owner == nil {
		return false, 0
	}
	return true, g.Owner.UID
}
