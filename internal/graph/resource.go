package graph

import "github.com/alxayo/mediagraph-core/internal/signal"

// Resource is the only way a client interacts with a server object: every
// request targets a resource id, and every event the server sends
// originates from one (§3, §4.5). destroyFn, if set, runs once when the
// resource is removed, before Destroy fires.
type Resource struct {
	ID     uint32
	Client *Client
	TypeID uint32
	Object any

	destroyFn func()
	Destroy   signal.Signal[*Resource]
}

// Free removes this resource from its owning client, running its destroy
// callback and firing both Destroy and the client's ResourceRemoved signal.
func (r *Resource) Free() {
	r.Client.RemoveResource(r.ID)
}
