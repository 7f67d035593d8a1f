package graph

import (
	"sync"

	"github.com/google/uuid"

	"github.com/alxayo/mediagraph-core/internal/signal"
)

// Client is a per-connection handle: credentials, properties, and the map
// of Resources it has bound (§3, keyed by client-local resource id, so ids
// 0 and 1 are conventionally reserved for the core and registry resources
// per §4.6).
type Client struct {
	Core *Core
	ID   uint32
	UUID uuid.UUID // internal correlation id, distinct from the protocol-visible uint32 id

	UID, GID uint32
	PID      int32

	Properties map[string]string

	mu           sync.RWMutex
	resources    map[uint32]*Resource
	CoreResource *Resource

	ResourceAdded   signal.Signal[*Resource]
	ResourceRemoved signal.Signal[*Resource]
}

// AddResource installs a Resource at clientLocalID pointing at object, and
// emits ResourceAdded. It is the caller's responsibility to have already
// run the client's bind through Core.Access() before calling this.
func (cl *Client) AddResource(clientLocalID, typeID uint32, object any, destroy func()) *Resource {
	r := &Resource{ID: clientLocalID, Client: cl, TypeID: typeID, Object: object, destroyFn: destroy}

	cl.mu.Lock()
	cl.resources[clientLocalID] = r
	cl.mu.Unlock()

	cl.ResourceAdded.Emit(r)
	return r
}

// Resource looks up a bound resource by client-local id. Invariant 1 (§3):
// for every id this returns, client.objects[id] == the returned Resource.
func (cl *Client) Resource(clientLocalID uint32) (*Resource, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	r, ok := cl.resources[clientLocalID]
	return r, ok
}

// Resources returns a snapshot of every currently bound resource.
func (cl *Client) Resources() []*Resource {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]*Resource, 0, len(cl.resources))
	for _, r := range cl.resources {
		out = append(out, r)
	}
	return out
}

// RemoveResource destroys and forgets the resource at clientLocalID, if
// any, emitting ResourceRemoved.
func (cl *Client) RemoveResource(clientLocalID uint32) {
	cl.mu.Lock()
	r, ok := cl.resources[clientLocalID]
	if ok {
		delete(cl.resources, clientLocalID)
	}
	cl.mu.Unlock()
	if !ok {
		return
	}
	if r.destroyFn != nil {
		r.destroyFn()
	}
	r.Destroy.Emit(r)
	cl.ResourceRemoved.Emit(r)
}

// destroyResourcesFor removes every resource pointing at object (called
// when the object's owning Global is destroyed).
func (cl *Client) destroyResourcesFor(object any) {
	cl.mu.RLock()
	var match []uint32
	for id, r := range cl.resources {
		if r.Object == object {
			match = append(match, id)
		}
	}
	cl.mu.RUnlock()

	for _, id := range match {
		cl.RemoveResource(id)
	}
}

// destroyAllResources tears down every resource bound by this client, used
// on disconnect (§7 "Peer disconnect").
func (cl *Client) destroyAllResources() {
	cl.mu.RLock()
	ids := make([]uint32, 0, len(cl.resources))
	for id := range cl.resources {
		ids = append(ids, id)
	}
	cl.mu.RUnlock()

	for _, id := range ids {
		cl.RemoveResource(id)
	}
}
