// Package types implements the process-wide type registry: a bidirectional,
// append-only map between string URIs and dense uint32 type IDs used to
// identify nodes, ports, links, formats, metadata and event types across the
// wire protocol.
package types

import "sync"

// InvalidID is the sentinel returned for an unregistered URI.
const InvalidID uint32 = 0

// Well-known core URIs, registered eagerly by NewRegistry so that id 0 stays
// reserved as the invalid sentinel and every core type has a stable, low id.
const (
	URICore        = "…/Core"
	URIRegistry    = "…/Registry"
	URINode        = "…/Node"
	URINodeFactory = "…/NodeFactory"
	URILink        = "…/Link"
	URIClient      = "…/Client"
	URIClientNode  = "…/ClientNode"
	URIModule      = "…/Module"
)

var coreURIs = []string{
	URICore,
	URIRegistry,
	URINode,
	URINodeFactory,
	URILink,
	URIClient,
	URIClientNode,
	URIModule,
}

// Registry is a thread-safe interning table. The zero value is not usable;
// construct with NewRegistry. It never forgets an entry: types are
// registered once per process lifetime and live until the process exits.
type Registry struct {
	mu     sync.RWMutex
	byURI  map[string]uint32
	byID   map[uint32]string
	nextID uint32
}

// NewRegistry returns a Registry pre-populated with the core URIs so that
// id_of(uri) is stable for every well-known type from the first lookup.
func NewRegistry() *Registry {
	r := &Registry{
		byURI:  make(map[string]uint32),
		byID:   make(map[uint32]string),
		nextID: 1, // 0 is reserved for InvalidID
	}
	for _, u := range coreURIs {
		r.intern(u)
	}
	return r
}

// ID returns the type ID for uri, registering it if this is the first time
// it has been seen. The returned ID is stable for the lifetime of the
// process.
func (r *Registry) ID(uri string) uint32 {
	r.mu.RLock()
	if id, ok := r.byURI[uri]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check: another writer may have interned uri while we waited
	// for the write lock.
	if id, ok := r.byURI[uri]; ok {
		return id
	}
	return r.intern(uri)
}

// intern assigns the next id to uri. Caller must hold the write lock.
func (r *Registry) intern(uri string) uint32 {
	id := r.nextID
	r.nextID++
	r.byURI[uri] = id
	r.byID[id] = uri
	return id
}

// URI returns the string URI registered for id, or ("", false) if id has
// never been assigned.
func (r *Registry) URI(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	return u, ok
}

// Lookup returns the id of uri and reports whether uri has ever been
// interned, without assigning a new id as a side effect (unlike ID, which
// RemapFunc uses).
func (r *Registry) Lookup(uri string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byURI[uri]
	return id, ok
}

// RemapFunc rewrites a type ID from a foreign ID space into this registry's
// ID space, given a function that resolves the foreign id back to its URI.
// It is the id-field half of the generic structured-value walker described
// by the native protocol's pod remapping (§3/§4.6): any tagged value whose
// payload embeds a type or property-key id must be passed through this
// before being handed to a peer using a different id space.
func (r *Registry) RemapFunc(foreignURI func(uint32) (string, bool)) func(uint32) (uint32, bool) {
	return func(foreignID uint32) (uint32, bool) {
		uri, ok := foreignURI(foreignID)
		if !ok {
			return InvalidID, false
		}
		return r.ID(uri), true
	}
}
