package graph

import (
	"fmt"

	"github.com/alxayo/mediagraph-core/internal/access"
	mgerrors "github.com/alxayo/mediagraph-core/internal/errors"
	"github.com/alxayo/mediagraph-core/internal/types"
)

// BindGlobal performs the BIND operation a client issues against the
// Registry resource for a specific global id (§4.5, §4.6): it runs the
// global through check_dispatch before invoking its Bind function, so an
// owned global can only be bound by its owning client.
func BindGlobal(core *Core, client *Client, g *Global, clientLocalID uint32) (*Resource, error) {
	registryType := core.Types.ID(types.URIRegistry)
	d := core.Access().CheckDispatch(registryType, access.OpBind, client.UID, g.ID)
	if d != access.OK {
		return nil, access.Err("registry.bind", d)
	}
	if g.Bind == nil {
		return nil, mgerrors.NewAccessError("registry.bind", fmt.Errorf("global %d is not bindable", g.ID))
	}
	return g.Bind(client, clientLocalID)
}

// RegistrySubscription is the live state behind a client's bound Registry
// resource: it replays every currently published global as a one-time
// NOTIFY_GLOBAL burst, then forwards the core's GlobalAdded/GlobalRemoved
// signals for the lifetime of the subscription, each filtered through
// check_send (§4.5, §4.6 "subscription replay"). NotifyGlobal and
// NotifyGlobalRemove are wired up by the protocol layer to serialize and
// send the corresponding wire events; until set, forwarded notifications
// are simply dropped.
type RegistrySubscription struct {
	Core   *Core
	Client *Client

	NotifyGlobal       func(g *Global)
	NotifyGlobalRemove func(id uint32)

	addedID   int
	removedID int
	closed    bool
}

// NewRegistrySubscription starts listening for future global changes. Call
// Replay once the caller is ready to also receive the backlog of globals
// that existed before the subscription started, and Close when the
// client's registry resource is freed.
func NewRegistrySubscription(core *Core, client *Client) *RegistrySubscription {
	s := &RegistrySubscription{Core: core, Client: client}
	s.addedID = core.GlobalAdded.Connect(func(g *Global) { s.forwardAdded(g) })
	s.removedID = core.GlobalRemoved.Connect(func(g *Global) { s.forwardRemoved(g) })
	return s
}

// Replay sends a NOTIFY_GLOBAL for every global currently published, in
// ascending id order, same as if each had just been added.
func (s *RegistrySubscription) Replay() {
	for _, g := range s.Core.Globals() {
		s.forwardAdded(g)
	}
}

func (s *RegistrySubscription) registryType() uint32 {
	return s.Core.Types.ID(types.URIRegistry)
}

func (s *RegistrySubscription) forwardAdded(g *Global) {
	d := s.Core.Access().CheckSend(s.registryType(), access.OpNotifyGlobal, s.Client.UID, g.ID)
	if d != access.OK {
		return // NoPermission and Skipped both drop silently for check_send
	}
	if s.NotifyGlobal != nil {
		s.NotifyGlobal(g)
	}
}

func (s *RegistrySubscription) forwardRemoved(g *Global) {
	d := s.Core.Access().CheckSend(s.registryType(), access.OpNotifyGlobalRemove, s.Client.UID, g.ID)
	if d != access.OK {
		return
	}
	if s.NotifyGlobalRemove != nil {
		s.NotifyGlobalRemove(g.ID)
	}
}

// Close unsubscribes from the core's global signals. Safe to call more than
// once.
func (s *RegistrySubscription) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.Core.GlobalAdded.Disconnect(s.addedID)
	s.Core.GlobalRemoved.Disconnect(s.removedID)
}
