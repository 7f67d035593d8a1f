// Package graph implements the media graph engine: Core/Global/Resource/
// Client/Port/Node/Link, the five-stage link negotiation state machine, and
// the server-side object registry with per-client access control.
package graph

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/mediagraph-core/internal/access"
	mgerrors "github.com/alxayo/mediagraph-core/internal/errors"
	"github.com/alxayo/mediagraph-core/internal/mempool"
	"github.com/alxayo/mediagraph-core/internal/plugin"
	"github.com/alxayo/mediagraph-core/internal/signal"
	"github.com/alxayo/mediagraph-core/internal/types"
	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// defaultIdleTimeout is the period a node waits at idle with no incident
// links before it is suspended (§5, §8 property 6).
const defaultIdleTimeout = 3 * time.Second

// defaultMaxBuffers caps the number of buffers a link allocates for a pool
// it owns (§4.2 Stage A).
const defaultMaxBuffers = 16

// Timer schedules a one-shot callback, abstracting the control loop's timer
// source so this package never imports internal/controlloop.
type Timer interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Invoker runs fn on the data loop's single real-time thread and blocks
// until it returns, abstracting internal/dataloop's invoke bridge so this
// package never imports it. A nil Invoker on Core runs fn inline, which is
// the expected configuration in unit tests that don't exercise the real
// cross-thread handoff.
type Invoker interface {
	Invoke(fn func())
}

// Core is the singleton holding every global, client, and the shared
// subsystems (type registry, memory pool, work queue, access checker,
// plugin factories) the graph operations are built on.
type Core struct {
	Types   *types.Registry
	Pool    *mempool.Pool
	Queue   *workqueue.Queue
	Plugins *plugin.Registry
	Logger  *slog.Logger
	Timer   Timer
	Data    Invoker

	IdleTimeout time.Duration
	MaxBuffers  int

	access *access.Checker

	mu           sync.RWMutex
	globals      map[uint32]*Global
	clients      map[uint32]*Client
	nextGlobalID uint32
	nextClientID uint32

	GlobalAdded   signal.Signal[*Global]
	GlobalRemoved signal.Signal[*Global]
}

// NewCore constructs a Core with its own type registry and memory pool.
// timer may be nil; if so, idle-suspend is disabled (armIdleTimer becomes a
// no-op), which is the expected configuration in unit tests that don't
// exercise §8 property 6 directly.
func NewCore(timer Timer, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		Types:        types.NewRegistry(),
		Pool:         mempool.New(),
		Queue:        workqueue.New(),
		Plugins:      plugin.NewRegistry(),
		Logger:       logger,
		Timer:        timer,
		IdleTimeout:  defaultIdleTimeout,
		MaxBuffers:   defaultMaxBuffers,
		globals:      make(map[uint32]*Global),
		clients:      make(map[uint32]*Client),
		nextGlobalID: 1,
		nextClientID: 1,
	}
	c.access = access.NewChecker(c.Types.ID(types.URIRegistry), c.lookupGlobalOwner)
	return c
}

// Access returns the core's access checker, used by the registry bind path
// and by the native protocol's dispatch loop.
func (c *Core) Access() *access.Checker { return c.access }

func (c *Core) lookupGlobalOwner(id uint32) (hasOwner bool, ownerUID uint32, exists bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.globals[id]
	if !ok {
		return false, 0, false
	}
	if g.Owner == nil {
		return false, 0, true
	}
	return true, g.Owner.UID, true
}

// AddGlobal publishes object under a fresh id, owned by owner (nil for a
// core-owned global such as the core resource itself). It emits
// GlobalAdded.
func (c *Core) AddGlobal(owner *Client, typeID uint32, object any, bind BindFunc) *Global {
	c.mu.Lock()
	id := c.nextGlobalID
	c.nextGlobalID++
	g := &Global{ID: id, Owner: owner, TypeID: typeID, Object: object, Bind: bind}
	c.globals[id] = g
	c.mu.Unlock()

	c.GlobalAdded.Emit(g)
	return g
}

// Global looks up a published global by id.
func (c *Core) Global(id uint32) (*Global, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.globals[id]
	return g, ok
}

// Globals returns a snapshot of every currently published global, in
// ascending id order, used to replay NOTIFY_GLOBAL on registry bind.
func (c *Core) Globals() []*Global {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Global, 0, len(c.globals))
	for _, g := range c.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveGlobal removes g from the table, emits GlobalRemoved, and destroys
// every resource across every client that points at it.
func (c *Core) RemoveGlobal(g *Global) {
	c.mu.Lock()
	delete(c.globals, g.ID)
	clients := make([]*Client, 0, len(c.clients))
	for _, cl := range c.clients {
		clients = append(clients, cl)
	}
	c.mu.Unlock()

	g.Destroy.Emit(g)
	c.GlobalRemoved.Emit(g)

	for _, cl := range clients {
		cl.destroyResourcesFor(g.Object)
	}
}

// NewClient registers a new Client with the given Unix credentials
// (§4.6: SO_PEERCRED is queried once on accept and fed in here).
func (c *Core) NewClient(uid, gid uint32, pid int32) *Client {
	c.mu.Lock()
	id := c.nextClientID
	c.nextClientID++
	cl := &Client{
		Core:       c,
		ID:         id,
		UUID:       uuid.New(),
		UID:        uid,
		GID:        gid,
		PID:        pid,
		Properties: make(map[string]string),
		resources:  make(map[uint32]*Resource),
	}
	c.clients[id] = cl
	c.mu.Unlock()
	return cl
}

// RemoveClient destroys cl's resources and forgets it. Destroying a client
// does not, by itself, remove globals it owns: callers that want cascading
// destruction of owned nodes/links should call RemoveGlobal explicitly for
// each (the core does not assume ownership implies lifetime binding).
func (c *Core) RemoveClient(cl *Client) {
	c.mu.Lock()
	delete(c.clients, cl.ID)
	c.mu.Unlock()
	cl.destroyAllResources()
}

// CreateNode instantiates a node from the named plugin factory, publishes
// it as a Global, and returns the graph Node wrapper.
func (c *Core) CreateNode(owner *Client, factoryName, name string, props map[string]string) (*Node, error) {
	impl, err := c.Plugins.New(factoryName, props)
	if err != nil {
		return nil, mgerrors.NewAllocError("core.create_node", err)
	}
	n := newNode(c, name, props, impl)
	n.Global = c.AddGlobal(owner, c.Types.ID(types.URINode), n, nil)
	n.ID = n.Global.ID
	return n, nil
}
