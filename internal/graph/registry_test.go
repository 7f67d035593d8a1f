package graph

import "testing"

func TestBindGlobalSameUIDAllowed(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	requester := c.NewClient(1000, 1000, 222)

	obj := struct{ tag string }{"widget"}
	g := c.AddGlobal(owner, 42, obj, func(client *Client, clientLocalID uint32) (*Resource, error) {
		return client.AddResource(clientLocalID, 42, obj, nil), nil
	})

	r, err := BindGlobal(c, requester, g, 5)
	if err != nil {
		t.Fatalf("expected bind to succeed, got %v", err)
	}
	if r.Object != obj {
		t.Fatalf("resource does not wrap the expected object")
	}
}

func TestBindGlobalDifferentUIDRefused(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	requester := c.NewClient(2000, 2000, 222)

	obj := struct{ tag string }{"widget"}
	g := c.AddGlobal(owner, 42, obj, func(client *Client, clientLocalID uint32) (*Resource, error) {
		return client.AddResource(clientLocalID, 42, obj, nil), nil
	})

	if _, err := BindGlobal(c, requester, g, 5); err == nil {
		t.Fatalf("expected bind to be refused for a different uid")
	}
}

func TestBindGlobalOwnerlessAllowedForAnyone(t *testing.T) {
	c := newTestCore(t, nil)
	requester := c.NewClient(2000, 2000, 222)

	obj := struct{ tag string }{"shared"}
	g := c.AddGlobal(nil, 42, obj, func(client *Client, clientLocalID uint32) (*Resource, error) {
		return client.AddResource(clientLocalID, 42, obj, nil), nil
	})

	if _, err := BindGlobal(c, requester, g, 5); err != nil {
		t.Fatalf("expected bind of an ownerless global to succeed, got %v", err)
	}
}

func TestRegistrySubscriptionReplaysExistingGlobals(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	g1 := c.AddGlobal(owner, 1, "a", nil)
	g2 := c.AddGlobal(owner, 2, "b", nil)

	sub := NewRegistrySubscription(c, owner)
	var seen []uint32
	sub.NotifyGlobal = func(g *Global) { seen = append(seen, g.ID) }
	sub.Replay()

	if len(seen) != 2 || seen[0] != g1.ID || seen[1] != g2.ID {
		t.Fatalf("expected replay of both globals in order, got %v", seen)
	}
}

func TestRegistrySubscriptionForwardsAddedAndRemoved(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	sub := NewRegistrySubscription(c, owner)

	var added, removed []uint32
	sub.NotifyGlobal = func(g *Global) { added = append(added, g.ID) }
	sub.NotifyGlobalRemove = func(id uint32) { removed = append(removed, id) }

	g := c.AddGlobal(owner, 7, "x", nil)
	if len(added) != 1 || added[0] != g.ID {
		t.Fatalf("expected forwarded NOTIFY_GLOBAL, got %v", added)
	}

	c.RemoveGlobal(g)
	if len(removed) != 1 || removed[0] != g.ID {
		t.Fatalf("expected forwarded NOTIFY_GLOBAL_REMOVE, got %v", removed)
	}
}

func TestRegistrySubscriptionSkipsUnownedGlobalsForOtherClients(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	other := c.NewClient(2000, 2000, 222)

	sub := NewRegistrySubscription(c, other)
	var seen []uint32
	sub.NotifyGlobal = func(g *Global) { seen = append(seen, g.ID) }

	c.AddGlobal(owner, 7, "x", nil)
	if len(seen) != 0 {
		t.Fatalf("expected the other client's subscription to see nothing, got %v", seen)
	}
}

func TestRegistrySubscriptionCloseStopsForwarding(t *testing.T) {
	c := newTestCore(t, nil)
	owner := c.NewClient(1000, 1000, 111)
	sub := NewRegistrySubscription(c, owner)

	var count int
	sub.NotifyGlobal = func(g *Global) { count++ }
	sub.Close()

	c.AddGlobal(owner, 7, "x", nil)
	if count != 0 {
		t.Fatalf("expected no notifications after Close, got %d", count)
	}

	// Close must be idempotent.
	sub.Close()
}
