package graph

import (
	"testing"
	"time"

	"github.com/alxayo/mediagraph-core/internal/plugin"
)

func newTestCore(t *testing.T, timer Timer) *Core {
	t.Helper()
	c := NewCore(timer, nil)
	c.IdleTimeout = 20 * time.Millisecond
	return c
}

func mustCreateNode(t *testing.T, c *Core, factory plugin.Factory) *Node {
	t.Helper()
	if err := c.Plugins.Register(factory); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	n, err := c.CreateNode(nil, factory.Name(), "test-node", nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	return n
}

func TestNodeStartsSuspended(t *testing.T) {
	c := newTestCore(t, nil)
	n := mustCreateNode(t, c, &fakeFactory{name: "n1", formats: rawFormats(), caps: usableCaps()})
	if n.State() != plugin.StateSuspended {
		t.Fatalf("expected StateSuspended, got %s", n.State())
	}
}

func TestNodeSetStateSync(t *testing.T) {
	c := newTestCore(t, nil)
	n := mustCreateNode(t, c, &fakeFactory{name: "n2", formats: rawFormats(), caps: usableCaps()})

	var got []plugin.State
	n.StateChanged.Connect(func(ch StateChange) { got = append(got, ch.New) })

	if err := n.SetState(plugin.StateRunning); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if n.State() != plugin.StateRunning {
		t.Fatalf("expected StateRunning, got %s", n.State())
	}
	if len(got) != 1 || got[0] != plugin.StateRunning {
		t.Fatalf("expected one StateChanged to Running, got %v", got)
	}
}

func TestNodeReportErrorIsSticky(t *testing.T) {
	c := newTestCore(t, nil)
	n := mustCreateNode(t, c, &fakeFactory{name: "n3", formats: rawFormats(), caps: usableCaps()})

	n.ReportError(errString("boom"))
	if n.State() != plugin.StateError {
		t.Fatalf("expected StateError, got %s", n.State())
	}
	if n.ErrMsg() != "boom" {
		t.Fatalf("expected errMsg boom, got %q", n.ErrMsg())
	}

	// SetState must not clear the sticky error.
	if err := n.SetState(plugin.StateRunning); err != nil {
		t.Fatalf("set state after error: %v", err)
	}
	if n.State() != plugin.StateError {
		t.Fatalf("expected state to remain StateError, got %s", n.State())
	}
}

func TestNodeAddRemovePort(t *testing.T) {
	c := newTestCore(t, nil)
	n := mustCreateNode(t, c, &fakeFactory{name: "n4", formats: rawFormats(), caps: usableCaps()})

	var added, removed int
	n.PortAdded.Connect(func(*Port) { added++ })
	n.PortRemoved.Connect(func(*Port) { removed++ })

	p := n.AddPort(plugin.Output, rawFormats())
	if added != 1 {
		t.Fatalf("expected 1 PortAdded, got %d", added)
	}
	if len(n.Ports(plugin.Output)) != 1 {
		t.Fatalf("expected 1 output port")
	}

	n.RemovePort(p)
	if removed != 1 {
		t.Fatalf("expected 1 PortRemoved, got %d", removed)
	}
	if len(n.Ports(plugin.Output)) != 0 {
		t.Fatalf("expected 0 output ports after removal")
	}
}

func TestNodeIdleSuspendTimerFires(t *testing.T) {
	c := newTestCore(t, fakeTimer{})
	n := mustCreateNode(t, c, &fakeFactory{name: "n5", formats: rawFormats(), caps: usableCaps()})

	out := n.AddPort(plugin.Output, rawFormats())
	_ = out
	n.linkAttached(plugin.Output)
	if n.State() != plugin.StateIdle {
		t.Fatalf("expected StateIdle after link attach, got %s", n.State())
	}

	n.linkDetached(plugin.Output)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if n.State() == plugin.StateSuspended {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected node to suspend after idle timeout, final state %s", n.State())
}

func TestNodeIdleTimerCancelledByNewLink(t *testing.T) {
	c := newTestCore(t, fakeTimer{})
	n := mustCreateNode(t, c, &fakeFactory{name: "n6", formats: rawFormats(), caps: usableCaps()})

	n.linkAttached(plugin.Output)
	n.linkDetached(plugin.Output)
	// Immediately re-attach before the idle timer fires.
	n.linkAttached(plugin.Output)

	time.Sleep(60 * time.Millisecond)
	if n.State() != plugin.StateIdle {
		t.Fatalf("expected node to remain StateIdle, got %s", n.State())
	}
}

func TestNodeSuspendsAfterRunningLinkPortDestroyed(t *testing.T) {
	c := newTestCore(t, fakeTimer{})
	outNode, inNode, out, in := newLinkedPorts(t, c, allocCaps(), usableCaps())

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()
	if l.State() != LinkRunning {
		t.Fatalf("link did not converge: %s (%s)", l.State(), l.ErrMsg())
	}
	if outNode.State() != plugin.StateRunning || inNode.State() != plugin.StateRunning {
		t.Fatalf("expected both nodes running, got out=%s in=%s", outNode.State(), inNode.State())
	}

	outNode.RemovePort(out)
	if l.State() != LinkUnlinked {
		t.Fatalf("expected LinkUnlinked after port destroy, got %s", l.State())
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if outNode.State() == plugin.StateSuspended && inNode.State() == plugin.StateSuspended {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected both nodes to suspend within the idle timeout, final out=%s in=%s", outNode.State(), inNode.State())
}

type errString string

func (e errString) Error() string { return string(e) }
