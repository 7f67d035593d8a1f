package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/mediagraph-core/internal/plugin"
)

func newLinkedPorts(t *testing.T, c *Core, outCaps, inCaps plugin.Caps) (*Node, *Node, *Port, *Port) {
	t.Helper()
	outFactory := &fakeFactory{name: "out-" + t.Name(), formats: rawFormats(), caps: outCaps}
	inFactory := &fakeFactory{name: "in-" + t.Name(), formats: rawFormats(), caps: inCaps}
	outNode := mustCreateNode(t, c, outFactory)
	inNode := mustCreateNode(t, c, inFactory)
	outPort := outNode.AddPort(plugin.Output, rawFormats())
	inPort := inNode.AddPort(plugin.Input, rawFormats())
	return outNode, inNode, outPort, inPort
}

func TestLinkNegotiatesToRunning(t *testing.T) {
	c := newTestCore(t, nil)
	_, _, out, in := newLinkedPorts(t, c, allocCaps(), usableCaps())

	l := NewLink(c, out, in, nil)

	var states []LinkState
	l.StateChanged.Connect(func(ch LinkStateChange) { states = append(states, ch.New) })

	l.Activate()
	l.Queue().Process()

	require.Equal(t, LinkRunning, l.State(), "err=%q", l.ErrMsg())
	require.Equal(t, PortStreaming, out.State())
	require.Equal(t, PortStreaming, in.State())

	// Never skips a stage: negotiating must precede allocating/paused/running.
	wantPrefix := []LinkState{LinkNegotiating, LinkAllocating, LinkPaused, LinkRunning}
	require.GreaterOrEqual(t, len(states), len(wantPrefix))
	require.Equal(t, wantPrefix, states[:len(wantPrefix)])
}

func TestLinkNodesRunningOnceStreaming(t *testing.T) {
	c := newTestCore(t, nil)
	outNode, inNode, out, in := newLinkedPorts(t, c, allocCaps(), usableCaps())

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()

	require.Equal(t, LinkRunning, l.State(), "err=%q", l.ErrMsg())
	require.Equal(t, plugin.StateRunning, outNode.State())
	require.Equal(t, plugin.StateRunning, inNode.State())
}

func TestLinkNoCommonFormatErrors(t *testing.T) {
	c := newTestCore(t, nil)
	outFactory := &fakeFactory{name: "out-nf", formats: []plugin.Format{{MediaType: "video/raw"}}, caps: allocCaps()}
	inFactory := &fakeFactory{name: "in-nf", formats: []plugin.Format{{MediaType: "audio/raw"}}, caps: usableCaps()}
	outNode := mustCreateNode(t, c, outFactory)
	inNode := mustCreateNode(t, c, inFactory)
	out := outNode.AddPort(plugin.Output, outFactory.formats)
	in := inNode.AddPort(plugin.Input, inFactory.formats)

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()

	require.Equal(t, LinkError, l.State())
	require.NotEmpty(t, l.ErrMsg())
}

func TestLinkIncompatibleSampleFormatErrors(t *testing.T) {
	c := newTestCore(t, nil)
	outFactory := &fakeFactory{
		name:    "out-badfmt",
		formats: []plugin.Format{{MediaType: "audio/raw", Props: map[string]any{"format": "F32"}}},
		caps:    allocCaps(),
	}
	inFactory := &fakeFactory{
		name:    "in-badfmt",
		formats: []plugin.Format{{MediaType: "audio/raw", Props: map[string]any{"format": "S16"}}},
		caps:    usableCaps(),
	}
	outNode := mustCreateNode(t, c, outFactory)
	inNode := mustCreateNode(t, c, inFactory)
	out := outNode.AddPort(plugin.Output, outFactory.formats)
	in := inNode.AddPort(plugin.Input, inFactory.formats)

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()

	require.Equal(t, LinkError, l.State(), "F32 and S16 share a media type but not a sample format")
	require.NotEmpty(t, l.ErrMsg())
}

func TestLinkTeardownDetachesBothPorts(t *testing.T) {
	c := newTestCore(t, nil)
	outNode, inNode, out, in := newLinkedPorts(t, c, allocCaps(), usableCaps())

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()
	require.Equal(t, LinkRunning, l.State(), "err=%q", l.ErrMsg())

	var destroyed bool
	l.Destroy.Connect(func(*Link) { destroyed = true })

	l.Teardown()

	require.True(t, destroyed, "expected Destroy to fire")
	require.Empty(t, out.Links(), "expected output port to forget the link")
	require.Empty(t, in.Links(), "expected input port to forget the link")
	_ = outNode
	_ = inNode

	// Teardown must be idempotent.
	l.Teardown()
}

func TestLinkPortDestroyedMidLinkTearsDownLink(t *testing.T) {
	c := newTestCore(t, nil)
	outNode, inNode, out, in := newLinkedPorts(t, c, allocCaps(), usableCaps())

	l := NewLink(c, out, in, nil)
	l.Activate()
	l.Queue().Process()
	require.Equal(t, LinkRunning, l.State(), "err=%q", l.ErrMsg())

	var unlinked *Port
	l.PortUnlinked.Connect(func(p *Port) { unlinked = p })

	outNode.RemovePort(out)

	require.Equal(t, out, unlinked, "expected PortUnlinked to fire with the output port")
	require.Equal(t, LinkUnlinked, l.State())
	require.Empty(t, in.Links(), "expected input port to have forgotten the link")
	_ = inNode
}
