package graph

import (
	"sync"
	"time"

	"github.com/alxayo/mediagraph-core/internal/plugin"
	"github.com/alxayo/mediagraph-core/internal/workqueue"
)

// fakeNode is a minimal synchronous plugin.Node used across graph tests.
type fakeNode struct {
	mu      sync.Mutex
	state   plugin.State
	caps    plugin.Caps
	formats []plugin.Format

	setFormatErr error
	getInfoErr   error
	useErr       error
	allocErr     error
	stateErr     error

	setFormatCalls int
}

func newFakeNode(formats []plugin.Format, caps plugin.Caps) *fakeNode {
	return &fakeNode{formats: formats, caps: caps, state: plugin.StateSuspended}
}

func (f *fakeNode) PortGetInfo(dir plugin.Direction, portID uint32) (plugin.Caps, error) {
	if f.getInfoErr != nil {
		return plugin.Caps{}, f.getInfoErr
	}
	return f.caps, nil
}

func (f *fakeNode) PortSetFormat(dir plugin.Direction, portID uint32, format plugin.Format) (workqueue.Result, error) {
	f.mu.Lock()
	f.setFormatCalls++
	f.mu.Unlock()
	if f.setFormatErr != nil {
		return workqueue.Result{}, f.setFormatErr
	}
	return workqueue.Sync(0), nil
}

func (f *fakeNode) PortUseBuffers(dir plugin.Direction, portID uint32, buffers []plugin.Buffer) (workqueue.Result, error) {
	if f.useErr != nil {
		return workqueue.Result{}, f.useErr
	}
	return workqueue.Sync(0), nil
}

func (f *fakeNode) PortAllocBuffers(dir plugin.Direction, portID uint32, sizes []plugin.BufferSize) ([]plugin.Buffer, workqueue.Result, error) {
	if f.allocErr != nil {
		return nil, workqueue.Result{}, f.allocErr
	}
	bufs := make([]plugin.Buffer, len(sizes))
	for i, s := range sizes {
		bufs[i] = plugin.Buffer{Shared: plugin.SharedMeta{BlockID: 1, Offset: i * s.Size, Size: s.Size}}
	}
	return bufs, workqueue.Sync(0), nil
}

func (f *fakeNode) SetState(target plugin.State) (workqueue.Result, error) {
	if f.stateErr != nil {
		return workqueue.Result{}, f.stateErr
	}
	f.mu.Lock()
	f.state = target
	f.mu.Unlock()
	return workqueue.Sync(0), nil
}

func (f *fakeNode) Process() error { return nil }

// fakeFactory mints fakeNode instances with fixed formats/caps, ignoring
// per-call props.
type fakeFactory struct {
	name    string
	formats []plugin.Format
	caps    plugin.Caps
}

func (f *fakeFactory) Name() string { return f.name }

func (f *fakeFactory) New(props map[string]string) (plugin.Node, error) {
	return newFakeNode(f.formats, f.caps), nil
}

// fakeTimer runs callbacks on real goroutine timers, for idle-suspend tests.
type fakeTimer struct{}

func (fakeTimer) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func rawFormats() []plugin.Format {
	return []plugin.Format{{MediaType: "audio/raw", Props: map[string]any{"rate": 48000}}}
}

func usableCaps() plugin.Caps {
	return plugin.Caps{CanUseBuffers: true, Size: 4096, Stride: 0}
}

func allocCaps() plugin.Caps {
	return plugin.Caps{CanAllocBuffers: true, Size: 4096, Stride: 0}
}
