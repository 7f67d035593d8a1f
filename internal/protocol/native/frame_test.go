package native

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// unixPipe returns a connected pair of *net.UnixConn backed by a real socket
// file, since frame.go's ReadMsgUnix/WriteMsgUnix usage needs an actual
// AF_UNIX connection (net.Pipe does not implement *net.UnixConn).
func unixPipe(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()
	dir := t.TempDir()
	addr := &net.UnixAddr{Name: filepath.Join(dir, "test.sock"), Net: "unix"}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *net.UnixConn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	c, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}

	select {
	case s := <-accepted:
		server = s
	case err := <-acceptErr:
		t.Fatalf("AcceptUnix: %v", err)
	}
	client = c

	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := unixPipe(t)
	cio := newFrameIO(client)
	sio := newFrameIO(server)

	want := Frame{ID: 7, Opcode: uint8(OpCoreSync), Payload: Marshal(nil, Sync{Seq: 42}.Encode())}

	done := make(chan error, 1)
	go func() { done <- cio.WriteFrame(want) }()

	got, err := sio.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got.ID != want.ID || got.Opcode != want.Opcode || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	client, server := unixPipe(t)
	cio := newFrameIO(client)
	sio := newFrameIO(server)

	want := Frame{ID: 1, Opcode: uint8(OpNodeRemove)}

	done := make(chan error, 1)
	go func() { done <- cio.WriteFrame(want) }()

	got, err := sio.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.ID != want.ID || got.Opcode != want.Opcode || len(got.Payload) != 0 {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestFrameRoundTripWithFD(t *testing.T) {
	client, server := unixPipe(t)
	cio := newFrameIO(client)
	sio := newFrameIO(server)

	f, err := os.CreateTemp(t.TempDir(), "memblock")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	want := Frame{
		ID:      2,
		Opcode:  uint8(OpNodeCreateDone),
		Payload: Marshal(nil, Struct(Fd(0))),
		FDs:     []int{int(f.Fd())},
	}

	done := make(chan error, 1)
	go func() { done <- cio.WriteFrame(want) }()

	got, err := sio.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if len(got.FDs) != 1 {
		t.Fatalf("expected 1 fd, got %d", len(got.FDs))
	}
	defer os.NewFile(uintptr(got.FDs[0]), "received").Close()

	if _, err := os.Stat(f.Name()); err != nil {
		t.Fatalf("original file missing: %v", err)
	}
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	client, server := unixPipe(t)
	cio := newFrameIO(client)
	sio := newFrameIO(server)

	header := []byte{0, 0, 0, 0, 0, 0xff, 0xff, 0xff} // length = 0xffffff > MaxFrameLength
	done := make(chan error, 1)
	go func() {
		_, err := client.Write(header)
		done <- err
	}()

	_, err := sio.ReadFrame()
	if err == nil {
		t.Fatal("expected error for oversized frame length")
	}
	if err := <-done; err != nil {
		t.Fatalf("write header: %v", err)
	}
	_ = cio
}
