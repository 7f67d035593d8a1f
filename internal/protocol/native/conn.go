// Package native implements the wire protocol (§4.6): frame and pod codecs,
// the Unix socket connection lifecycle (SO_PEERCRED credential read,
// SCM_RIGHTS fd passing), and per-connection opcode dispatch against the
// graph core. Its connection lifecycle shape — accept, read loop, write
// loop with backpressure — is adapted from the teacher's rtmp/conn package.
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/alxayo/mediagraph-core/internal/bufpool"
	"github.com/alxayo/mediagraph-core/internal/logger"
)

// sendTimeout bounds how long SendFrame waits for room in the outbound
// queue before reporting backpressure, mirroring the teacher's fixed
// send-queue timeout.
const sendTimeout = 200 * time.Millisecond

// outboundDepth is the outbound frame queue's buffer size.
const outboundDepth = 128

// Conn is one accepted, credentialed connection (§4.6: "SO_PEERCRED queried
// once to fill the Client's credentials").
type Conn struct {
	id         string
	uc         *net.UnixConn
	io         *frameIO
	log        *slog.Logger
	acceptedAt time.Time

	UID, GID uint32
	PID      int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outbound chan Frame
	onFrame  func(Frame)
}

var connCounter uint64

func nextConnID() string {
	return fmt.Sprintf("conn%06d", atomic.AddUint64(&connCounter, 1))
}

// Accept performs a blocking AcceptUnix on l and reads the peer's
// credentials via SO_PEERCRED, returning a Conn ready to have its frame
// handler installed and Start called.
func Accept(l *net.UnixListener) (*Conn, error) {
	if l == nil {
		return nil, errors.New("native: nil listener")
	}
	uc, err := l.AcceptUnix()
	if err != nil {
		return nil, err
	}

	cred, err := peerCred(uc)
	if err != nil {
		_ = uc.Close()
		return nil, fmt.Errorf("native: peer credentials: %w", err)
	}

	id := nextConnID()
	lgr := logger.WithClient(logger.Logger(), 0, uc.RemoteAddr().String())
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		id:         id,
		uc:         uc,
		io:         newFrameIO(uc),
		log:        lgr,
		acceptedAt: time.Now(),
		UID:        cred.Uid,
		GID:        cred.Gid,
		PID:        cred.Pid,
		ctx:        ctx,
		cancel:     cancel,
		outbound:   make(chan Frame, outboundDepth),
	}
	return c, nil
}

// peerCred reads SO_PEERCRED off the connection's underlying fd.
func peerCred(uc *net.UnixConn) (*unix.Ucred, error) {
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var opErr error
	err = raw.Control(func(fd uintptr) {
		cred, opErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, opErr
}

// SetFrameHandler installs the callback invoked by the read loop for every
// decoded frame. Must be called before Start.
func (c *Conn) SetFrameHandler(fn func(Frame)) { c.onFrame = fn }

// Start begins the read and write loops.
func (c *Conn) Start() {
	c.startWriteLoop()
	c.startReadLoop()
}

// SendFrame enqueues fr for transmission, applying the same bounded
// backpressure the teacher's SendMessage does: a full queue for longer than
// sendTimeout is reported as an error rather than blocking indefinitely.
func (c *Conn) SendFrame(fr Frame) error {
	select {
	case <-c.ctx.Done():
		return context.Canceled
	case c.outbound <- fr:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("native: send queue full (len=%d)", len(c.outbound))
	}
}

func (c *Conn) startReadLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			fr, err := c.io.ReadFrame()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					c.log.Debug("native: read loop ended", "error", err)
				}
				// A peer disconnect surfaces here as a non-ErrClosed read
				// error; cancel so Done() unblocks and the owner destroys
				// the client (§7 "peer disconnect").
				c.cancel()
				return
			}
			if c.onFrame != nil {
				c.onFrame(fr)
			}
			// Unmarshal (called synchronously from onFrame, if at all) copies
			// every value out of fr.Payload, so the buffer can be recycled
			// the moment the handler returns.
			bufpool.Put(fr.Payload)
		}
	}()
}

func (c *Conn) startWriteLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case fr, ok := <-c.outbound:
				if !ok {
					return
				}
				if err := c.io.WriteFrame(fr); err != nil {
					c.log.Debug("native: write loop ended", "error", err)
					return
				}
			}
		}
	}()
}

// Close cancels both loops and waits for them to exit.
func (c *Conn) Close() error {
	c.cancel()
	_ = c.uc.Close()
	c.wg.Wait()
	return nil
}

// ID returns the connection's logical identifier, used for logging only;
// the protocol-level client id is assigned by the dispatcher once the
// client is registered with the graph core.
func (c *Conn) ID() string { return c.id }

// Done reports when this connection's loops have stopped, whether from an
// explicit Close or from the peer disconnecting. Callers owning a Dispatcher
// select on this to run client teardown.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }
