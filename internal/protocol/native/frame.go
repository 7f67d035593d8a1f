package native

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/alxayo/mediagraph-core/internal/bufpool"
)

// MaxFrameLength bounds the accepted payload length (§4.6 "u24
// length_bytes"): 24 bits would allow up to 16MiB, but no control-plane
// message in this core legitimately needs more than this much smaller cap,
// so a larger declared length is treated as a framing error rather than
// trusted.
const MaxFrameLength = 1 << 20

// headerSize is u32 id + u8 opcode + u24 length, all little-endian.
const headerSize = 8

// maxOOB budgets room for a generous number of fds per frame; SCM_RIGHTS
// messages in practice carry one or two memfds (a buffer-pool block plus
// maybe a companion metadata block).
const maxOOB = 64

// Frame is one `u32 id, u8 opcode, u24 length_bytes, u8[length_bytes]
// payload` message (§6), plus any file descriptors that rode along via
// SCM_RIGHTS and are referenced from Payload by small integer index.
type Frame struct {
	ID      uint32
	Opcode  uint8
	Payload []byte
	FDs     []int
}

// frameIO reads and writes Frames over a *net.UnixConn, pairing SCM_RIGHTS
// ancillary data with whichever header/payload read consumed the bytes it
// was attached to.
type frameIO struct {
	uc  *net.UnixConn
	oob []byte
}

func newFrameIO(uc *net.UnixConn) *frameIO {
	return &frameIO{uc: uc, oob: make([]byte, unix.CmsgSpace(maxOOB*4))}
}

// readExact fills buf completely, looping over ReadMsgUnix as needed, and
// returns every fd received from SCM_RIGHTS control messages seen along the
// way regardless of which individual read call they arrived on.
func (f *frameIO) readExact(buf []byte) ([]int, error) {
	var fds []int
	read := 0
	for read < len(buf) {
		n, oobn, _, _, err := f.uc.ReadMsgUnix(buf[read:], f.oob)
		if err != nil {
			return fds, err
		}
		if n == 0 {
			return fds, fmt.Errorf("native: connection closed mid-frame")
		}
		if oobn > 0 {
			scms, err := unix.ParseSocketControlMessage(f.oob[:oobn])
			if err != nil {
				return fds, fmt.Errorf("native: parse control message: %w", err)
			}
			for _, scm := range scms {
				rights, err := unix.ParseUnixRights(&scm)
				if err != nil {
					continue
				}
				fds = append(fds, rights...)
			}
		}
		read += n
	}
	return fds, nil
}

// ReadFrame blocks until one full frame (header + payload, plus any fds
// carried alongside) has been read.
func (f *frameIO) ReadFrame() (Frame, error) {
	var header [headerSize]byte
	hdrFDs, err := f.readExact(header[:])
	if err != nil {
		return Frame{}, err
	}
	id := binary.LittleEndian.Uint32(header[0:4])
	opcode := header[4]
	length := uint32(header[5]) | uint32(header[6])<<8 | uint32(header[7])<<16
	if length > MaxFrameLength {
		return Frame{}, fmt.Errorf("native: frame length %d exceeds max %d", length, MaxFrameLength)
	}

	payload := bufpool.Get(int(length))
	var payloadFDs []int
	if length > 0 {
		payloadFDs, err = f.readExact(payload)
		if err != nil {
			return Frame{}, err
		}
	}

	return Frame{ID: id, Opcode: opcode, Payload: payload, FDs: append(hdrFDs, payloadFDs...)}, nil
}

// WriteFrame sends fr as header+payload in a single WriteMsgUnix call
// (looping over partial writes), attaching fr.FDs via SCM_RIGHTS on the
// first write.
func (f *frameIO) WriteFrame(fr Frame) error {
	if len(fr.Payload) > MaxFrameLength {
		return fmt.Errorf("native: payload length %d exceeds max %d", len(fr.Payload), MaxFrameLength)
	}

	buf := make([]byte, headerSize+len(fr.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], fr.ID)
	buf[4] = fr.Opcode
	l := uint32(len(fr.Payload))
	buf[5] = byte(l)
	buf[6] = byte(l >> 8)
	buf[7] = byte(l >> 16)
	copy(buf[headerSize:], fr.Payload)

	var oob []byte
	if len(fr.FDs) > 0 {
		oob = unix.UnixRights(fr.FDs...)
	}

	written := 0
	for written < len(buf) {
		n, _, err := f.uc.WriteMsgUnix(buf[written:], oob, nil)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("native: zero-length write")
		}
		written += n
		oob = nil // attached only to the first syscall
	}
	return nil
}
