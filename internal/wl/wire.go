// Package wl is a minimal, pure-Go Wayland client transport.
//
// It implements just enough of the wire protocol to discover outputs and
// seats, create shm pools and buffers, and drive the wlr screencopy
// extension. It is not a general-purpose Wayland client library: there is
// no code generation from protocol XML, and every interface it understands
// is hand-written in this package.
package wl

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Fixed is a Wayland wl_fixed_t: a 24.8 signed fixed-point number.
type Fixed int32

func (f Fixed) Float64() float64 { return float64(f) / 256.0 }

func NewFixed(v float64) Fixed { return Fixed(v * 256.0) }

// header is the 8-byte message header shared by requests and events.
type header struct {
	sender uint32
	sizeOp uint32
}

const headerSize = 8

// encoder builds the body of a single wire message (everything after the
// header), matching the wl wire format: int32/uint32 are little-endian,
// strings and arrays are length-prefixed and padded to 4-byte boundaries.
type encoder struct {
	buf []byte
}

func (e *encoder) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putInt32(v int32) { e.putUint32(uint32(v)) }

func (e *encoder) putFixed(v Fixed) { e.putUint32(uint32(v)) }

func (e *encoder) putString(s string) {
	e.putUint32(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	pad(&e.buf, len(s)+1)
}

func (e *encoder) putArray(data []byte) {
	e.putUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
	pad(&e.buf, len(data))
}

func pad(buf *[]byte, n int) {
	if rem := n % 4; rem != 0 {
		*buf = append(*buf, make([]byte, 4-rem)...)
	}
}

// decoder walks the body of a single received message.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *decoder) int32() (int32, error) {
	v, err := d.uint32()
	return int32(v), err
}

func (d *decoder) fixed() (Fixed, error) {
	v, err := d.uint32()
	return Fixed(v), err
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if d.off+int(n) > len(d.buf) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(d.buf[d.off : d.off+int(n)-1]) // drop trailing NUL
	d.off += int(n)
	d.off += (4 - int(n)%4) % 4
	return s, nil
}

func (d *decoder) array() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := append([]byte(nil), d.buf[d.off:d.off+int(n)]...)
	d.off += int(n)
	d.off += (4 - int(n)%4) % 4
	return out, nil
}

// Conn is a raw connection to a Wayland compositor socket.
type Conn struct {
	c  *net.UnixConn
	fd int

	fdQueue []int // fds received as SCM_RIGHTS ancillary data, oldest first
}

// Dial connects to the compositor named by WAYLAND_DISPLAY (or
// "wayland-0"), resolved against XDG_RUNTIME_DIR when relative.
func Dial() (*Conn, error) {
	socket := os.Getenv("WAYLAND_DISPLAY")
	if socket == "" {
		socket = "wayland-0"
	}
	if !filepath.IsAbs(socket) {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socket = filepath.Join(runtimeDir, socket)
	}
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socket, Net: "unix"})
	if err != nil {
		return nil, errors.Wrap(err, "connect to wayland compositor")
	}
	f, err := c.File()
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "obtain socket fd")
	}
	fd := int(f.Fd())
	return &Conn{c: c, fd: fd}, nil
}

// Fd returns the underlying socket descriptor, for use in a poll set. It
// remains owned by Conn; callers must not close it directly.
func (c *Conn) Fd() int { return c.fd }

func (c *Conn) Close() error { return c.c.Close() }

// send writes one request: object id, opcode, and pre-encoded arguments.
func (c *Conn) send(objectID uint32, opcode uint16, args []byte) error {
	msg := c.encodeHeader(objectID, opcode, args)
	_, err := c.c.Write(msg)
	if err != nil {
		return errors.Wrap(err, "write wayland request")
	}
	return nil
}

// sendFd writes one request carrying a file descriptor as ancillary data
// (SCM_RIGHTS), used for wl_shm.create_pool.
func (c *Conn) sendFd(objectID uint32, opcode uint16, args []byte, fd int) error {
	msg := c.encodeHeader(objectID, opcode, args)
	rights := unix.UnixRights(fd)
	_, _, err := c.c.WriteMsgUnix(msg, rights, nil)
	if err != nil {
		return errors.Wrap(err, "write wayland request with fd")
	}
	return nil
}

func (c *Conn) encodeHeader(objectID uint32, opcode uint16, args []byte) []byte {
	msg := make([]byte, headerSize+len(args))
	binary.LittleEndian.PutUint32(msg[0:4], objectID)
	size := uint32(headerSize + len(args))
	binary.LittleEndian.PutUint32(msg[4:8], (size&0xffff)|uint32(opcode)<<16)
	copy(msg[headerSize:], args)
	return msg
}

// recvMessage is a single fully decoded inbound message.
type recvMessage struct {
	objectID uint32
	opcode   uint16
	body     []byte
}

// readFullUnix fills buf via repeated ReadMsgUnix calls, harvesting any
// SCM_RIGHTS ancillary data it sees along the way into c.fdQueue. A plain
// io.ReadFull over c.c would silently drop ancillary data, which is how
// wl_shm fds and wl_keyboard.keymap fds travel on the wire.
func (c *Conn) readFullUnix(buf []byte) error {
	oob := make([]byte, unix.CmsgSpace(4)*4)
	got := 0
	for got < len(buf) {
		n, oobn, _, _, err := c.c.ReadMsgUnix(buf[got:], oob)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		got += n
		if oobn > 0 {
			cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
			if err != nil {
				return errors.Wrap(err, "parse ancillary data")
			}
			for _, cmsg := range cmsgs {
				fds, err := unix.ParseUnixRights(&cmsg)
				if err != nil {
					continue
				}
				c.fdQueue = append(c.fdQueue, fds...)
			}
		}
	}
	return nil
}

// takeLastFd pops the oldest fd received as ancillary data. Event handlers
// that know their event carries a fd (wl_shm_pool creation replies don't;
// wl_keyboard.keymap does) call this immediately after decoding the rest
// of the event body, since fds arrive in the same order as the messages
// that carry them.
func (c *Conn) takeLastFd() int {
	if len(c.fdQueue) == 0 {
		return -1
	}
	fd := c.fdQueue[0]
	c.fdQueue = c.fdQueue[1:]
	return fd
}

// ReadMessage blocks until one complete message arrives.
func (c *Conn) ReadMessage() (recvMessage, error) {
	var hdr [headerSize]byte
	if err := c.readFullUnix(hdr[:]); err != nil {
		return recvMessage{}, errors.Wrap(err, "read message header")
	}
	objectID := binary.LittleEndian.Uint32(hdr[0:4])
	sizeOp := binary.LittleEndian.Uint32(hdr[4:8])
	size := sizeOp & 0xffff
	opcode := uint16(sizeOp >> 16)
	if size < headerSize {
		return recvMessage{}, fmt.Errorf("malformed message: size %d < header", size)
	}
	body := make([]byte, size-headerSize)
	if len(body) > 0 {
		if err := c.readFullUnix(body); err != nil {
			return recvMessage{}, errors.Wrap(err, "read message body")
		}
	}
	return recvMessage{objectID: objectID, opcode: opcode, body: body}, nil
}
