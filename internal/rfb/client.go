package rfb

import (
	"encoding/binary"
	"image"
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

type clientStage int

const (
	stageVersion clientStage = iota // waiting for client's "RFB 003.00x\n"
	stageSecurityChoice              // v3.7+: waiting for the client's chosen security type
	stageClientInit                  // waiting for the 1-byte shared-flag
	stageNormal                       // handshake complete; steady-state message pump
)

// Client is one connected RFB viewer. It never blocks: reads happen on a
// raw non-blocking fd and are driven entirely by the engine's poll loop.
type Client struct {
	conn *net.TCPConn
	fd   int
	log  zerolog.Logger

	stage clientStage
	rbuf  []byte // accumulated unparsed bytes from the wire

	pf            PixelFormat
	updateWanted  bool
	incrementalOK bool
	reqRect       image.Rectangle

	fbWidth, fbHeight int

	closed bool
}

func newClient(conn *net.TCPConn, log zerolog.Logger, fbWidth, fbHeight int) (*Client, error) {
	if err := conn.SetNoDelay(true); err != nil {
		return nil, errors.Wrap(err, "set TCP_NODELAY")
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "obtain client raw conn")
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return nil, errors.Wrap(err, "obtain client fd")
	}
	c := &Client{conn: conn, fd: fd, log: log, pf: serverFormat, fbWidth: fbWidth, fbHeight: fbHeight}
	if _, err := conn.Write([]byte(protoVersion3_8)); err != nil {
		return nil, errors.Wrap(err, "write protocol version")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(err, "set client fd nonblocking")
	}
	return c, nil
}

func (c *Client) Fd() int { return c.fd }

func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// Pump reads whatever is available on the socket and advances the
// handshake/message state machine. Called whenever poll reports the
// client's fd readable.
func (c *Client) Pump(onKey func(down bool, keysym uint32), onPointer func(mask uint8, x, y uint16)) error {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.rbuf = append(c.rbuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return errors.Wrap(err, "read from rfb client")
		}
		if n == 0 {
			return errors.New("rfb client closed connection")
		}
		if n < len(buf) {
			break
		}
	}
	return c.drain(onKey, onPointer)
}

func (c *Client) drain(onKey func(down bool, keysym uint32), onPointer func(mask uint8, x, y uint16)) error {
	for {
		switch c.stage {
		case stageVersion:
			if len(c.rbuf) < 12 {
				return nil
			}
			c.rbuf = c.rbuf[12:] // don't bother validating the exact version string
			c.stage = stageSecurityChoice
			if _, err := c.conn.Write([]byte{1, securityTypeNone}); err != nil {
				return errors.Wrap(err, "write security types")
			}

		case stageSecurityChoice:
			if len(c.rbuf) < 1 {
				return nil
			}
			c.rbuf = c.rbuf[1:]
			var result [4]byte
			binary.BigEndian.PutUint32(result[:], securityResultOK)
			if _, err := c.conn.Write(result[:]); err != nil {
				return errors.Wrap(err, "write security result")
			}
			c.stage = stageClientInit

		case stageClientInit:
			if len(c.rbuf) < 1 {
				return nil
			}
			c.rbuf = c.rbuf[1:]
			if err := c.writeServerInit(); err != nil {
				return err
			}
			c.stage = stageNormal

		case stageNormal:
			consumed, err := c.handleOneMessage(onKey, onPointer)
			if err != nil {
				return err
			}
			if consumed == 0 {
				return nil
			}
			c.rbuf = c.rbuf[consumed:]
		}
	}
}

func (c *Client) writeServerInit() error {
	w := c.conn
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(c.width()))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(c.height()))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write ServerInit dims")
	}
	if err := writePixelFormat(w, serverFormat); err != nil {
		return err
	}
	name := []byte("wvnc")
	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(name)))
	if _, err := w.Write(nameLen[:]); err != nil {
		return errors.Wrap(err, "write ServerInit name length")
	}
	if _, err := w.Write(name); err != nil {
		return errors.Wrap(err, "write ServerInit name")
	}
	return nil
}

func writePixelFormat(w *net.TCPConn, pf PixelFormat) error {
	var b [16]byte
	b[0], b[1], b[2], b[3] = pf.BPP, pf.Depth, pf.BigEndian, pf.TrueColor
	binary.BigEndian.PutUint16(b[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(b[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], pf.BlueMax)
	b[10], b[11], b[12] = pf.RedShift, pf.GreenShift, pf.BlueShift
	_, err := w.Write(b[:])
	return errors.Wrap(err, "write pixel format")
}

// handleOneMessage parses and dispatches at most one client->server
// message, returning the number of bytes consumed (0 if more data is
// needed).
func (c *Client) handleOneMessage(onKey func(down bool, keysym uint32), onPointer func(mask uint8, x, y uint16)) (int, error) {
	if len(c.rbuf) < 1 {
		return 0, nil
	}
	switch c.rbuf[0] {
	case cmdSetPixelFormat:
		const size = 20
		if len(c.rbuf) < size {
			return 0, nil
		}
		b := c.rbuf[4:size]
		c.pf = PixelFormat{
			BPP: b[0], Depth: b[1], BigEndian: b[2], TrueColor: b[3],
			RedMax:   binary.BigEndian.Uint16(b[4:6]),
			GreenMax: binary.BigEndian.Uint16(b[6:8]),
			BlueMax:  binary.BigEndian.Uint16(b[8:10]),
			RedShift: b[10], GreenShift: b[11], BlueShift: b[12],
		}
		return size, nil

	case cmdSetEncodings:
		if len(c.rbuf) < 4 {
			return 0, nil
		}
		n := int(binary.BigEndian.Uint16(c.rbuf[2:4]))
		total := 4 + n*4
		if len(c.rbuf) < total {
			return 0, nil
		}
		// Encoding preference is not negotiated: this server only ever
		// emits Raw rectangles.
		return total, nil

	case cmdFramebufferUpdateRequest:
		const size = 10
		if len(c.rbuf) < size {
			return 0, nil
		}
		incremental := c.rbuf[1] != 0
		x := binary.BigEndian.Uint16(c.rbuf[2:4])
		y := binary.BigEndian.Uint16(c.rbuf[4:6])
		w := binary.BigEndian.Uint16(c.rbuf[6:8])
		h := binary.BigEndian.Uint16(c.rbuf[8:10])
		c.updateWanted = true
		c.incrementalOK = incremental
		c.reqRect = image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
		return size, nil

	case cmdKeyEvent:
		const size = 8
		if len(c.rbuf) < size {
			return 0, nil
		}
		down := c.rbuf[1] != 0
		key := binary.BigEndian.Uint32(c.rbuf[4:8])
		if onKey != nil {
			onKey(down, key)
		}
		return size, nil

	case cmdPointerEvent:
		const size = 6
		if len(c.rbuf) < size {
			return 0, nil
		}
		mask := c.rbuf[1]
		x := binary.BigEndian.Uint16(c.rbuf[2:4])
		y := binary.BigEndian.Uint16(c.rbuf[4:6])
		if onPointer != nil {
			onPointer(mask, x, y)
		}
		return size, nil

	case cmdClientCutText:
		if len(c.rbuf) < 8 {
			return 0, nil
		}
		length := int(binary.BigEndian.Uint32(c.rbuf[4:8]))
		total := 8 + length
		if len(c.rbuf) < total {
			return 0, nil
		}
		return total, nil // clipboard is an explicit Non-goal; text is discarded

	default:
		return 0, errors.Errorf("unknown rfb client message type %d", c.rbuf[0])
	}
}

func (c *Client) width() int  { return c.fbWidth }
func (c *Client) height() int { return c.fbHeight }
