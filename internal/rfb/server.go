package rfb

import (
	"encoding/binary"
	"fmt"
	"image"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"wvnc.dev/wvnc/internal/damage"
)

// Server is a single-threaded RFB server: no goroutine per connection,
// every socket is driven from FDs()/Dispatch() by the caller's own poll
// loop (C7).
type Server struct {
	log zerolog.Logger
	ln  *net.TCPListener
	lnFd int

	fb *damage.Framebuffer

	clients map[int]*Client

	OnPointerEvent func(mask uint8, x, y uint16)
	OnKeyEvent     func(down bool, keysym uint32)
}

// Listen opens the RFB listen socket. bind must be an IPv4 dotted-quad per
// §6 (no IPv6, an explicit Non-goal).
func Listen(log zerolog.Logger, bind string, port int, fb *damage.Framebuffer) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", bind, port)
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve rfb listen address %s", addr)
	}
	ln, err := net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	raw, err := ln.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "obtain listener raw conn")
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "obtain listener fd")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "set listener nonblocking")
	}
	return &Server{log: log, ln: ln, lnFd: fd, fb: fb, clients: make(map[int]*Client)}, nil
}

// FDs returns the listener fd plus every connected client's fd, for
// inclusion in the engine's unix.Poll set.
func (s *Server) FDs() []int {
	fds := make([]int, 0, len(s.clients)+1)
	fds = append(fds, s.lnFd)
	for fd := range s.clients {
		fds = append(fds, fd)
	}
	return fds
}

// Dispatch services every ready descriptor: accepts new connections on the
// listener, and pumps the message parser on ready clients.
func (s *Server) Dispatch(ready map[int]bool) {
	if ready[s.lnFd] {
		s.acceptAll()
	}
	for fd, c := range s.clients {
		if !ready[fd] {
			continue
		}
		if err := c.Pump(s.OnKeyEvent, s.OnPointerEvent); err != nil {
			s.log.Debug().Err(err).Int("fd", fd).Msg("rfb client disconnected")
			c.Close()
			delete(s.clients, fd)
		}
	}
}

func (s *Server) acceptAll() {
	for {
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			return // EAGAIN on a non-blocking listener once the backlog drains
		}
		c, err := newClient(conn, s.log, s.fb.Width, s.fb.Height)
		if err != nil {
			s.log.Warn().Err(err).Msg("rfb client handshake setup failed")
			conn.Close()
			continue
		}
		s.clients[c.Fd()] = c
		s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("rfb client connected")
	}
}

// PushDamage sends a FramebufferUpdate for rects to every client that has
// an outstanding FramebufferUpdateRequest, per C4's "report dirty
// rectangles to the RFB layer". Full (non-incremental) requests always get
// the whole framebuffer regardless of rects.
func (s *Server) PushDamage(rects []image.Rectangle) {
	for fd, c := range s.clients {
		if !c.updateWanted {
			continue
		}
		send := rects
		if !c.incrementalOK {
			send = []image.Rectangle{image.Rect(0, 0, s.fb.Width, s.fb.Height)}
		}
		if len(send) == 0 {
			continue
		}
		if err := c.writeUpdate(s.fb, send); err != nil {
			s.log.Debug().Err(err).Int("fd", fd).Msg("framebuffer update write failed")
			c.Close()
			delete(s.clients, fd)
			continue
		}
		c.updateWanted = false
	}
}

// writeUpdate writes one FramebufferUpdate message carrying rects encoded
// as Raw rectangles in the client's negotiated pixel format.
func (c *Client) writeUpdate(fb *damage.Framebuffer, rects []image.Rectangle) error {
	var hdr [4]byte
	hdr[0] = msgFramebufferUpdate
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(rects)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write FramebufferUpdate header")
	}

	native := isServerNativeFormat(c.pf)
	for _, r := range rects {
		var rh [12]byte
		binary.BigEndian.PutUint16(rh[0:2], uint16(r.Min.X))
		binary.BigEndian.PutUint16(rh[2:4], uint16(r.Min.Y))
		binary.BigEndian.PutUint16(rh[4:6], uint16(r.Dx()))
		binary.BigEndian.PutUint16(rh[6:8], uint16(r.Dy()))
		binary.BigEndian.PutUint32(rh[8:12], encodingRaw)
		if _, err := c.conn.Write(rh[:]); err != nil {
			return errors.Wrap(err, "write rectangle header")
		}

		rowBytes := r.Dx() * int(c.pf.BPP/8)
		row := make([]byte, rowBytes)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			if native {
				off := (y*fb.Width + r.Min.X) * 4
				row = fb.Pix[off : off+r.Dx()*4]
			} else {
				for i, x := 0, r.Min.X; x < r.Max.X; i, x = i+1, x+1 {
					off := (y*fb.Width + x) * 4
					b, g, rr := fb.Pix[off], fb.Pix[off+1], fb.Pix[off+2]
					px := encodePixel(c.pf, rr, g, b)
					copy(row[i*len(px):], px)
				}
			}
			if _, err := c.conn.Write(row); err != nil {
				return errors.Wrap(err, "write rectangle row")
			}
		}
	}
	return nil
}

// Close shuts down the listener and every connected client. Client close
// errors are discarded; only the listener's close error is returned.
func (s *Server) Close() error {
	var result *multierror.Error
	for _, c := range s.clients {
		c.Close()
	}
	if err := s.ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
