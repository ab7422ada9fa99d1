// Package rfb is a minimal RFB/VNC server: version negotiation, the
// no-auth security handshake, PixelFormat/encodings negotiation, and
// Raw-encoded FramebufferUpdate delivery. It is deliberately single
// threaded — no goroutine per connection — so it can be driven from the
// same cooperative loop that dispatches Wayland events (C7).
package rfb

const (
	protoVersion3_3 = "RFB 003.003\n"
	protoVersion3_7 = "RFB 003.007\n"
	protoVersion3_8 = "RFB 003.008\n"

	securityTypeNone = 1

	securityResultOK     = 0
	securityResultFailed = 1

	encodingRaw      = 0
	encodingCopyRect = 1

	cmdSetPixelFormat          = 0
	cmdSetEncodings            = 2
	cmdFramebufferUpdateRequest = 3
	cmdKeyEvent                = 4
	cmdPointerEvent            = 5
	cmdClientCutText           = 6

	msgFramebufferUpdate = 0
)

// PixelFormat is the fixed 32bpp BGRA format this server always negotiates
// servers-side (it still parses whatever the client requests, but §1's
// Non-goals fix the captured/served representation to BGRA).
type PixelFormat struct {
	BPP, Depth          uint8
	BigEndian, TrueColor uint8
	RedMax, GreenMax, BlueMax     uint16
	RedShift, GreenShift, BlueShift uint8
}

// serverFormat is the PixelFormat advertised in ServerInit: 32bpp, 24-bit
// depth, little-endian, true-color, red in the high byte per §4.4's BGRA
// destination layout ({b,g,r,a} bytes, i.e. red at shift 16 when read as a
// 32-bit little-endian word — matching a conventional RGBX8888
// client pixel format).
var serverFormat = PixelFormat{
	BPP: 32, Depth: 24,
	BigEndian: 0, TrueColor: 1,
	RedMax: 255, GreenMax: 255, BlueMax: 255,
	RedShift: 16, GreenShift: 8, BlueShift: 0,
}
