// Package capture implements C3: a paced screen-capture pipeline that
// pulls frames from the compositor into shared memory via
// zwlr_screencopy_manager_v1.
package capture

import "wvnc.dev/wvnc/internal/wl"

// byteSource abstracts Frame's backing storage so tests can substitute a
// plain slice instead of a live shared-memory wl.Buffer.
type byteSource interface {
	Bytes() []byte
}

// Frame is one captured, shared-memory-backed image. Per the data model's
// invariant, width/height/stride/format never change across a session once
// the first capture has completed; Pipeline enforces this.
type Frame struct {
	Buf     *wl.Buffer
	Width   uint32
	Height  uint32
	Stride  uint32
	Format  wl.ShmFormat
	YInvert bool

	// Ready is set once the compositor's "ready" event has landed and Buf's
	// bytes hold valid pixel data.
	Ready bool

	source byteSource // overrides Buf when set; used by tests
}

// Bytes returns the frame's current pixel bytes. Only valid once Ready.
func (f *Frame) Bytes() []byte {
	if f.source != nil {
		return f.source.Bytes()
	}
	if f.Buf == nil {
		return nil
	}
	return f.Buf.Bytes()
}

// staticBytes is a byteSource backed by a plain slice.
type staticBytes []byte

func (b staticBytes) Bytes() []byte { return b }

// NewTestFrame builds a Frame backed by a plain byte slice rather than a
// live wl.Buffer, for use by tests in this module that need a capture.Frame
// without a Wayland connection.
func NewTestFrame(width, height, stride uint32, yInvert bool, data []byte) *Frame {
	return &Frame{Width: width, Height: height, Stride: stride, YInvert: yInvert, Ready: true, source: staticBytes(data)}
}
