package wl

import "github.com/pkg/errors"

// ScreencopyManager is the bound zwlr_screencopy_manager_v1 global, the
// wire transport for C3's capture pipeline.
type ScreencopyManager struct {
	d  *Display
	id uint32
}

// BindScreencopyManager binds zwlr_screencopy_manager_v1, if announced.
func (r *Registry) BindScreencopyManager() (*ScreencopyManager, error) {
	g, ok := r.Find(ifaceScreencopy)
	if !ok {
		return nil, errors.New("compositor does not advertise zwlr_screencopy_manager_v1")
	}
	id := r.bind(g)
	return &ScreencopyManager{d: r.d, id: id}, nil
}

// ScreencopyFrame is one bound zwlr_screencopy_frame_v1, the per-capture
// proxy whose events drive the C3 Idle→Pending→Ready state machine. Fields
// named OnXxx are invoked synchronously from Display.DispatchOne; callers
// must set them before the corresponding request can complete.
type ScreencopyFrame struct {
	d  *Display
	id uint32

	OnBuffer func(format ShmFormat, width, height, stride uint32)
	OnFlags  func(yInvert bool)
	OnReady  func(tvSecHi, tvSecLo, tvNsec uint32)
	OnFailed func()
	OnDamage func(x, y, width, height uint32)
}

// CaptureOutput issues capture_output for the given bound wl_output,
// optionally restricted to the cursor-excluded variant (overlayCursor=0)
// this bridge always uses, per the unchanged Non-goal excluding cursor
// compositing.
func (m *ScreencopyManager) CaptureOutput(output Output) *ScreencopyFrame {
	id := m.d.allocID()
	e := &encoder{}
	e.putUint32(id)
	e.putInt32(0) // overlay_cursor: never composite the cursor into the capture
	e.putUint32(output.ID())
	m.d.conn.send(m.id, 0 /* capture_output */, e.buf)

	f := &ScreencopyFrame{d: m.d, id: id}
	m.d.on(id, 0 /* buffer */, func(body []byte) {
		dec := &decoder{buf: body}
		format, _ := dec.uint32()
		width, _ := dec.uint32()
		height, _ := dec.uint32()
		stride, _ := dec.uint32()
		if f.OnBuffer != nil {
			f.OnBuffer(ShmFormat(format), width, height, stride)
		}
	})
	m.d.on(id, 1 /* flags */, func(body []byte) {
		dec := &decoder{buf: body}
		flags, _ := dec.uint32()
		const flagYInvert = 0x1
		if f.OnFlags != nil {
			f.OnFlags(flags&flagYInvert != 0)
		}
	})
	m.d.on(id, 2 /* ready */, func(body []byte) {
		dec := &decoder{buf: body}
		hi, _ := dec.uint32()
		lo, _ := dec.uint32()
		ns, _ := dec.uint32()
		m.d.forget(id)
		if f.OnReady != nil {
			f.OnReady(hi, lo, ns)
		}
	})
	m.d.on(id, 3 /* failed */, func(body []byte) {
		m.d.forget(id)
		if f.OnFailed != nil {
			f.OnFailed()
		}
	})
	m.d.on(id, 4 /* damage */, func(body []byte) {
		dec := &decoder{buf: body}
		x, _ := dec.uint32()
		y, _ := dec.uint32()
		w, _ := dec.uint32()
		h, _ := dec.uint32()
		if f.OnDamage != nil {
			f.OnDamage(x, y, w, h)
		}
	})
	return f
}

// Copy issues copy(buffer), handing the compositor the destination
// wl_buffer it should render the capture into.
func (f *ScreencopyFrame) Copy(buf *Buffer) {
	e := &encoder{}
	e.putUint32(buf.id)
	f.d.conn.send(f.id, 0 /* copy */, e.buf)
}

// Destroy releases the frame proxy. Safe to call after Ready or Failed;
// the compositor may already have destroyed its side.
func (f *ScreencopyFrame) Destroy() {
	f.d.conn.send(f.id, 1 /* destroy */, nil)
	f.d.forget(f.id)
}
