package wl

import "github.com/pkg/errors"

// OutputOrientation is the logical rotation the compositor applies to an
// output, taken from the wl_output.geometry transform field restricted to
// the four values this bridge can render (flipped transforms are not
// supported; ToOutput maps them to OrientationNormal).
type OutputOrientation int

const (
	OrientationNormal OutputOrientation = iota
	OrientationRot90
	OrientationRot180
	OrientationRot270
)

// wl_output.transform values we accept; anything else collapses to Normal.
// No warning is logged and no error is returned for it.
const (
	transformNormal = 0
	transform90     = 1
	transform180    = 2
	transform270    = 3
)

// Output is an immutable snapshot of one compositor output: its name, its
// physical pixel geometry, and its logical (xdg_output) geometry and
// rotation.
type Output struct {
	Name string

	Width, Height int32 // physical mode, from wl_output.mode
	LogicalX      int32
	LogicalY      int32
	LogicalWidth  int32
	LogicalHeight int32

	Orientation OutputOrientation

	id uint32
}

type outputState struct {
	d          *Display
	id         uint32
	name       string
	width      int32
	height     int32
	transform  int32
	logicalX   int32
	logicalY   int32
	logicalW   int32
	logicalH   int32
	haveLogical bool
	haveMode    bool
}

func (r *Registry) bindOutput(g Global, xdgOutputMgr uint32) *outputState {
	id := r.bind(g)
	st := &outputState{d: r.d, id: id}
	r.d.on(id, 0 /* geometry */, func(body []byte) {
		dec := &decoder{buf: body}
		dec.int32() // x (physical, unused: xdg_output supplies logical position)
		dec.int32() // y
		dec.int32() // physical_width (mm)
		dec.int32() // physical_height (mm)
		dec.int32() // subpixel
		dec.string()
		name, _ := dec.string()
		transform, _ := dec.int32()
		if st.name == "" {
			st.name = name
		}
		st.transform = transform
	})
	r.d.on(id, 1 /* mode */, func(body []byte) {
		dec := &decoder{buf: body}
		flags, _ := dec.uint32()
		w, _ := dec.int32()
		h, _ := dec.int32()
		dec.int32() // refresh
		const modeCurrent = 0x1
		if flags&modeCurrent != 0 {
			st.width, st.height = w, h
			st.haveMode = true
		}
	})
	r.d.on(id, 4 /* name (wl_output since v4) */, func(body []byte) {
		dec := &decoder{buf: body}
		name, _ := dec.string()
		st.name = name
	})
	return st
}

// ToOutput converts the accumulated wl_output + xdg_output state into an
// immutable Output, failing if no current mode was ever announced.
func (st *outputState) ToOutput() (Output, error) {
	if !st.haveMode {
		return Output{}, errors.Errorf("output %q never announced a current mode", st.name)
	}
	o := Output{
		Name:     st.name,
		Width:    st.width,
		Height:   st.height,
		id:       st.id,
	}
	if st.haveLogical {
		o.LogicalX, o.LogicalY = st.logicalX, st.logicalY
		o.LogicalWidth, o.LogicalHeight = st.logicalW, st.logicalH
	} else {
		o.LogicalWidth, o.LogicalHeight = st.width, st.height
	}
	switch st.transform {
	case transformNormal:
		o.Orientation = OrientationNormal
	case transform90:
		o.Orientation = OrientationRot90
	case transform180:
		o.Orientation = OrientationRot180
	case transform270:
		o.Orientation = OrientationRot270
	default:
		// Flipped transforms (4-7) are not representable by our four-way
		// orientation enum; collapse to Normal.
		o.Orientation = OrientationNormal
	}
	return o, nil
}

// ID returns the bound wl_output object id, used to target
// zwlr_screencopy_manager_v1.capture_output.
func (o Output) ID() uint32 { return o.id }

// bindXdgOutput binds zxdg_output_v1 for the given wl_output state so its
// logical-position/size events populate logicalX/Y/W/H.
func (r *Registry) bindXdgOutput(mgrID uint32, st *outputState) {
	id := r.d.allocID()
	e := &encoder{}
	e.putUint32(id)
	e.putUint32(st.id)
	r.d.conn.send(mgrID, 1 /* get_xdg_output */, e.buf)

	r.d.on(id, 0 /* logical_position */, func(body []byte) {
		dec := &decoder{buf: body}
		x, _ := dec.int32()
		y, _ := dec.int32()
		st.logicalX, st.logicalY = x, y
		st.haveLogical = true
	})
	r.d.on(id, 1 /* logical_size */, func(body []byte) {
		dec := &decoder{buf: body}
		w, _ := dec.int32()
		h, _ := dec.int32()
		st.logicalW, st.logicalH = w, h
		st.haveLogical = true
	})
}
