package wl

import "github.com/pkg/errors"

const (
	ifaceOutput       = "wl_output"
	ifaceXdgOutputMgr = "zxdg_output_manager_v1"
	ifaceSeat         = "wl_seat"
	ifaceShm          = "wl_shm"
	ifaceScreencopy   = "zwlr_screencopy_manager_v1"
	ifaceVKManager    = "zwp_virtual_keyboard_manager_v1"
)

// Outputs binds every announced wl_output (and, if available,
// zxdg_output_v1 for its logical geometry) and returns the fully populated
// set after a roundtrip. Per the unchanged C2 algorithm, callers block here
// before the event loop starts.
func (r *Registry) Outputs() ([]Output, error) {
	xdgMgr, hasXdgMgr := r.Find(ifaceXdgOutputMgr)
	var xdgMgrID uint32
	if hasXdgMgr {
		xdgMgrID = r.bind(xdgMgr)
	}

	var states []*outputState
	for _, g := range r.FindAll(ifaceOutput) {
		st := r.bindOutput(g, xdgMgrID)
		states = append(states, st)
		if hasXdgMgr {
			r.bindXdgOutput(xdgMgrID, st)
		}
	}

	if err := r.d.Roundtrip(); err != nil {
		return nil, errors.Wrap(err, "roundtrip while discovering outputs")
	}
	// A second roundtrip lets zxdg_output_v1.done / logical_size events
	// that were queued behind the bind land before we read state back.
	if err := r.d.Roundtrip(); err != nil {
		return nil, errors.Wrap(err, "second roundtrip while discovering outputs")
	}

	outputs := make([]Output, 0, len(states))
	for _, st := range states {
		o, err := st.ToOutput()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, o)
	}
	if len(outputs) == 0 {
		return nil, errors.New("compositor advertises no wl_output globals")
	}
	return outputs, nil
}

// Seats binds every announced wl_seat and returns the fully populated set
// after a roundtrip.
func (r *Registry) Seats() ([]Seat, error) {
	var states []*seatState
	for _, g := range r.FindAll(ifaceSeat) {
		states = append(states, r.bindSeat(g))
	}
	if err := r.d.Roundtrip(); err != nil {
		return nil, errors.Wrap(err, "roundtrip while discovering seats")
	}
	seats := make([]Seat, 0, len(states))
	for _, st := range states {
		seats = append(seats, st.ToSeat())
	}
	if len(seats) == 0 {
		return nil, errors.New("compositor advertises no wl_seat globals")
	}
	return seats, nil
}
