// Package uinputdev creates a single synthetic absolute-pointer input
// device through the Linux uinput facility, combining axes and buttons
// that no single constructor in the example corpus's uinput libraries
// exposes together (see DESIGN.md, "Rejected dependency: bendahl/uinput").
package uinputdev

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// evdev event types and codes this device needs. Named per <linux/input-event-codes.h>.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	absX = 0x00
	absY = 0x01

	relWheel  = 0x08
	relHWheel = 0x06

	busVirtual = 0x06
)

// AxisMax is the upper bound of the absolute axes, INT16_MAX per §6's
// Kernel Surface.
const AxisMax = 32767

var uinputPaths = []string{"/dev/uinput", "/dev/input/uinput"}

var (
	uiSetEvbit  = iow(uinputIoctlBase, 100, unsafe.Sizeof(int32(0)))
	uiSetKeybit = iow(uinputIoctlBase, 101, unsafe.Sizeof(int32(0)))
	uiSetRelbit = iow(uinputIoctlBase, 102, unsafe.Sizeof(int32(0)))
	uiSetAbsbit = iow(uinputIoctlBase, 103, unsafe.Sizeof(int32(0)))
	uiDevCreate = io(uinputIoctlBase, 1)
	uiDevDestroy = io(uinputIoctlBase, 2)
	uiDevSetup  = iow(uinputIoctlBase, 3, unsafe.Sizeof(uinputSetup{}))
	uiAbsSetup  = iow(uinputIoctlBase, 4, unsafe.Sizeof(uinputAbsSetup{}))
)

// Device is a synthetic input device advertising three mouse buttons,
// absolute X/Y in [0, AxisMax], and a relative wheel, per §6's Kernel
// Surface.
type Device struct {
	fd int
}

// Open creates and registers the device with the kernel. Per §6, the
// uinput subsystem needs roughly 500ms to settle before it honors events;
// Open sleeps that out so callers never race it.
func Open() (*Device, error) {
	fd, err := openUinput()
	if err != nil {
		return nil, err
	}
	d := &Device{fd: fd}
	if err := d.setup(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	time.Sleep(500 * time.Millisecond)
	return d, nil
}

func openUinput() (int, error) {
	var lastErr error
	for _, p := range uinputPaths {
		fd, err := unix.Open(p, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return fd, nil
		}
		lastErr = err
	}
	return -1, errors.Wrap(lastErr, "open uinput device node")
}

func (d *Device) ioctl(req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) setup() error {
	bits := []struct {
		req uintptr
		val int
	}{
		{uiSetEvbit, evKey},
		{uiSetEvbit, evAbs},
		{uiSetEvbit, evRel},
		{uiSetKeybit, btnLeft},
		{uiSetKeybit, btnMiddle},
		{uiSetKeybit, btnRight},
		{uiSetAbsbit, absX},
		{uiSetAbsbit, absY},
		{uiSetRelbit, relWheel},
		{uiSetRelbit, relHWheel},
	}
	for _, b := range bits {
		if err := d.ioctl(b.req, uintptr(b.val)); err != nil {
			return errors.Wrapf(err, "set evdev bit %#x=%#x", b.req, b.val)
		}
	}

	for _, axis := range []uint16{absX, absY} {
		setup := uinputAbsSetup{
			Code: axis,
			AbsInfo: absInfo{
				Minimum: 0,
				Maximum: AxisMax,
			},
		}
		if err := d.ioctl(uiAbsSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
			return errors.Wrapf(err, "setup abs axis %d", axis)
		}
	}

	var setup uinputSetup
	setup.ID = inputID{BusType: busVirtual, Vendor: 0x1, Product: 0x1, Version: 1}
	copy(setup.Name[:], "wvnc-device")
	if err := d.ioctl(uiDevSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
		return errors.Wrap(err, "uinput dev setup")
	}

	if err := d.ioctl(uiDevCreate, 0); err != nil {
		return errors.Wrap(err, "uinput dev create")
	}
	return nil
}

func (d *Device) writeEvent(typ, code uint16, value int32) error {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	buf := (*[unsafe.Sizeof(inputEvent{})]byte)(unsafe.Pointer(&ev))[:]
	_, err := unix.Write(d.fd, buf)
	return err
}

// MoveAbsolute emits ABS_X/ABS_Y events followed by a sync, per §4.6 step 2.
func (d *Device) MoveAbsolute(x, y int32) error {
	if err := d.writeEvent(evAbs, absX, x); err != nil {
		return errors.Wrap(err, "write ABS_X")
	}
	if err := d.writeEvent(evAbs, absY, y); err != nil {
		return errors.Wrap(err, "write ABS_Y")
	}
	return d.sync()
}

// Button is one of the three tracked mouse buttons.
type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

var buttonCode = map[Button]uint16{
	ButtonLeft:   btnLeft,
	ButtonMiddle: btnMiddle,
	ButtonRight:  btnRight,
}

// SetButton writes the current level of one button and syncs, per §4.6
// step 3's "always writes the current level" edge-driven policy.
func (d *Device) SetButton(b Button, pressed bool) error {
	v := int32(0)
	if pressed {
		v = 1
	}
	if err := d.writeEvent(evKey, buttonCode[b], v); err != nil {
		return errors.Wrap(err, "write button")
	}
	return d.sync()
}

// Wheel emits one relative wheel tick and syncs, per §4.6 step 4.
func (d *Device) Wheel(delta int32) error {
	if err := d.writeEvent(evRel, relWheel, delta); err != nil {
		return errors.Wrap(err, "write wheel")
	}
	return d.sync()
}

func (d *Device) sync() error {
	return d.writeEvent(evSyn, synReport, 0)
}

// Close destroys the device and releases the fd.
func (d *Device) Close() error {
	d.ioctl(uiDevDestroy, 0)
	return unix.Close(d.fd)
}
