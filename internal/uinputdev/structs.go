package uinputdev

import "golang.org/x/sys/unix"

// inputID mirrors struct input_id from <linux/input.h>.
type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputSetup mirrors struct uinput_setup from <linux/uinput.h>.
type uinputSetup struct {
	ID           inputID
	Name         [uinputMaxNameSize]byte
	FFEffectsMax uint32
}

const uinputMaxNameSize = 80

// absInfo mirrors struct input_absinfo from <linux/input.h>.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// uinputAbsSetup mirrors struct uinput_abs_setup from <linux/uinput.h>.
// The two padding bytes after Code are spelled out explicitly: absInfo's
// all-int32 layout forces 4-byte alignment after the uint16 code field.
type uinputAbsSetup struct {
	Code    uint16
	_       [2]byte
	AbsInfo absInfo
}

// inputEvent mirrors struct input_event from <linux/input.h>. unix.Timeval
// already matches the kernel's tv_sec/tv_usec width for this GOARCH.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}
