// Package engine implements C7: the single-threaded cooperative loop that
// owns every other module and drives them from one unix.Poll wait.
package engine

import "time"

// Config is the fully resolved set of bridge options, built by cmd/wvnc
// from its CLI flags.
type Config struct {
	// OutputName selects which compositor output to mirror. Empty is only
	// accepted when the compositor has exactly one output.
	OutputName string

	Bind   string
	Port   int
	Period time.Duration

	// NoUinput disables the synthetic uinput pointer device; RFB pointer
	// events become no-ops. Keyboard input goes through the virtual-keyboard
	// protocol and is not affected.
	NoUinput bool
}
