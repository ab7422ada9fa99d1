// Package pointer implements C6: mapping normalized RFB pointer events
// onto an absolute-position synthetic input device spanning the
// compositor's logical screen layout.
package pointer

import (
	"math"

	"github.com/rs/zerolog"

	"wvnc.dev/wvnc/internal/uinputdev"
)

// LogicalRect is the union bounding box of every discovered output's
// logical rectangle, used exclusively to normalize pointer coordinates.
type LogicalRect struct {
	X, Y          int32
	Width, Height int32
}

// Device wraps a synthetic uinput device and applies §4.6's
// clamp/translate/scale/button/wheel algorithm. A nil underlying uinput
// device (when --no-uinput is set, or creation failed) makes every method
// a logged no-op, per §4.6's "failures ... non-fatal" policy.
type Device struct {
	log    zerolog.Logger
	screen LogicalRect
	dev    *uinputdev.Device

	buttons [3]bool
}

// New creates the backing uinput device unless disabled. A creation
// failure is logged and the Device falls back to no-op mode rather than
// failing bridge startup, matching §7's "synthetic-device write failure"
// bucket (creation is treated the same as a later write failure: the
// pointer path degrades, nothing else does).
func New(log zerolog.Logger, screen LogicalRect, disabled bool) *Device {
	d := &Device{log: log, screen: screen}
	if disabled {
		log.Info().Msg("synthetic pointer device disabled (--no-uinput)")
		return d
	}
	dev, err := uinputdev.Open()
	if err != nil {
		log.Warn().Err(err).Msg("failed to create synthetic pointer device; pointer input will be a no-op")
		return d
	}
	d.dev = dev
	return d
}

// Close releases the uinput device, if any.
func (d *Device) Close() error {
	if d.dev == nil {
		return nil
	}
	return d.dev.Close()
}

// HandleEvent processes one RFB PointerEvent (button mask, client x/y) per
// §4.6 steps 1-4.
func (d *Device) HandleEvent(mask uint8, clientX, clientY int32) {
	if d.dev == nil {
		return
	}

	// Step 1: clamp to the logical rectangle, translate to global coords.
	cx := clampInt32(clientX, 0, d.screen.Width-1)
	cy := clampInt32(clientY, 0, d.screen.Height-1)
	gx := d.screen.X + cx
	gy := d.screen.Y + cy

	// Step 2: scale into [0, INT16_MAX] and emit absolute axes + sync.
	ax := scaleAxis(gx, d.screen.Width)
	ay := scaleAxis(gy, d.screen.Height)
	if err := d.dev.MoveAbsolute(ax, ay); err != nil {
		d.log.Debug().Err(err).Msg("pointer move write failed")
	}

	// Step 3: one button event per tracked button, reflecting new state bits.
	d.setButton(uinputdev.ButtonLeft, mask&0x01 != 0)
	d.setButton(uinputdev.ButtonMiddle, mask&0x02 != 0)
	d.setButton(uinputdev.ButtonRight, mask&0x04 != 0)

	// Step 4: wheel bits.
	if mask&0x08 != 0 {
		if err := d.dev.Wheel(1); err != nil {
			d.log.Debug().Err(err).Msg("wheel write failed")
		}
	}
	if mask&0x10 != 0 {
		if err := d.dev.Wheel(-1); err != nil {
			d.log.Debug().Err(err).Msg("wheel write failed")
		}
	}
}

func (d *Device) setButton(b uinputdev.Button, pressed bool) {
	if err := d.dev.SetButton(b, pressed); err != nil {
		d.log.Debug().Err(err).Msg("button write failed")
	}
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scaleAxis(v, extent int32) int32 {
	if extent <= 0 {
		return 0
	}
	scaled := math.Round(float64(v) / float64(extent) * float64(uinputdev.AxisMax))
	return int32(clampInt32(int32(scaled), 0, uinputdev.AxisMax))
}
