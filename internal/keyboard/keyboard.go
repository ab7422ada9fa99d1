// Package keyboard implements C5: resolving incoming RFB key events to XKB
// keycodes and modifier masks and forwarding them to the compositor
// through the zwp_virtual_keyboard_v1 protocol.
package keyboard

import (
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"wvnc.dev/wvnc/internal/wl"
	"wvnc.dev/wvnc/internal/xkb"
)

// keySink is the subset of *virtual_keyboard.VirtualKeyboard that HandleKey
// drives, narrowed to a seam so the ordering invariant can be tested
// against a fake without a live zwp_virtual_keyboard_v1 connection.
type keySink interface {
	Modifiers(depressed, latched, locked, effective uint32) error
	Key(t time.Time, code uint32, state virtual_keyboard.KeyState) error
}

// Translator owns the XKB keymap/state pair and the virtual-keyboard
// channel, implementing the ordering invariant that a modifiers update is
// never observed later than the key event it explains.
type Translator struct {
	log zerolog.Logger

	xctx   *xkb.Context
	keymap *xkb.Keymap
	state  *xkb.State

	vk keySink
}

// New obtains a keymap per C5's two-source priority (seat keyboard first,
// "us" synthesized fallback), uploads it to a freshly created virtual
// keyboard, and returns a ready Translator.
//
// seatKeymap is non-nil when the selected seat has a keyboard capability
// and a wl.Keyboard.OnKeymap callback has already fired with its fd; the
// caller is responsible for racing that against a short timeout, since a
// seat that never sends a keymap event must fall back rather than hang
// (the "listen briefly" language in §4.5).
func New(log zerolog.Logger, mgr *virtual_keyboard.VirtualKeyboardManager, seatKeymap *wl.KeymapSource) (*Translator, error) {
	xctx, err := xkb.NewContext()
	if err != nil {
		return nil, errors.Wrap(err, "create xkb context")
	}

	var keymap *xkb.Keymap
	if seatKeymap != nil {
		keymap, err = xctx.CompileFromFd(seatKeymap.Fd, seatKeymap.Size, seatKeymap.Format)
		if err != nil {
			log.Warn().Err(err).Msg("failed to adopt seat keymap, synthesizing us layout")
		}
	}
	if keymap == nil {
		keymap, err = xctx.CompileNames("us")
		if err != nil {
			xctx.Close()
			return nil, errors.Wrap(err, "synthesize us keymap")
		}
	}

	state, err := xkb.NewState(keymap)
	if err != nil {
		keymap.Close()
		xctx.Close()
		return nil, errors.Wrap(err, "create xkb state")
	}

	vk, err := mgr.CreateKeyboard()
	if err != nil {
		state.Close()
		keymap.Close()
		xctx.Close()
		return nil, errors.Wrap(err, "create virtual keyboard")
	}
	if err := vk.Keymap(xkb.KeymapFormatXKBv1, keymap.AsString()); err != nil {
		state.Close()
		keymap.Close()
		xctx.Close()
		return nil, errors.Wrap(err, "upload keymap to virtual keyboard")
	}

	return &Translator{log: log, xctx: xctx, keymap: keymap, state: state, vk: vk}, nil
}

// Close releases the keymap/state and context. The virtual keyboard proxy
// itself is owned by the manager and torn down with the connection.
func (t *Translator) Close() {
	t.state.Close()
	t.keymap.Close()
	t.xctx.Close()
}

// HandleKey processes one incoming (down, keysym) RFB key event per §4.5
// steps 1-3.
func (t *Translator) HandleKey(down bool, keysym uint32) {
	keycode, _, found := t.keymap.FindKeysym(keysym)
	if !found {
		t.log.Debug().Uint32("keysym", keysym).Msg("unknown key symbol, dropping")
		return
	}

	masks, changed := t.state.UpdateKey(keycode, down)
	keyState := virtual_keyboard.KeyStateReleased
	if down {
		keyState = virtual_keyboard.KeyStatePressed
	}

	// Ordering invariant: modifiers precede or accompany the key event they
	// explain, so push them first whenever they changed.
	if changed {
		if err := t.vk.Modifiers(masks.Depressed, masks.Latched, masks.Locked, masks.Effective); err != nil {
			t.log.Debug().Err(err).Msg("virtual keyboard modifiers write failed")
		}
	}

	// keycode is XKB's (evdev+8); the key request carries
	// keycode - min_keycode + 1, which for a keymap whose min keycode is 8
	// is the evdev code plus one.
	evdevCode := keycode - t.keymap.MinKeycode() + 1
	if err := t.vk.Key(time.Now(), evdevCode, keyState); err != nil {
		t.log.Debug().Err(err).Msg("virtual keyboard key write failed")
	}
}
