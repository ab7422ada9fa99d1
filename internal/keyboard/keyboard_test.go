package keyboard

import (
	"testing"
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/rs/zerolog"

	"wvnc.dev/wvnc/internal/xkb"
)

// fakeSink records the order Modifiers/Key are invoked in, so the test can
// assert the ordering invariant directly rather than inferring it from
// side effects.
type fakeSink struct {
	calls []string
	mods  []uint32
	keys  []uint32
	downs []bool
}

func (f *fakeSink) Modifiers(depressed, latched, locked, effective uint32) error {
	f.calls = append(f.calls, "mods")
	f.mods = append(f.mods, depressed)
	return nil
}

func (f *fakeSink) Key(_ time.Time, code uint32, state virtual_keyboard.KeyState) error {
	f.calls = append(f.calls, "key")
	f.keys = append(f.keys, code)
	f.downs = append(f.downs, state == virtual_keyboard.KeyStatePressed)
	return nil
}

// newTestTranslator compiles a real "us" keymap through libxkbcommon (the
// same CompileNames path New uses for a seat without a keyboard
// capability) and wires it to a fakeSink, skipping the
// zwp_virtual_keyboard_v1/Wayland connection New otherwise requires.
func newTestTranslator(t *testing.T) (*Translator, *fakeSink) {
	t.Helper()
	xctx, err := xkb.NewContext()
	if err != nil {
		t.Fatalf("xkb.NewContext: %v", err)
	}
	keymap, err := xctx.CompileNames("us")
	if err != nil {
		t.Fatalf("CompileNames: %v", err)
	}
	state, err := xkb.NewState(keymap)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	sink := &fakeSink{}
	return &Translator{log: zerolog.Nop(), xctx: xctx, keymap: keymap, state: state, vk: sink}, sink
}

const keysymA = 0x61 // XK_a

func TestHandleKeyUnknownKeysymDropped(t *testing.T) {
	tr, sink := newTestTranslator(t)
	defer tr.Close()

	tr.HandleKey(true, 0xffffff) // far outside any layout's keysym range
	if len(sink.calls) != 0 {
		t.Fatalf("expected no sink calls for an unresolvable keysym, got %v", sink.calls)
	}
}

func TestHandleKeyModifiersPrecedeKey(t *testing.T) {
	tr, sink := newTestTranslator(t)
	defer tr.Close()

	// Left Shift press changes the modifier state, so Modifiers must be
	// observed no later than the Key call it explains.
	const keysymShiftL = 0xffe1 // XK_Shift_L
	tr.HandleKey(true, keysymShiftL)

	if len(sink.calls) != 2 || sink.calls[0] != "mods" || sink.calls[1] != "key" {
		t.Fatalf("want [mods key] on a modifier-changing press, got %v", sink.calls)
	}
}

func TestHandleKeyNoModifiersChangeSkipsModifiersCall(t *testing.T) {
	tr, sink := newTestTranslator(t)
	defer tr.Close()

	// A plain "a" press/release never changes the depressed/latched/locked
	// masks, so no Modifiers call should be emitted at all.
	tr.HandleKey(true, keysymA)
	tr.HandleKey(false, keysymA)

	for _, c := range sink.calls {
		if c == "mods" {
			t.Fatalf("unexpected Modifiers call for a plain key press/release: %v", sink.calls)
		}
	}
	if len(sink.calls) != 2 || sink.calls[0] != "key" || sink.calls[1] != "key" {
		t.Fatalf("want [key key], got %v", sink.calls)
	}
	if sink.downs[0] != true || sink.downs[1] != false {
		t.Fatalf("want press then release, got %v", sink.downs)
	}
}

func TestHandleKeyEvdevCodeIsMinKeycodeRelative(t *testing.T) {
	tr, sink := newTestTranslator(t)
	defer tr.Close()

	tr.HandleKey(true, keysymA)
	if len(sink.keys) != 1 {
		t.Fatalf("expected one Key call, got %d", len(sink.keys))
	}
	keycode, _, found := tr.keymap.FindKeysym(keysymA)
	if !found {
		t.Fatalf("keymap did not resolve keysym 'a'")
	}
	want := keycode - tr.keymap.MinKeycode() + 1
	if sink.keys[0] != want {
		t.Fatalf("evdev code = %d, want %d", sink.keys[0], want)
	}
}
