// Package xkb wraps libxkbcommon via cgo to compile keymaps and track
// keyboard modifier state for C5's keyboard translator.
package xkb

/*
#cgo pkg-config: xkbcommon
#include <stdlib.h>
#include <xkbcommon/xkbcommon.h>

// find_keysym walks every keycode and level of keymap looking for sym,
// returning the first match (keycode, level) in out_keycode/out_level and
// 1 on success. This mirrors the O(keycodes*levels) search §4.5 specifies;
// libxkbcommon has no reverse (keysym -> keycode) lookup of its own.
static int find_keysym(struct xkb_keymap *keymap, xkb_keysym_t sym,
                        xkb_keycode_t *out_keycode, int *out_level) {
	xkb_keycode_t min = xkb_keymap_min_keycode(keymap);
	xkb_keycode_t max = xkb_keymap_max_keycode(keymap);
	for (xkb_keycode_t kc = min; kc <= max; kc++) {
		int num_layouts = xkb_keymap_num_layouts_for_key(keymap, kc);
		for (int layout = 0; layout < num_layouts; layout++) {
			int num_levels = xkb_keymap_num_levels_for_key(keymap, kc, layout);
			for (int level = 0; level < num_levels; level++) {
				const xkb_keysym_t *syms;
				int n = xkb_keymap_key_get_syms_by_level(keymap, kc, layout, level, &syms);
				for (int i = 0; i < n; i++) {
					if (syms[i] == sym) {
						*out_keycode = kc;
						*out_level = level;
						return 1;
					}
				}
			}
		}
	}
	return 0;
}
*/
import "C"

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
)

// KeymapFormat mirrors the zwp_virtual_keyboard_v1.keymap wire format enum;
// value 1 is XKB_V1 text, the only format this bridge ever produces or
// forwards.
const KeymapFormatXKBv1 = 1

// Keymap is a compiled xkb_keymap.
type Keymap struct {
	ptr         *C.struct_xkb_keymap
	minKeycode  uint32
	maxKeycode  uint32
}

// Context wraps the top-level xkb_context every keymap compiles under.
type Context struct {
	ptr *C.struct_xkb_context
}

// NewContext creates a fresh xkb_context. One is kept alive for the
// process's lifetime in internal/keyboard.
func NewContext() (*Context, error) {
	ptr := C.xkb_context_new(C.XKB_CONTEXT_NO_FLAGS)
	if ptr == nil {
		return nil, errors.New("xkb_context_new failed")
	}
	return &Context{ptr: ptr}, nil
}

func (c *Context) Close() {
	C.xkb_context_unref(c.ptr)
}

// CompileFromFd compiles a keymap the compositor handed us over
// wl_keyboard.keymap: a memory-mapped, NUL-terminated string at fd of the
// given size. The fd is owned by the caller; this only mmaps it briefly.
func (c *Context) CompileFromFd(fd int, size uint32, format uint32) (*Keymap, error) {
	if format != KeymapFormatXKBv1 {
		return nil, errors.Errorf("unsupported keymap format %d", format)
	}
	data, err := mmapReadOnly(fd, int(size))
	if err != nil {
		return nil, errors.Wrap(err, "map seat keymap fd")
	}
	defer munmap(data)

	cstr := (*C.char)(unsafe.Pointer(&data[0]))
	ptr := C.xkb_keymap_new_from_string(c.ptr, cstr, C.XKB_KEYMAP_FORMAT_TEXT_V1, C.XKB_KEYMAP_COMPILE_NO_FLAGS)
	if ptr == nil {
		return nil, errors.New("xkb_keymap_new_from_string failed")
	}
	return newKeymap(ptr), nil
}

// CompileNames synthesizes a keymap for the named layout (e.g. "us") when
// the seat offers no keyboard capability, per C5's fallback source.
func (c *Context) CompileNames(layout string) (*Keymap, error) {
	cLayout := C.CString(layout)
	defer C.free(unsafe.Pointer(cLayout))

	var names C.struct_xkb_rule_names
	names.layout = cLayout

	ptr := C.xkb_keymap_new_from_names(c.ptr, &names, C.XKB_KEYMAP_COMPILE_NO_FLAGS)
	if ptr == nil {
		return nil, errors.Errorf("xkb_keymap_new_from_names failed for layout %q", layout)
	}
	return newKeymap(ptr), nil
}

func newKeymap(ptr *C.struct_xkb_keymap) *Keymap {
	return &Keymap{
		ptr:        ptr,
		minKeycode: uint32(C.xkb_keymap_min_keycode(ptr)),
		maxKeycode: uint32(C.xkb_keymap_max_keycode(ptr)),
	}
}

func (k *Keymap) Close() { C.xkb_keymap_unref(k.ptr) }

func (k *Keymap) MinKeycode() uint32 { return k.minKeycode }
func (k *Keymap) MaxKeycode() uint32 { return k.maxKeycode }

// AsString serializes the keymap back to XKB v1 text, for verbatim upload
// to the virtual keyboard channel per §4.5.
func (k *Keymap) AsString() []byte {
	cstr := C.xkb_keymap_get_as_string(k.ptr, C.XKB_KEYMAP_FORMAT_TEXT_V1)
	if cstr == nil {
		return nil
	}
	defer C.free(unsafe.Pointer(cstr))
	return []byte(C.GoString(cstr))
}

// FindKeysym performs the O(keycodes*levels) search §4.5 step 1 describes.
// The level is returned but, per the documented limitation, never forwarded
// to the virtual keyboard.
func (k *Keymap) FindKeysym(sym uint32) (keycode uint32, level int, found bool) {
	var kc C.xkb_keycode_t
	var lvl C.int
	ok := C.find_keysym(k.ptr, C.xkb_keysym_t(sym), &kc, &lvl)
	if ok == 0 {
		return 0, 0, false
	}
	return uint32(kc), int(lvl), true
}

// ModMasks is the four-mask modifier state §3's "Keymap state" tracks.
type ModMasks struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Effective uint32 // effective group, not a mask, but carried alongside
}

// State is a mutable xkb_state over a compiled Keymap.
type State struct {
	keymap *Keymap
	ptr    *C.struct_xkb_state
	masks  ModMasks
}

// NewState creates an xkb_state for keymap.
func NewState(keymap *Keymap) (*State, error) {
	ptr := C.xkb_state_new(keymap.ptr)
	if ptr == nil {
		return nil, errors.New("xkb_state_new failed")
	}
	return &State{keymap: keymap, ptr: ptr}, nil
}

func (s *State) Close() { C.xkb_state_unref(s.ptr) }

func (s *State) Keymap() *Keymap { return s.keymap }

// UpdateKey feeds a press or release of the xkb keycode (min_keycode-based,
// i.e. evdev_code+8) into the state machine and returns the new masks plus
// whether any of them changed, per §4.5 step 3.
func (s *State) UpdateKey(keycode uint32, down bool) (ModMasks, bool) {
	direction := C.XKB_KEY_UP
	if down {
		direction = C.XKB_KEY_DOWN
	}
	C.xkb_state_update_key(s.ptr, C.xkb_keycode_t(keycode), direction)

	next := ModMasks{
		Depressed: uint32(C.xkb_state_serialize_mods(s.ptr, C.XKB_STATE_MODS_DEPRESSED)),
		Latched:   uint32(C.xkb_state_serialize_mods(s.ptr, C.XKB_STATE_MODS_LATCHED)),
		Locked:    uint32(C.xkb_state_serialize_mods(s.ptr, C.XKB_STATE_MODS_LOCKED)),
		Effective: uint32(C.xkb_state_serialize_layout(s.ptr, C.XKB_STATE_LAYOUT_EFFECTIVE)),
	}
	changed := next != s.masks
	s.masks = next
	return next, changed
}

// Masks returns the most recently computed modifier masks without feeding
// a new key event.
func (s *State) Masks() ModMasks { return s.masks }

func mmapReadOnly(fd int, size int) ([]byte, error) {
	return mmapFd(fd, size)
}

// KeymapFileFromEnv resolves an explicit override for testing without a
// live compositor connection. Nothing in this module calls it;
// internal/keyboard's tests compile the "us" layout instead.
func KeymapFileFromEnv() string { return os.Getenv("WVNC_TEST_KEYMAP_FILE") }
