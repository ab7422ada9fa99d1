package wl

// KeymapSource is the pre-compiled keymap blob a compositor hands its
// clients over wl_keyboard.keymap, before we hand it to xkbcommon.
type KeymapSource struct {
	Format uint32
	Fd     int
	Size   uint32
}

// Keyboard is a bound wl_keyboard, used only to learn the compositor's
// active keymap (C5's "seat-provided" priority). This bridge never reads
// real key events from it: synthetic input goes out through
// zwp_virtual_keyboard_v1, not back through the real seat.
type Keyboard struct {
	d  *Display
	id uint32

	OnKeymap func(KeymapSource)
}

// GetKeyboard binds wl_seat.get_keyboard.
func (s Seat) GetKeyboard(d *Display) *Keyboard {
	id := d.allocID()
	e := &encoder{}
	e.putUint32(id)
	d.conn.send(s.id, 1 /* get_keyboard */, e.buf)

	k := &Keyboard{d: d, id: id}
	d.on(id, 0 /* keymap */, func(body []byte) {
		// The fd travels as ancillary data, not in the body: our decoder
		// only sees the inline uint32/uint32 (format, size) payload, so
		// the fd is popped from the connection's queue with takeLastFd.
		dec := &decoder{buf: body}
		format, _ := dec.uint32()
		size, _ := dec.uint32()
		fd := d.conn.takeLastFd()
		if k.OnKeymap != nil {
			k.OnKeymap(KeymapSource{Format: format, Fd: fd, Size: size})
		}
	})
	return k
}

// Release destroys the keyboard proxy. Called immediately once the keymap
// has been captured; this bridge has no further use for it.
func (k *Keyboard) Release() {
	k.d.conn.send(k.id, 0 /* release, wl_keyboard v3+ */, nil)
	k.d.forget(k.id)
}
