package wl

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Object IDs 1 is always the display itself; the registry is bound
// immediately after as object 2, and every further proxy gets the next
// free id from nextID.
const (
	displayID  = 1
	registryID = 2
)

// listener is invoked with the raw event body for one (object, opcode) pair.
type listener func(body []byte)

// Display is the root of a Wayland client connection. It owns the wire
// connection, the global id allocator, and the per-object event dispatch
// table. Unlike a full client library it does not generate proxy types
// from protocol XML: every interface this package understands has a
// hand-written wrapper below that registers its own listeners.
type Display struct {
	conn     *Conn
	nextID   uint32
	handlers map[uint32]map[uint16]listener
	registry *Registry

	syncDone chan struct{}

	lastErr error
}

// NewDisplay dials the compositor and binds the registry.
func NewDisplay() (*Display, error) {
	conn, err := Dial()
	if err != nil {
		return nil, err
	}
	d := &Display{
		conn:     conn,
		nextID:   3,
		handlers: make(map[uint32]map[uint16]listener),
	}
	d.on(displayID, 0, d.handleError)
	d.on(displayID, 1, d.handleDeleteID)

	d.registry = newRegistry(d, registryID)
	// get_registry's single argument is the new_id, which the wire format
	// encodes as a plain uint32 (no interface/version prefix for wl_registry).
	e := &encoder{}
	e.putUint32(registryID)
	if err := d.conn.send(displayID, 1 /* get_registry */, e.buf); err != nil {
		conn.Close()
		return nil, err
	}

	if err := d.Roundtrip(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "initial registry roundtrip")
	}
	return d, nil
}

// Fd exposes the connection's socket descriptor for use in unix.Poll.
func (d *Display) Fd() int { return d.conn.Fd() }

// Registry returns the bound wl_registry.
func (d *Display) Registry() *Registry { return d.registry }

// Close tears down the connection.
func (d *Display) Close() error { return d.conn.Close() }

func (d *Display) allocID() uint32 {
	return atomic.AddUint32(&d.nextID, 1) - 1
}

func (d *Display) on(objectID uint32, opcode uint16, fn listener) {
	m, ok := d.handlers[objectID]
	if !ok {
		m = make(map[uint16]listener)
		d.handlers[objectID] = m
	}
	m[opcode] = fn
}

func (d *Display) forget(objectID uint32) {
	delete(d.handlers, objectID)
}

func (d *Display) handleError(body []byte) {
	dec := &decoder{buf: body}
	objectID, _ := dec.uint32()
	code, _ := dec.uint32()
	msg, _ := dec.string()
	d.lastErr = errors.Errorf("wayland protocol error: object %d code %d: %s", objectID, code, msg)
}

func (d *Display) handleDeleteID(body []byte) {
	dec := &decoder{buf: body}
	id, _ := dec.uint32()
	d.forget(id)
}

// DispatchOne reads and dispatches a single message. It blocks until one is
// available; callers multiplex with unix.Poll on Fd() before calling this.
func (d *Display) DispatchOne() error {
	msg, err := d.conn.ReadMessage()
	if err != nil {
		return err
	}
	if handlers, ok := d.handlers[msg.objectID]; ok {
		if fn, ok := handlers[msg.opcode]; ok {
			fn(msg.body)
		}
	}
	if d.lastErr != nil {
		err := d.lastErr
		d.lastErr = nil
		return err
	}
	return nil
}

// Roundtrip sends wl_display.sync and blocks until the compositor has
// processed every request sent before it, delivering any events queued
// along the way.
func (d *Display) Roundtrip() error {
	cbID := d.allocID()
	done := make(chan struct{})
	d.on(cbID, 0, func(body []byte) {
		close(done)
		d.forget(cbID)
	})

	e := &encoder{}
	e.putUint32(cbID)
	if err := d.conn.send(displayID, 0 /* sync */, e.buf); err != nil {
		return err
	}

	for {
		select {
		case <-done:
			return nil
		default:
		}
		if err := d.DispatchOne(); err != nil {
			return err
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
}
