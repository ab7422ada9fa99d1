package wl

// Global is one entry of the registry's global list: a name (the
// per-connection handle used to bind it), its interface string, and the
// highest version the compositor advertises.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalHandler is invoked once per matching global as it is announced.
// Handlers registered before the initial roundtrip (see NewDisplay) see
// every global that exists at connection time.
type GlobalHandler func(g Global)

// Registry tracks the compositor's global list and lets callers bind
// interfaces by name.
type Registry struct {
	d        *Display
	id       uint32
	globals  map[uint32]Global
	handlers map[string][]GlobalHandler
}

func newRegistry(d *Display, id uint32) *Registry {
	r := &Registry{
		d:        d,
		id:       id,
		globals:  make(map[uint32]Global),
		handlers: make(map[string][]GlobalHandler),
	}
	d.on(id, 0, r.handleGlobal)
	d.on(id, 1, r.handleGlobalRemove)
	return r
}

func (r *Registry) handleGlobal(body []byte) {
	dec := &decoder{buf: body}
	name, _ := dec.uint32()
	iface, _ := dec.string()
	version, _ := dec.uint32()
	g := Global{Name: name, Interface: iface, Version: version}
	r.globals[name] = g
	for _, h := range r.handlers[iface] {
		h(g)
	}
}

func (r *Registry) handleGlobalRemove(body []byte) {
	dec := &decoder{buf: body}
	name, _ := dec.uint32()
	delete(r.globals, name)
}

// OnGlobal registers a callback for every global of the given interface,
// including ones already announced.
func (r *Registry) OnGlobal(iface string, h GlobalHandler) {
	r.handlers[iface] = append(r.handlers[iface], h)
	for _, g := range r.globals {
		if g.Interface == iface {
			h(g)
		}
	}
}

// Find returns an announced global implementing iface. Globals are kept in
// a map, so when several implement iface, which one is returned is not
// defined.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// FindAll returns every announced global implementing iface.
func (r *Registry) FindAll(iface string) []Global {
	var out []Global
	for _, g := range r.globals {
		if g.Interface == iface {
			out = append(out, g)
		}
	}
	return out
}

// bind issues registry.bind for name/iface at the given version, returning
// the newly allocated object id.
func (r *Registry) bind(g Global) uint32 {
	id := r.d.allocID()
	e := &encoder{}
	e.putUint32(g.Name)
	e.putString(g.Interface)
	e.putUint32(g.Version)
	e.putUint32(id)
	r.d.conn.send(r.id, 0 /* bind */, e.buf)
	return id
}
