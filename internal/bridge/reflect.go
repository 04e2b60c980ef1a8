package bridge

import (
	"slices"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
)

// Wrapper is the script-side face of one host handle. It holds the handle
// id, never the handle itself, and answers property access by reflecting on
// the host property registry.
type Wrapper struct {
	bridge   *Bridge
	id       host.HandleID
	category Category
	obj      *goja.Object
	valid    atomic.Bool

	// expando holds keys scripts set that are not native properties.
	expando map[string]goja.Value
	order   []string
}

var _ goja.DynamicObject = (*Wrapper)(nil)

func (w *Wrapper) ID() host.HandleID { return w.id }
func (w *Wrapper) Category() Category { return w.category }
func (w *Wrapper) Object() *goja.Object { return w.obj }
func (w *Wrapper) Valid() bool { return w.valid.Load() }
func (w *Wrapper) invalidate() { w.valid.Store(false) }

// Handle resolves the wrapped handle. It fails once the handle has been
// destroyed.
func (w *Wrapper) Handle() (host.Handle, bool) {
	if !w.valid.Load() {
		return nil, false
	}
	h, ok := w.bridge.host.Lookup(w.id)
	if !ok || !h.Alive() {
		return nil, false
	}
	return h, true
}

func (w *Wrapper) property(key string) (host.Handle, host.PropertySpec, bool) {
	if key == "" {
		return nil, host.PropertySpec{}, false
	}
	h, ok := w.Handle()
	if !ok {
		return nil, host.PropertySpec{}, false
	}
	spec, ok := h.FindProperty(Uncamelize(key))
	return h, spec, ok
}

// Get returns a readable native property or an expando value. nil lets the
// lookup continue on the prototype.
func (w *Wrapper) Get(key string) goja.Value {
	if v, ok := w.expando[key]; ok {
		return v
	}
	h, spec, ok := w.property(key)
	if !ok || !spec.Readable() {
		return nil
	}
	v, ok := h.Get(spec.Name)
	if !ok {
		return nil
	}
	return w.bridge.conv.ToScript(v)
}

// Set writes a writable native property. Read-only properties and values
// that do not convert are ignored; other keys land in the expando map.
func (w *Wrapper) Set(key string, val goja.Value) bool {
	if h, spec, ok := w.property(key); ok {
		if !spec.Writable() {
			return true
		}
		if v, ok := w.bridge.conv.ToNative(val, spec.Kind); ok {
			h.Set(spec.Name, v)
		}
		return true
	}
	if w.expando == nil {
		w.expando = make(map[string]goja.Value)
	}
	if _, ok := w.expando[key]; !ok {
		w.order = append(w.order, key)
	}
	w.expando[key] = val
	return true
}

func (w *Wrapper) Has(key string) bool {
	if _, ok := w.expando[key]; ok {
		return true
	}
	_, _, ok := w.property(key)
	return ok
}

// Delete removes an expando key. Native properties cannot be deleted.
func (w *Wrapper) Delete(key string) bool {
	if _, ok := w.expando[key]; !ok {
		return true
	}
	delete(w.expando, key)
	w.order = slices.DeleteFunc(w.order, func(k string) bool { return k == key })
	return true
}

// Keys lists readable native properties in script naming, then expando keys.
func (w *Wrapper) Keys() []string {
	var keys []string
	if h, ok := w.Handle(); ok {
		for _, p := range h.Properties() {
			if p.Readable() {
				keys = append(keys, Camelize(p.Name))
			}
		}
	}
	return append(keys, w.order...)
}
