package host

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownClass    = errors.New("host: unknown class")
	ErrUnknownProperty = errors.New("host: unknown property")
	ErrPropertyKind    = errors.New("host: property kind mismatch")
)

// Registry owns classes, live objects and named roots.
type Registry struct {
	mu          sync.RWMutex
	classes     map[string]*Class
	objects     map[HandleID]*Object
	roots       map[string]*Object
	nextID      HandleID
	nextHandler HandlerID
}

// NewRegistry creates a registry preloaded with the standard classes.
func NewRegistry() *Registry {
	r := &Registry{
		classes: make(map[string]*Class),
		objects: make(map[HandleID]*Object),
		roots:   make(map[string]*Object),
	}
	for _, c := range StandardClasses() {
		r.RegisterClass(c)
	}
	return r
}

// RegisterClass adds or replaces a class by name.
func (r *Registry) RegisterClass(c *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[c.Name] = c
}

// Class returns a registered class.
func (r *Registry) Class(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// New instantiates a class with one reference. props are applied without
// notifications, so construction never emits.
func (r *Registry) New(className string, props map[string]Value) (*Object, error) {
	class, ok := r.Class(className)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	values := make(map[string]Value, len(props))
	for name, v := range props {
		spec, ok := class.FindProperty(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, className, name)
		}
		if v.Kind != spec.Kind || !v.Valid() {
			return nil, fmt.Errorf("%w: %s.%s wants %s, got %s", ErrPropertyKind, className, name, spec.Kind, v.Kind)
		}
		values[name] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o := &Object{
		id:       r.nextID,
		class:    class,
		registry: r,
		refs:     1,
		values:   values,
	}
	r.objects[o.id] = o
	return o, nil
}

// MustNew is New for fixed class tables; it panics on error.
func (r *Registry) MustNew(className string, props map[string]Value) *Object {
	o, err := r.New(className, props)
	if err != nil {
		panic(err)
	}
	return o
}

// Lookup returns a live object by id.
func (r *Registry) Lookup(id HandleID) (Handle, bool) {
	r.mu.RLock()
	o, ok := r.objects[id]
	r.mu.RUnlock()
	if !ok || !o.Alive() {
		return nil, false
	}
	return o, true
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// SetRoot publishes a named root object. A nil object removes the root.
func (r *Registry) SetRoot(name string, o *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o == nil {
		delete(r.roots, name)
		return
	}
	r.roots[name] = o
}

// Roots returns the live named roots.
func (r *Registry) Roots() map[string]Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Handle, len(r.roots))
	for name, o := range r.roots {
		if o.Alive() {
			out[name] = o
		}
	}
	return out
}

// RootNames returns the root names in sorted order.
func (r *Registry) RootNames() []string {
	roots := r.Roots()
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) nextHandlerID() HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandler++
	return r.nextHandler
}

func (r *Registry) forget(id HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, id)
	for name, o := range r.roots {
		if o.id == id {
			delete(r.roots, name)
		}
	}
}
