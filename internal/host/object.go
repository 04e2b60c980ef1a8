package host

import (
	"sync"
)

// HandleID identifies a live object inside one registry.
type HandleID uint64

// HandlerID identifies a connected signal handler. Zero means "not connected".
type HandlerID uint64

// HandlerFunc receives an emission. Returning true stops emission for
// signals flagged SignalBoolReturn.
type HandlerFunc func(e *Emission) bool

// Emission is a single signal delivery.
type Emission struct {
	Instance Handle
	Signal   SignalSpec
	Detail   string
	Args     []Value
}

// Handle is the capability surface the bridge consumes. It never exposes the
// concrete object type.
type Handle interface {
	ID() HandleID
	TypeName() string
	IsA(typeName string) bool
	Alive() bool

	FindProperty(name string) (PropertySpec, bool)
	Properties() []PropertySpec
	Get(name string) (Value, bool)
	Set(name string, v Value) bool

	LookupSignal(name string) (SignalSpec, bool)
	Connect(name string, fn HandlerFunc, after bool) HandlerID
	Disconnect(id HandlerID) bool
	Block(id HandlerID) bool
	Unblock(id HandlerID) bool
	Emit(name string, args ...Value) bool

	WeakRef(fn func()) (cancel func())
	Destroy()
}

type handler struct {
	id      HandlerID
	signal  string
	detail  string
	fn      HandlerFunc
	after   bool
	blocked int
	removed bool
}

type weakRef struct {
	fn func()
}

// Object is a reference-counted instance of a Class.
type Object struct {
	id       HandleID
	class    *Class
	registry *Registry

	mu        sync.Mutex
	refs      int
	values    map[string]Value
	handlers  []*handler
	weak      []*weakRef
	disposing bool
}

var _ Handle = (*Object)(nil)

func (o *Object) ID() HandleID { return o.id }
func (o *Object) TypeName() string { return o.class.Name }
func (o *Object) Class() *Class { return o.class }
func (o *Object) IsA(name string) bool { return o.class.IsA(name) }

// Alive reports whether the object has not started disposal.
func (o *Object) Alive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.disposing
}

// Ref adds a reference.
func (o *Object) Ref() *Object {
	o.mu.Lock()
	o.refs++
	o.mu.Unlock()
	return o
}

// Unref drops a reference and destroys the object at zero.
func (o *Object) Unref() {
	o.mu.Lock()
	o.refs--
	last := o.refs <= 0
	o.mu.Unlock()
	if last {
		o.Destroy()
	}
}

// RefCount returns the current reference count.
func (o *Object) RefCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refs
}

func (o *Object) FindProperty(name string) (PropertySpec, bool) {
	return o.class.FindProperty(name)
}

func (o *Object) Properties() []PropertySpec {
	return o.class.Properties()
}

// Get reads a readable property.
func (o *Object) Get(name string) (Value, bool) {
	spec, ok := o.class.FindProperty(name)
	if !ok || !spec.Readable() {
		return Value{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposing {
		return Value{}, false
	}
	v, ok := o.values[name]
	if !ok {
		return spec.Default, true
	}
	return v, true
}

// Set writes a writable property and emits its change notifications.
func (o *Object) Set(name string, v Value) bool {
	spec, ok := o.class.FindProperty(name)
	if !ok || !spec.Writable() {
		return false
	}
	return o.store(spec, v)
}

// SetInternal writes any property, read-only ones included. It is how the
// object's owner updates state such as progress or load status.
func (o *Object) SetInternal(name string, v Value) bool {
	spec, ok := o.class.FindProperty(name)
	if !ok {
		return false
	}
	return o.store(spec, v)
}

func (o *Object) store(spec PropertySpec, v Value) bool {
	if v.Kind != spec.Kind || !v.Valid() {
		return false
	}
	o.mu.Lock()
	if o.disposing {
		o.mu.Unlock()
		return false
	}
	o.values[spec.Name] = v
	o.mu.Unlock()

	o.notify(spec.Name)
	return true
}

// notify emits "notify::<name>" and every other notify-flagged signal of the
// class.
func (o *Object) notify(name string) {
	for _, s := range o.class.Signals() {
		if !s.IsNotify() {
			continue
		}
		detail := ""
		if s.Name == "notify" {
			detail = name
		}
		o.emit(s, detail, nil)
	}
}

// LookupSignal resolves name, including "signal::detail" forms.
func (o *Object) LookupSignal(name string) (SignalSpec, bool) {
	s, _, ok := o.class.FindSignal(name)
	return s, ok
}

// Connect attaches fn to the named signal. It returns 0 when the signal is
// unknown or the object is being destroyed.
func (o *Object) Connect(name string, fn HandlerFunc, after bool) HandlerID {
	spec, detail, ok := o.class.FindSignal(name)
	if !ok || fn == nil {
		return 0
	}
	id := o.registry.nextHandlerID()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposing {
		return 0
	}
	h := &handler{
		id:     id,
		signal: spec.Name,
		detail: detail,
		fn:     fn,
		after:  after,
	}
	o.handlers = append(o.handlers, h)
	return h.id
}

func (o *Object) findHandler(id HandlerID) *handler {
	for _, h := range o.handlers {
		if h.id == id {
			return h
		}
	}
	return nil
}

// Disconnect removes a handler.
func (o *Object) Disconnect(id HandlerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, h := range o.handlers {
		if h.id == id {
			h.removed = true
			o.handlers = append(o.handlers[:i:i], o.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// IsConnected reports whether id is still attached.
func (o *Object) IsConnected(id HandlerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.findHandler(id) != nil
}

// Block suppresses a handler until a matching Unblock. Blocks nest.
func (o *Object) Block(id HandlerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.findHandler(id)
	if h == nil {
		return false
	}
	h.blocked++
	return true
}

func (o *Object) Unblock(id HandlerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.findHandler(id)
	if h == nil || h.blocked == 0 {
		return false
	}
	h.blocked--
	return true
}

// Emit emits a signal by name. Args are checked against the declared
// parameter kinds; a mismatch drops the emission.
func (o *Object) Emit(name string, args ...Value) bool {
	spec, detail, ok := o.class.FindSignal(name)
	if !ok || len(args) != len(spec.Params) {
		return false
	}
	for i, k := range spec.Params {
		if args[i].Kind != k {
			return false
		}
	}
	return o.emit(spec, detail, args)
}

// emit runs normal handlers, the class default, then after handlers.
func (o *Object) emit(spec SignalSpec, detail string, args []Value) bool {
	o.mu.Lock()
	if o.disposing {
		o.mu.Unlock()
		return false
	}
	var before, after []*handler
	for _, h := range o.handlers {
		if h.signal != spec.Name {
			continue
		}
		if h.detail != "" && h.detail != detail {
			continue
		}
		if h.after {
			after = append(after, h)
		} else {
			before = append(before, h)
		}
	}
	o.mu.Unlock()

	e := &Emission{Instance: o, Signal: spec, Detail: detail, Args: args}
	stopOnTrue := spec.Flags&SignalBoolReturn != 0

	if o.run(before, e) && stopOnTrue {
		return true
	}
	if spec.Default != nil && spec.Default(o, e) && stopOnTrue {
		return true
	}
	return o.run(after, e) && stopOnTrue
}

func (o *Object) run(handlers []*handler, e *Emission) bool {
	for _, h := range handlers {
		o.mu.Lock()
		skip := h.removed || h.blocked > 0 || o.disposing
		o.mu.Unlock()
		if skip {
			continue
		}
		if h.fn(e) && e.Signal.Flags&SignalBoolReturn != 0 {
			return true
		}
	}
	return false
}

// WeakRef registers fn to run when the object is destroyed. The returned
// function cancels the registration.
func (o *Object) WeakRef(fn func()) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposing {
		return func() {}
	}
	ref := &weakRef{fn: fn}
	o.weak = append(o.weak, ref)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, w := range o.weak {
			if w == ref {
				o.weak = append(o.weak[:i:i], o.weak[i+1:]...)
				return
			}
		}
	}
}

// Destroy disposes the object regardless of its reference count: weak
// notifies run first, then handlers are dropped and the registry forgets it.
func (o *Object) Destroy() {
	o.mu.Lock()
	if o.disposing {
		o.mu.Unlock()
		return
	}
	o.disposing = true
	weak := o.weak
	o.weak = nil
	o.mu.Unlock()

	for _, w := range weak {
		w.fn()
	}

	o.mu.Lock()
	for _, h := range o.handlers {
		h.removed = true
	}
	o.handlers = nil
	o.values = nil
	o.refs = 0
	o.mu.Unlock()

	o.registry.forget(o.id)
}
