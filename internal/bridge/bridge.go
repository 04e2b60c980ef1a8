// Package bridge exposes host objects to a goja runtime. Each live handle
// gets at most one script wrapper; wrappers reflect native properties,
// forward signals to script callbacks and go invalid when their handle is
// destroyed.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"weak"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
	"github.com/GriffinCanCode/scriptbridge/internal/marshal"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

var (
	ErrNoRuntime = errors.New("bridge: runtime is required")
	ErrNoHost    = errors.New("bridge: host is required")
)

// Host resolves handle ids to live handles. *host.Registry implements it.
type Host interface {
	Lookup(id host.HandleID) (host.Handle, bool)
}

// Options configures a Bridge.
type Options struct {
	Host    Host
	Logger  *zap.Logger
	Metrics *monitoring.Metrics

	// Dispatch runs fn inside the engine context that owns the runtime and
	// reports whether it ran. Nil runs fn directly.
	Dispatch func(fn func()) bool
}

type entry struct {
	category Category
	strong   *Wrapper
	weak     weak.Pointer[Wrapper]
	cancel   func()
}

func (e *entry) wrapper() *Wrapper {
	if e.strong != nil {
		return e.strong
	}
	return e.weak.Value()
}

func (e *entry) store(w *Wrapper) {
	if e.category.Policy() == Pinned {
		e.strong = w
		return
	}
	e.weak = weak.Make(w)
}

// Bridge owns the wrappers and subscriptions of one runtime.
type Bridge struct {
	vm       *goja.Runtime
	host     Host
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	dispatch func(fn func()) bool
	conv     *marshal.Converter

	protos map[Category]*goja.Object

	mu      sync.Mutex
	entries map[host.HandleID]*entry
	subs    map[host.HandlerID]*Subscription
	closed  bool
}

var _ marshal.Objects = (*Bridge)(nil)

// New creates a bridge and installs the category constructors as globals.
func New(vm *goja.Runtime, opts Options) (*Bridge, error) {
	if vm == nil {
		return nil, ErrNoRuntime
	}
	if opts.Host == nil {
		return nil, ErrNoHost
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) bool {
			fn()
			return true
		}
	}

	b := &Bridge{
		vm:       vm,
		host:     opts.Host,
		logger:   opts.Logger.Named("bridge"),
		metrics:  opts.Metrics,
		dispatch: opts.Dispatch,
		protos:   make(map[Category]*goja.Object),
		entries:  make(map[host.HandleID]*entry),
		subs:     make(map[host.HandlerID]*Subscription),
	}
	b.conv = marshal.New(vm, b)

	if err := b.install(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) install() error {
	for _, c := range order {
		info := categories[c]
		proto := b.vm.NewObject()
		if info.parent >= 0 {
			if err := proto.SetPrototype(b.protos[info.parent]); err != nil {
				return fmt.Errorf("failed to chain %s prototype: %w", info.constructor, err)
			}
		}

		fn, err := b.vm.RunString("(function " + info.constructor + "() { throw new TypeError('Illegal constructor'); })")
		if err != nil {
			return fmt.Errorf("failed to create %s constructor: %w", info.constructor, err)
		}
		ctor := fn.ToObject(b.vm)
		if err := ctor.Set("prototype", proto); err != nil {
			return err
		}
		if err := proto.DefineDataProperty("constructor", ctor, goja.FLAG_TRUE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return err
		}
		if err := b.installMethods(c, proto); err != nil {
			return fmt.Errorf("failed to install %s methods: %w", info.constructor, err)
		}

		b.protos[c] = proto
		if err := b.vm.Set(info.constructor, ctor); err != nil {
			return err
		}
	}
	return nil
}

// Wrap returns the script object for h, creating and caching it on first
// use. Destroyed or nil handles map to null.
func (b *Bridge) Wrap(h host.Handle) goja.Value {
	if h == nil || !h.Alive() {
		return goja.Null()
	}
	w := b.wrap(h)
	if w == nil {
		return goja.Null()
	}
	return w.obj
}

// WrapperOf returns the wrapper behind a script value.
func (b *Bridge) WrapperOf(v goja.Value) (*Wrapper, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil, false
	}
	w, ok := obj.Export().(*Wrapper)
	if !ok || w.bridge != b {
		return nil, false
	}
	return w, true
}

// Unwrap returns the handle behind a script value. It fails for foreign
// values and for wrappers whose handle has been destroyed.
func (b *Bridge) Unwrap(v goja.Value) (host.Handle, bool) {
	w, ok := b.WrapperOf(v)
	if !ok {
		return nil, false
	}
	return w.Handle()
}

func (b *Bridge) wrap(h host.Handle) *Wrapper {
	id := h.ID()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	e, ok := b.entries[id]
	if ok {
		if w := e.wrapper(); w != nil {
			return w
		}
	} else {
		e = &entry{category: Classify(h)}
		e.cancel = h.WeakRef(func() { b.handleDestroyed(id) })
		b.entries[id] = e
		b.metrics.Wrappers.WithLabelValues(e.category.Policy().String()).Inc()
	}

	w := &Wrapper{bridge: b, id: id, category: e.category}
	w.valid.Store(true)
	w.obj = b.vm.NewDynamicObject(w)
	if err := w.obj.SetPrototype(b.protos[e.category]); err != nil {
		b.logger.Warn("failed to set wrapper prototype", zap.String("category", e.category.String()), zap.Error(err))
	}
	e.store(w)
	return w
}

// handleDestroyed runs from the host weak notify. The wrapper goes invalid
// and every subscription on the handle is forgotten; the host drops its own
// handlers as part of destruction.
func (b *Bridge) handleDestroyed(id host.HandleID) {
	b.mu.Lock()
	e, ok := b.entries[id]
	delete(b.entries, id)
	dropped := 0
	for sid, s := range b.subs {
		if s.Handle == id {
			delete(b.subs, sid)
			dropped++
		}
	}
	b.mu.Unlock()

	b.metrics.Subscriptions.Sub(float64(dropped))
	if !ok {
		return
	}
	b.metrics.Wrappers.WithLabelValues(e.category.Policy().String()).Dec()
	if w := e.wrapper(); w != nil {
		w.invalidate()
	}
	b.logger.Debug("handle destroyed", zap.Uint64("handle", uint64(id)), zap.Int("subscriptions", dropped))
}

// Close sweeps every subscription, cancels the destruction notifies and
// invalidates all wrappers. The bridge wraps nothing afterwards.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	entries, subs := b.entries, b.subs
	b.entries = make(map[host.HandleID]*entry)
	b.subs = make(map[host.HandlerID]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		if h, ok := b.host.Lookup(s.Handle); ok {
			h.Disconnect(s.ID)
		}
	}
	b.metrics.Subscriptions.Sub(float64(len(subs)))

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
		if w := e.wrapper(); w != nil {
			w.invalidate()
		}
		b.metrics.Wrappers.WithLabelValues(e.category.Policy().String()).Dec()
	}
	b.logger.Debug("bridge closed", zap.Int("wrappers", len(entries)), zap.Int("subscriptions", len(subs)))
}

// Cached reports how many handles currently have a cache entry.
func (b *Bridge) Cached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// scriptError logs an exception raised by script code called from native
// code. The exception text carries the script location.
func (b *Bridge) scriptError(where string, err error) {
	b.metrics.ScriptErrors.Inc()
	b.logger.Warn("script callback failed", zap.String("callback", where), zap.Error(err))
}
