package bridge

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
)

// Family decides how an emission reaches a script callback.
type Family int

const (
	// FamilyGeneral callbacks receive the marshaled signal arguments with
	// the connecting wrapper as receiver. Returning true stops emission.
	FamilyGeneral Family = iota
	// FamilyProperty callbacks receive no arguments, the emitting object as
	// receiver, and run with their own handler blocked.
	FamilyProperty
)

func (f Family) String() string {
	if f == FamilyProperty {
		return "property"
	}
	return "general"
}

// Subscription is one script callback connected to a host signal. Its ID
// is the host handler id.
type Subscription struct {
	ID     host.HandlerID
	Handle host.HandleID
	Event  string
	Family Family
	Kinds  []host.Kind

	callback goja.Callable
	this     *Wrapper
	blocked  bool
}

// Connect attaches callback to the named signal of w's handle. The family
// comes from the host signal registry. With blocked set, the handler is
// blocked while the callback runs regardless of family.
func (b *Bridge) Connect(w *Wrapper, event string, callback goja.Callable, after, blocked bool) (host.HandlerID, bool) {
	h, ok := w.Handle()
	if !ok || callback == nil {
		return 0, false
	}
	spec, ok := h.LookupSignal(event)
	if !ok {
		return 0, false
	}

	s := &Subscription{
		Handle:   w.id,
		Event:    event,
		Family:   FamilyGeneral,
		Kinds:    spec.Params,
		callback: callback,
		this:     w,
		blocked:  blocked,
	}
	if spec.IsNotify() {
		s.Family = FamilyProperty
	}

	s.ID = h.Connect(event, func(e *host.Emission) bool { return b.deliver(s, e) }, after)
	if s.ID == 0 {
		return 0, false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		h.Disconnect(s.ID)
		return 0, false
	}
	b.subs[s.ID] = s
	b.mu.Unlock()

	b.metrics.Subscriptions.Inc()
	b.logger.Debug("connected",
		zap.String("event", event),
		zap.Stringer("family", s.Family),
		zap.Uint64("handler", uint64(s.ID)))
	return s.ID, true
}

// subscription returns a live subscription owned by w.
func (b *Bridge) subscription(w *Wrapper, id host.HandlerID) (*Subscription, host.Handle, bool) {
	b.mu.Lock()
	s, ok := b.subs[id]
	b.mu.Unlock()
	if !ok || s.Handle != w.id {
		return nil, nil, false
	}
	h, ok := w.Handle()
	if !ok {
		return nil, nil, false
	}
	return s, h, true
}

// Disconnect removes a subscription made on w.
func (b *Bridge) Disconnect(w *Wrapper, id host.HandlerID) bool {
	s, h, ok := b.subscription(w, id)
	if !ok {
		return false
	}
	b.mu.Lock()
	delete(b.subs, s.ID)
	b.mu.Unlock()
	b.metrics.Subscriptions.Dec()
	return h.Disconnect(s.ID)
}

// Block suppresses delivery to a subscription until Unblock.
func (b *Bridge) Block(w *Wrapper, id host.HandlerID) bool {
	s, h, ok := b.subscription(w, id)
	return ok && h.Block(s.ID)
}

func (b *Bridge) Unblock(w *Wrapper, id host.HandlerID) bool {
	s, h, ok := b.subscription(w, id)
	return ok && h.Unblock(s.ID)
}

// Subscriptions reports the number of live subscriptions.
func (b *Bridge) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// deliver is the host handler of every subscription. A dropped dispatch
// behaves like a callback that returned nothing.
func (b *Bridge) deliver(s *Subscription, e *host.Emission) bool {
	stop := false
	b.dispatch(func() {
		if s.blocked || s.Family == FamilyProperty {
			e.Instance.Block(s.ID)
			defer e.Instance.Unblock(s.ID)
		}

		if s.Family == FamilyProperty {
			b.invoke(s, b.Wrap(e.Instance))
			return
		}
		ret := b.invoke(s, s.this.obj, b.conv.Args(e.Args)...)
		if ret != nil {
			stop, _ = ret.Export().(bool)
		}
	})
	return stop
}

func (b *Bridge) invoke(s *Subscription, this goja.Value, args ...goja.Value) goja.Value {
	ret, err := s.callback(this, args...)
	if err != nil {
		b.scriptError(s.Event, err)
		return nil
	}
	return ret
}
