package bridge

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
)

type method func(w *Wrapper, h host.Handle, call goja.FunctionCall) goja.Value

// installMethods puts the methods of category c on its prototype. Methods
// inherited through the prototype chain are installed once on the parent.
func (b *Bridge) installMethods(c Category, proto *goja.Object) error {
	var methods map[string]method
	switch c {
	case CategoryObject:
		methods = map[string]method{
			"disconnect":    b.jsDisconnect,
			"blockSignal":   b.jsBlock(true),
			"unblockSignal": b.jsBlock(false),
		}
		for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
			"connect":        b.jsConnect(false, false),
			"connectBlocked": b.jsConnect(false, true),
			"notify":         b.jsConnect(true, false),
			"notifyBlocked":  b.jsConnect(true, true),
		} {
			if err := proto.Set(name, fn); err != nil {
				return err
			}
		}
	case CategoryPageView:
		methods = map[string]method{
			"loadUri": func(w *Wrapper, h host.Handle, call goja.FunctionCall) goja.Value {
				h.Emit("load-uri", host.String(call.Argument(0).String()))
				return goja.Undefined()
			},
			"reload":      b.action("reload"),
			"stopLoading": b.action("stop-loading"),
			"goBack":      b.action("go-back"),
			"goForward":   b.action("go-forward"),
		}
	case CategoryDownload:
		methods = map[string]method{
			"start":  b.action("start"),
			"cancel": b.action("cancel"),
		}
	case CategoryWidget:
		methods = map[string]method{
			"show": b.action("show"),
			"hide": b.action("hide"),
			"destroy": func(w *Wrapper, h host.Handle, call goja.FunctionCall) goja.Value {
				h.Destroy()
				return goja.Undefined()
			},
		}
	}

	for name, m := range methods {
		if err := proto.Set(name, b.bind(m)); err != nil {
			return err
		}
	}
	return nil
}

// bind resolves the receiver before m runs. Calls on foreign receivers or
// destroyed handles return undefined.
func (b *Bridge) bind(m method) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		w, ok := b.WrapperOf(call.This)
		if !ok {
			return goja.Undefined()
		}
		h, ok := w.Handle()
		if !ok {
			return goja.Undefined()
		}
		return m(w, h, call)
	}
}

func (b *Bridge) action(signal string) method {
	return func(w *Wrapper, h host.Handle, call goja.FunctionCall) goja.Value {
		h.Emit(signal)
		return goja.Undefined()
	}
}

// jsConnect builds connect and its variants. They return the handler id,
// or 0 when nothing was connected. notify forms take a property name in
// script naming.
func (b *Bridge) jsConnect(notify, blocked bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		zero := b.vm.ToValue(0)
		w, ok := b.WrapperOf(call.This)
		if !ok {
			return zero
		}
		callback, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return zero
		}
		event := call.Argument(0).String()
		if notify {
			event = "notify::" + Uncamelize(event)
		}
		id, ok := b.Connect(w, event, callback, call.Argument(2).ToBoolean(), blocked)
		if !ok {
			return zero
		}
		return b.vm.ToValue(uint64(id))
	}
}

func handlerID(v goja.Value) (host.HandlerID, bool) {
	n := v.ToInteger()
	if n <= 0 {
		return 0, false
	}
	return host.HandlerID(n), true
}

func (b *Bridge) jsDisconnect(w *Wrapper, _ host.Handle, call goja.FunctionCall) goja.Value {
	id, ok := handlerID(call.Argument(0))
	return b.vm.ToValue(ok && b.Disconnect(w, id))
}

func (b *Bridge) jsBlock(block bool) method {
	return func(w *Wrapper, _ host.Handle, call goja.FunctionCall) goja.Value {
		id, ok := handlerID(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		if block {
			b.Block(w, id)
		} else {
			b.Unblock(w, id)
		}
		return goja.Undefined()
	}
}
