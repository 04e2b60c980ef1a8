package engine

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/deferred"
)

// deferredClass is the script Deferred constructor of one Context. Script
// objects carry their *deferred.Deferred under a private symbol.
type deferredClass struct {
	c     *Context
	ctor  *goja.Object
	proto *goja.Object
	key   *goja.Symbol
}

func newDeferredClass(c *Context) (*deferredClass, error) {
	dc := &deferredClass{c: c, key: goja.NewSymbol("deferred")}

	dc.ctor = c.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		dc.attach(call.This, deferred.New())
		return nil
	}).ToObject(c.vm)
	dc.proto = dc.ctor.Get("prototype").ToObject(c.vm)

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"then":    dc.then,
		"done":    dc.one(func(d *deferred.Deferred, cb deferred.Callback) *deferred.Deferred { return d.Done(cb) }),
		"fail":    dc.one(func(d *deferred.Deferred, cb deferred.Callback) *deferred.Deferred { return d.Fail(cb) }),
		"always":  dc.one(func(d *deferred.Deferred, cb deferred.Callback) *deferred.Deferred { return d.Always(cb) }),
		"resolve": dc.settle(true),
		"reject":  dc.settle(false),
	}
	for name, fn := range methods {
		if err := dc.proto.DefineDataProperty(name, c.vm.ToValue(fn), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return nil, err
		}
	}
	isFulfilled := c.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		d, ok := dc.native(call.This)
		return c.vm.ToValue(ok && d.IsFulfilled())
	})
	if err := dc.proto.DefineAccessorProperty("isFulfilled", isFulfilled, nil, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return nil, err
	}
	if err := dc.ctor.DefineDataProperty("when", c.vm.ToValue(dc.when), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return nil, err
	}
	if err := c.vm.Set("Deferred", dc.ctor); err != nil {
		return nil, err
	}
	return dc, nil
}

func (dc *deferredClass) attach(obj *goja.Object, d *deferred.Deferred) {
	_ = obj.DefineDataPropertySymbol(dc.key, dc.c.vm.ToValue(d), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

// wrap returns a new script Deferred backed by d.
func (dc *deferredClass) wrap(d *deferred.Deferred) *goja.Object {
	obj := dc.c.vm.CreateObject(dc.proto)
	dc.attach(obj, d)
	return obj
}

// native returns the Deferred behind a script value.
func (dc *deferredClass) native(v goja.Value) (*deferred.Deferred, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil, false
	}
	inner := obj.GetSymbol(dc.key)
	if inner == nil {
		return nil, false
	}
	d, ok := inner.Export().(*deferred.Deferred)
	return d, ok
}

// callback adapts a script function to a deferred.Callback. The function is
// called with this set to the Deferred it was registered on. A returned
// script Deferred is unwrapped so the successor follows it; undefined and
// null mean "pass the arguments through".
func (dc *deferredClass) callback(v, this goja.Value) deferred.Callback {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	c := dc.c
	return func(args []any) any {
		ret, ok := c.call("Deferred", fn, this, dc.values(args)...)
		if !ok || ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
			return nil
		}
		if d, isDeferred := dc.native(ret); isDeferred {
			return d
		}
		return ret
	}
}

func (dc *deferredClass) values(args []any) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		if v, ok := a.(goja.Value); ok {
			out[i] = v
		} else {
			out[i] = dc.c.vm.ToValue(a)
		}
	}
	return out
}

func (dc *deferredClass) then(call goja.FunctionCall) goja.Value {
	d, ok := dc.native(call.This)
	if !ok {
		return goja.Undefined()
	}
	return dc.wrap(d.Then(dc.callback(call.Argument(0), call.This), dc.callback(call.Argument(1), call.This)))
}

func (dc *deferredClass) one(register func(*deferred.Deferred, deferred.Callback) *deferred.Deferred) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		d, ok := dc.native(call.This)
		if !ok {
			return goja.Undefined()
		}
		return dc.wrap(register(d, dc.callback(call.Argument(0), call.This)))
	}
}

func (dc *deferredClass) settle(resolve bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		d, ok := dc.native(call.This)
		if !ok {
			return goja.Undefined()
		}
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a
		}
		if resolve {
			d.Resolve(args...)
		} else {
			d.Reject(args...)
		}
		return goja.Undefined()
	}
}

// when(value, callback, errback) chains onto value when it is a Deferred and
// calls callback with value otherwise.
func (dc *deferredClass) when(call goja.FunctionCall) goja.Value {
	value := call.Argument(0)
	if d, ok := dc.native(value); ok {
		return dc.wrap(d.Then(dc.callback(call.Argument(1), value), dc.callback(call.Argument(2), value)))
	}
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		return goja.Undefined()
	}
	ret, ok := dc.c.call("Deferred.when", fn, goja.Undefined(), value)
	if !ok {
		return goja.Undefined()
	}
	return ret
}

func (c *Context) newDeferred() (*deferred.Deferred, *goja.Object) {
	d := deferred.New()
	return d, c.deferreds.wrap(d)
}
