// Package marshal converts between typed host values and goja values.
package marshal

import (
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
)

// Objects maps host handles to script objects and back. The bridge
// implements it.
type Objects interface {
	Wrap(h host.Handle) goja.Value
	Unwrap(v goja.Value) (host.Handle, bool)
}

// ConversionError describes a value that could not be converted to a kind.
type ConversionError struct {
	Kind  host.Kind
	Value string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("marshal: cannot convert %s to %s", e.Value, e.Kind)
}

// Converter converts values for one runtime.
type Converter struct {
	vm      *goja.Runtime
	objects Objects
}

// New creates a converter. objects may be nil when no object values flow.
func New(vm *goja.Runtime, objects Objects) *Converter {
	return &Converter{vm: vm, objects: objects}
}

type numeric struct {
	toFloat   func(any) (float64, bool)
	fromFloat func(float64) (any, bool)
	integer   bool
}

func floatOf[T int32 | uint32 | int64 | uint64 | float32 | float64](v any) (float64, bool) {
	t, ok := v.(T)
	return float64(t), ok
}

// signedFrom and unsignedFrom truncate toward zero like a C cast and reject
// values outside [lo, hi).
func signedFrom[T int32 | int64](lo, hi float64) func(float64) (any, bool) {
	return func(f float64) (any, bool) {
		f = math.Trunc(f)
		if f < lo || f >= hi {
			return nil, false
		}
		return T(f), true
	}
}

func unsignedFrom[T uint32 | uint64](hi float64) func(float64) (any, bool) {
	return func(f float64) (any, bool) {
		f = math.Trunc(f)
		if f < 0 || f >= hi {
			return nil, false
		}
		return T(f), true
	}
}

var (
	fromInt32  = signedFrom[int32](math.MinInt32, 1<<31)
	fromInt64  = signedFrom[int64](math.MinInt64, 1<<63)
	fromUint32 = unsignedFrom[uint32](1 << 32)
	fromUint64 = unsignedFrom[uint64](1 << 64)
)

// numericKinds drives every numeric conversion; all of them collapse to a
// double-precision script number.
var numericKinds = map[host.Kind]numeric{
	host.KindInt:    {toFloat: floatOf[int32], fromFloat: fromInt32, integer: true},
	host.KindEnum:   {toFloat: floatOf[int32], fromFloat: fromInt32, integer: true},
	host.KindUint:   {toFloat: floatOf[uint32], fromFloat: fromUint32, integer: true},
	host.KindFlags:  {toFloat: floatOf[uint32], fromFloat: fromUint32, integer: true},
	host.KindLong:   {toFloat: floatOf[int64], fromFloat: fromInt64, integer: true},
	host.KindInt64:  {toFloat: floatOf[int64], fromFloat: fromInt64, integer: true},
	host.KindUlong:  {toFloat: floatOf[uint64], fromFloat: fromUint64, integer: true},
	host.KindUint64: {toFloat: floatOf[uint64], fromFloat: fromUint64, integer: true},
	// Float is single precision: numbers like 0.1 come back as the nearest
	// float32, not the original double.
	host.KindFloat: {
		toFloat:   floatOf[float32],
		fromFloat: func(f float64) (any, bool) { return float32(f), true },
	},
	host.KindDouble: {
		toFloat:   floatOf[float64],
		fromFloat: func(f float64) (any, bool) { return f, true },
	},
}

// ToScript converts a host value. Unconvertible kinds become undefined and
// a missing object becomes null.
func (c *Converter) ToScript(v host.Value) goja.Value {
	if n, ok := numericKinds[v.Kind]; ok {
		f, ok := n.toFloat(v.V)
		if !ok {
			return goja.Undefined()
		}
		if n.integer && f >= -(1<<53) && f <= 1<<53 {
			return c.vm.ToValue(int64(f))
		}
		return c.vm.ToValue(f)
	}

	switch v.Kind {
	case host.KindNone:
		return goja.Null()
	case host.KindBool:
		if b, ok := v.V.(bool); ok {
			return c.vm.ToValue(b)
		}
	case host.KindString:
		if s, ok := v.V.(string); ok {
			return c.vm.ToValue(s)
		}
	case host.KindObject:
		h := v.Handle()
		if h == nil || c.objects == nil {
			return goja.Null()
		}
		return c.objects.Wrap(h)
	}
	return goja.Undefined()
}

// Args converts an argument list positionally.
func (c *Converter) Args(args []host.Value) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = c.ToScript(a)
	}
	return out
}

// ToNative converts a script value to the given kind. The second result is
// false when the value has no representation in that kind.
func (c *Converter) ToNative(v goja.Value, kind host.Kind) (host.Value, bool) {
	if n, ok := numericKinds[kind]; ok {
		f, ok := number(v)
		if !ok {
			return host.Value{}, false
		}
		out, ok := n.fromFloat(f)
		if !ok {
			return host.Value{}, false
		}
		return host.Value{Kind: kind, V: out}, true
	}

	switch kind {
	case host.KindNone:
		return host.Value{Kind: host.KindNone}, true
	case host.KindBool:
		if b, ok := exported(v).(bool); ok {
			return host.Bool(b), true
		}
	case host.KindString:
		if s, ok := exported(v).(string); ok {
			return host.String(s), true
		}
	case host.KindObject:
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return host.Value{Kind: host.KindObject}, true
		}
		if c.objects == nil {
			return host.Value{}, false
		}
		if h, ok := c.objects.Unwrap(v); ok {
			return host.ObjectValue(h), true
		}
	}
	return host.Value{}, false
}

// mustToNative is ToNative with a diagnostic error.
func (c *Converter) mustToNative(v goja.Value, kind host.Kind) (host.Value, error) {
	out, ok := c.ToNative(v, kind)
	if !ok {
		desc := "undefined"
		if v != nil {
			desc = v.String()
		}
		return host.Value{}, &ConversionError{Kind: kind, Value: desc}
	}
	return out, nil
}

func exported(v goja.Value) any {
	if v == nil {
		return nil
	}
	return v.Export()
}

func number(v goja.Value) (float64, bool) {
	switch n := exported(v).(type) {
	case int64:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
