package marshal

import (
	"math"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptbridge/internal/host"
)

// tableObjects wraps handles into plain objects carrying their id.
type tableObjects struct {
	vm  *goja.Runtime
	reg *host.Registry
}

func (t *tableObjects) Wrap(h host.Handle) goja.Value {
	o := t.vm.NewObject()
	_ = o.Set("id", uint64(h.ID()))
	return o
}

func (t *tableObjects) Unwrap(v goja.Value) (host.Handle, bool) {
	o, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	id := o.Get("id")
	if id == nil {
		return nil, false
	}
	return t.reg.Lookup(host.HandleID(id.ToInteger()))
}

func newConverter(t *testing.T) (*Converter, *goja.Runtime, *host.Registry) {
	t.Helper()
	vm := goja.New()
	reg := host.NewRegistry()
	return New(vm, &tableObjects{vm: vm, reg: reg}), vm, reg
}

func TestNumericRoundTrip(t *testing.T) {
	c, _, _ := newConverter(t)

	tests := []struct {
		name  string
		value host.Value
	}{
		{"int", host.Int(-42)},
		{"int max", host.Int(math.MaxInt32)},
		{"uint", host.Uint(math.MaxUint32)},
		{"long", host.Long(-1 << 40)},
		{"ulong", host.Ulong(1 << 50)},
		{"int64", host.Int64(math.MinInt32)},
		{"uint64", host.Uint64(12345)},
		{"float", host.Float(1.5)},
		{"double", host.Double(-0.25)},
		{"enum", host.Enum(3)},
		{"flags", host.Flags(0x11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := c.ToScript(tt.value)
			back, ok := c.ToNative(js, tt.value.Kind)
			require.True(t, ok)
			assert.Equal(t, tt.value, back)
		})
	}
}

func TestFloatNarrows(t *testing.T) {
	c, vm, _ := newConverter(t)

	back, ok := c.ToNative(vm.ToValue(0.1), host.KindFloat)
	require.True(t, ok)
	assert.Equal(t, host.Float(0.1), back)

	// The script sees the float32 value widened, not the 0.1 it stored.
	js := c.ToScript(back)
	assert.NotEqual(t, 0.1, js.ToFloat())
	assert.InDelta(t, 0.1, js.ToFloat(), 1e-7)
}

func TestToNativeRejects(t *testing.T) {
	c, vm, _ := newConverter(t)

	tests := []struct {
		name string
		src  string
		kind host.Kind
	}{
		{"string as int", `"12"`, host.KindInt},
		{"negative as uint", `-1`, host.KindUint},
		{"overflow int", `4294967296`, host.KindInt},
		{"nan", `NaN`, host.KindDouble},
		{"number as bool", `1`, host.KindBool},
		{"number as string", `1`, host.KindString},
		{"plain object", `({})`, host.KindObject},
		{"boxed", `1`, host.KindBoxed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.RunString(tt.src)
			require.NoError(t, err)
			_, ok := c.ToNative(v, tt.kind)
			assert.False(t, ok)

			_, err = c.mustToNative(v, tt.kind)
			var convErr *ConversionError
			assert.ErrorAs(t, err, &convErr)
		})
	}
}

func TestToNativeTruncates(t *testing.T) {
	c, vm, _ := newConverter(t)

	v, err := vm.RunString(`-7.9`)
	require.NoError(t, err)
	out, ok := c.ToNative(v, host.KindInt)
	require.True(t, ok)
	assert.Equal(t, int32(-7), out.V)
}

func TestScalars(t *testing.T) {
	c, _, _ := newConverter(t)

	assert.Equal(t, true, c.ToScript(host.Bool(true)).Export())
	assert.Equal(t, "héllo", c.ToScript(host.String("héllo")).Export())
	assert.True(t, goja.IsNull(c.ToScript(host.Value{Kind: host.KindNone})))
	assert.True(t, goja.IsUndefined(c.ToScript(host.Value{Kind: host.KindBoxed, V: struct{}{}})))
	assert.True(t, goja.IsUndefined(c.ToScript(host.Value{Kind: host.KindPointer})))
	assert.True(t, goja.IsUndefined(c.ToScript(host.Value{Kind: host.KindInt, V: "wrong"})))

	b, ok := c.ToNative(c.ToScript(host.Bool(false)), host.KindBool)
	require.True(t, ok)
	assert.Equal(t, host.Bool(false), b)
}

func TestObjects(t *testing.T) {
	c, _, reg := newConverter(t)
	w := reg.MustNew("GtkWidget", nil)

	js := c.ToScript(host.ObjectValue(w))
	back, ok := c.ToNative(js, host.KindObject)
	require.True(t, ok)
	assert.Equal(t, w.ID(), back.Handle().ID())

	assert.True(t, goja.IsNull(c.ToScript(host.Value{Kind: host.KindObject})))
	none, ok := c.ToNative(goja.Null(), host.KindObject)
	require.True(t, ok)
	assert.Nil(t, none.Handle())

	w.Destroy()
	_, ok = c.ToNative(js, host.KindObject)
	assert.False(t, ok)
}

func TestArgs(t *testing.T) {
	c, _, _ := newConverter(t)
	args := c.Args([]host.Value{host.String("a"), host.Int(2), {Kind: host.KindBoxed}})
	require.Len(t, args, 3)
	assert.Equal(t, "a", args[0].Export())
	assert.Equal(t, int64(2), args[1].Export())
	assert.True(t, goja.IsUndefined(args[2]))
}
