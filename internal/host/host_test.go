package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryNew(t *testing.T) {
	r := NewRegistry()

	w, err := r.New("GtkEntry", map[string]Value{"text": String("hello")})
	require.NoError(t, err)
	assert.True(t, w.IsA("GtkWidget"))
	assert.True(t, w.IsA("GObject"))
	assert.False(t, w.IsA("GtkMenu"))
	assert.Equal(t, "GtkEntry", w.TypeName())

	v, ok := w.Get("text")
	require.True(t, ok)
	assert.Equal(t, "hello", v.V)

	_, err = r.New("NoSuchClass", nil)
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = r.New("GtkEntry", map[string]Value{"bogus": Int(1)})
	assert.ErrorIs(t, err, ErrUnknownProperty)
	_, err = r.New("GtkEntry", map[string]Value{"text": Int(1)})
	assert.ErrorIs(t, err, ErrPropertyKind)
}

func TestPropertyAccess(t *testing.T) {
	r := NewRegistry()
	view, err := NewPageView(r)
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		v, ok := view.Get("zoom-level")
		require.True(t, ok)
		assert.Equal(t, float64(1), v.V)
	})

	t.Run("read only", func(t *testing.T) {
		assert.False(t, view.Set("uri", String("http://example.org")))
		assert.True(t, view.SetInternal("uri", String("http://example.org")))
		v, _ := view.Get("uri")
		assert.Equal(t, "http://example.org", v.V)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		assert.False(t, view.Set("zoom-level", Float(2)))
		assert.True(t, view.Set("zoom-level", Double(2)))
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := view.Get("no-such-property")
		assert.False(t, ok)
		assert.False(t, view.Set("no-such-property", Int(1)))
	})
}

func TestNotifyEmission(t *testing.T) {
	r := NewRegistry()
	entry := r.MustNew("GtkEntry", nil)

	var details []string
	var changed int
	entry.Connect("notify", func(e *Emission) bool {
		details = append(details, e.Detail)
		return false
	}, false)
	entry.Connect("notify::text", func(e *Emission) bool {
		assert.Equal(t, "text", e.Detail)
		return false
	}, false)
	entry.Connect("changed", func(*Emission) bool {
		changed++
		return false
	}, false)

	entry.Set("text", String("a"))
	entry.Set("max-length", Int(3))

	assert.Equal(t, []string{"text", "max-length"}, details)
	assert.Equal(t, 2, changed)
}

func TestEmissionOrderAndStop(t *testing.T) {
	r := NewRegistry()
	w := r.MustNew("GtkWidget", nil)

	var order []string
	w.Connect("show", func(*Emission) bool { order = append(order, "after"); return false }, true)
	w.Connect("show", func(e *Emission) bool {
		v, _ := e.Instance.Get("visible")
		order = append(order, "before")
		assert.Equal(t, true, v.V)
		return false
	}, false)

	w.Set("visible", Bool(true))
	assert.False(t, w.Emit("show"))
	assert.Equal(t, []string{"before", "after"}, order)

	var second bool
	w.Connect("button-press-event", func(*Emission) bool { return true }, false)
	w.Connect("button-press-event", func(*Emission) bool { second = true; return false }, false)
	assert.True(t, w.Emit("button-press-event", Value{Kind: KindBoxed}))
	assert.False(t, second)

	assert.False(t, w.Emit("button-press-event"), "arity mismatch drops the emission")
}

func TestBlockUnblock(t *testing.T) {
	r := NewRegistry()
	w := r.MustNew("GtkWidget", nil)

	calls := 0
	id := w.Connect("hide", func(*Emission) bool { calls++; return false }, false)
	require.NotZero(t, id)

	require.True(t, w.Block(id))
	w.Emit("hide")
	assert.Equal(t, 0, calls)

	require.True(t, w.Unblock(id))
	assert.False(t, w.Unblock(id))
	w.Emit("hide")
	assert.Equal(t, 1, calls)

	assert.True(t, w.Disconnect(id))
	assert.False(t, w.IsConnected(id))
	w.Emit("hide")
	assert.Equal(t, 1, calls)
	assert.Zero(t, w.Connect("no-such-signal", func(*Emission) bool { return false }, false))
}

func TestDestroy(t *testing.T) {
	r := NewRegistry()
	w := r.MustNew("GtkWidget", nil)
	r.SetRoot("widget", w)

	fired := 0
	w.WeakRef(func() { fired++ })
	cancel := w.WeakRef(func() { fired += 10 })
	cancel()

	w.Ref()
	w.Unref()
	assert.True(t, w.Alive())

	w.Unref()
	assert.False(t, w.Alive())
	assert.Equal(t, 1, fired)

	_, ok := r.Lookup(w.ID())
	assert.False(t, ok)
	assert.Empty(t, r.Roots())
	assert.Zero(t, w.Connect("show", func(*Emission) bool { return false }, false))

	w.Destroy()
	assert.Equal(t, 1, fired)
}

func TestPageViewLoad(t *testing.T) {
	r := NewRegistry()
	view, err := NewPageView(r)
	require.NoError(t, err)

	var finished []Handle
	view.Connect("load-finished", func(e *Emission) bool {
		finished = append(finished, e.Args[0].Handle())
		return false
	}, false)

	view.Emit("load-uri", String("http://a.example"))
	view.Emit("load-uri", String("http://b.example"))
	require.Len(t, finished, 2)

	frame := mainFrame(view)
	require.NotNil(t, frame)
	v, _ := frame.Get("uri")
	assert.Equal(t, "http://b.example", v.V)

	view.Emit("go-back")
	uri, _ := view.Get("uri")
	assert.Equal(t, "http://b.example", uri.V)

	view.Destroy()
	assert.False(t, frame.Alive())
	assert.Zero(t, r.Len())
}
