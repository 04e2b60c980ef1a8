package host

// Load status values of page views and frames.
const (
	LoadProvisional int32 = iota
	LoadCommitted
	LoadFinished
	LoadFirstVisuallyNonEmpty
	LoadFailed
)

// Download status values.
const (
	DownloadError     int32 = -1
	DownloadCreated   int32 = 0
	DownloadStarted   int32 = 1
	DownloadCancelled int32 = 2
	DownloadFinished  int32 = 3
)

// StandardClasses builds the class set the bridge categorizes: a base
// object, toolkit widgets, page views with their frames and history, downloads
// and network messages.
func StandardClasses() []*Class {
	object := NewClass("GObject", nil).
		Signal(SignalSpec{Name: "notify", Flags: SignalNotify})

	widget := NewClass("GtkWidget", object).
		Property("name", KindString, ReadWrite).
		PropertyWithDefault("visible", Bool(true), ReadWrite).
		PropertyWithDefault("sensitive", Bool(true), ReadWrite).
		PropertyWithDefault("opacity", Double(1), ReadWrite).
		PropertyWithDefault("width-request", Int(-1), ReadWrite).
		PropertyWithDefault("height-request", Int(-1), ReadWrite).
		Property("can-focus", KindBool, ReadWrite).
		Property("tooltip-text", KindString, ReadWrite).
		Signal(SignalSpec{Name: "show", Flags: SignalAction, Default: setBool("visible", true)}).
		Signal(SignalSpec{Name: "hide", Flags: SignalAction, Default: setBool("visible", false)}).
		Signal(SignalSpec{Name: "button-press-event", Params: []Kind{KindBoxed}, Flags: SignalBoolReturn}).
		Signal(SignalSpec{Name: "key-press-event", Params: []Kind{KindBoxed}, Flags: SignalBoolReturn}).
		Signal(SignalSpec{Name: "focus-in-event", Params: []Kind{KindBoxed}, Flags: SignalBoolReturn})

	menu := NewClass("GtkMenu", widget).
		Property("active", KindInt, ReadWrite).
		Signal(SignalSpec{Name: "selection-done"}).
		Signal(SignalSpec{Name: "move-scroll", Params: []Kind{KindEnum}, Flags: SignalAction})

	window := NewClass("GtkWindow", widget).
		Property("title", KindString, ReadWrite).
		PropertyWithDefault("default-width", Int(-1), ReadWrite).
		PropertyWithDefault("default-height", Int(-1), ReadWrite).
		PropertyWithDefault("resizable", Bool(true), ReadWrite).
		Signal(SignalSpec{Name: "set-focus", Params: []Kind{KindObject}})

	entry := NewClass("GtkEntry", widget).
		Property("text", KindString, ReadWrite).
		Property("max-length", KindInt, ReadWrite).
		PropertyWithDefault("editable", Bool(true), ReadWrite).
		Signal(SignalSpec{Name: "changed", Flags: SignalNotify}).
		Signal(SignalSpec{Name: "activate", Flags: SignalAction})

	frame := NewClass("WebKitWebFrame", object).
		Property("uri", KindString, Readable).
		Property("name", KindString, Readable).
		Property("title", KindString, Readable).
		Property("load-status", KindEnum, Readable).
		Signal(SignalSpec{Name: "load-committed"})

	history := NewClass("WebKitWebBackForwardList", object).
		PropertyWithDefault("limit", Int(100), ReadWrite).
		Property("back-length", KindInt, Readable).
		Property("forward-length", KindInt, Readable)

	view := NewClass("WebKitWebView", widget).
		Property("uri", KindString, Readable).
		Property("title", KindString, Readable).
		Property("load-status", KindEnum, Readable).
		Property("progress", KindDouble, Readable).
		PropertyWithDefault("zoom-level", Double(1), ReadWrite).
		Property("full-content-zoom", KindBool, ReadWrite).
		PropertyWithDefault("editable", Bool(false), ReadWrite).
		Property("custom-encoding", KindString, ReadWrite).
		Property("main-frame", KindObject, Readable).
		Property("back-forward-list", KindObject, Readable).
		Signal(SignalSpec{Name: "load-uri", Params: []Kind{KindString}, Flags: SignalAction, Default: loadURI}).
		Signal(SignalSpec{Name: "reload", Flags: SignalAction, Default: reload}).
		Signal(SignalSpec{Name: "stop-loading", Flags: SignalAction, Default: stopLoading}).
		Signal(SignalSpec{Name: "go-back", Flags: SignalAction, Default: moveHistory(-1)}).
		Signal(SignalSpec{Name: "go-forward", Flags: SignalAction, Default: moveHistory(1)}).
		Signal(SignalSpec{Name: "load-committed", Params: []Kind{KindObject}}).
		Signal(SignalSpec{Name: "load-finished", Params: []Kind{KindObject}}).
		Signal(SignalSpec{Name: "title-changed", Params: []Kind{KindObject, KindString}}).
		Signal(SignalSpec{Name: "console-message", Params: []Kind{KindString, KindInt, KindString}, Flags: SignalBoolReturn}).
		Signal(SignalSpec{Name: "close-web-view", Flags: SignalBoolReturn}).
		Signal(SignalSpec{
			Name:   "navigation-policy-decision-requested",
			Params: []Kind{KindObject, KindObject, KindBoxed, KindBoxed},
			Flags:  SignalBoolReturn,
		}).
		Signal(SignalSpec{Name: "download-requested", Params: []Kind{KindObject}, Flags: SignalBoolReturn})

	download := NewClass("WebKitDownload", object).
		Property("uri", KindString, Readable).
		Property("destination-uri", KindString, ReadWrite).
		Property("suggested-filename", KindString, Readable).
		Property("progress", KindDouble, Readable).
		PropertyWithDefault("status", Enum(DownloadCreated), Readable).
		Property("total-size", KindUint64, Readable).
		Property("current-size", KindUint64, Readable).
		Signal(SignalSpec{Name: "start", Flags: SignalAction, Default: setStatus(DownloadStarted)}).
		Signal(SignalSpec{Name: "cancel", Flags: SignalAction, Default: setStatus(DownloadCancelled)}).
		Signal(SignalSpec{Name: "error", Params: []Kind{KindInt, KindInt, KindString}, Flags: SignalBoolReturn})

	message := NewClass("SoupMessage", object).
		PropertyWithDefault("method", String("GET"), ReadWrite).
		Property("uri", KindString, ReadWrite).
		Property("status-code", KindUint, ReadWrite).
		Property("reason-phrase", KindString, ReadWrite).
		Property("flags", KindFlags, ReadWrite).
		PropertyWithDefault("http-version", Enum(1), ReadWrite).
		Property("priority", KindEnum, ReadWrite).
		Signal(SignalSpec{Name: "got-headers"}).
		Signal(SignalSpec{Name: "got-body"}).
		Signal(SignalSpec{Name: "restarted"}).
		Signal(SignalSpec{Name: "finished"})

	return []*Class{object, widget, menu, window, entry, frame, history, view, download, message}
}

func setBool(name string, v bool) ClassHandler {
	return func(o *Object, _ *Emission) bool {
		o.SetInternal(name, Bool(v))
		return false
	}
}

func setStatus(status int32) ClassHandler {
	return func(o *Object, _ *Emission) bool {
		o.SetInternal("status", Enum(status))
		return false
	}
}

func mainFrame(o *Object) *Object {
	v, _ := o.Get("main-frame")
	f, _ := v.Handle().(*Object)
	return f
}

func objectValue(o *Object) Value {
	if o == nil {
		return Value{Kind: KindObject}
	}
	return ObjectValue(o)
}

func finishLoad(o *Object, uri string) {
	frame := mainFrame(o)
	o.SetInternal("load-status", Enum(LoadProvisional))
	o.SetInternal("uri", String(uri))
	if frame != nil {
		frame.SetInternal("uri", String(uri))
		frame.SetInternal("load-status", Enum(LoadCommitted))
	}
	o.SetInternal("load-status", Enum(LoadCommitted))
	o.Emit("load-committed", objectValue(frame))
	o.SetInternal("progress", Double(1))
	if frame != nil {
		frame.SetInternal("load-status", Enum(LoadFinished))
	}
	o.SetInternal("load-status", Enum(LoadFinished))
	o.Emit("load-finished", objectValue(frame))
}

func loadURI(o *Object, e *Emission) bool {
	uri, _ := e.Args[0].V.(string)
	if v, ok := o.Get("back-forward-list"); ok {
		if list, ok := v.Handle().(*Object); ok && list != nil {
			back, _ := list.Get("back-length")
			n, _ := back.V.(int32)
			if cur, _ := o.Get("uri"); cur.V != "" {
				list.SetInternal("back-length", Int(n+1))
				list.SetInternal("forward-length", Int(0))
			}
		}
	}
	finishLoad(o, uri)
	return false
}

func reload(o *Object, _ *Emission) bool {
	v, _ := o.Get("uri")
	uri, _ := v.V.(string)
	finishLoad(o, uri)
	return false
}

func stopLoading(o *Object, _ *Emission) bool {
	v, _ := o.Get("load-status")
	if v.V != LoadFinished {
		o.SetInternal("load-status", Enum(LoadFailed))
	}
	return false
}

func moveHistory(step int32) ClassHandler {
	return func(o *Object, _ *Emission) bool {
		v, _ := o.Get("back-forward-list")
		list, ok := v.Handle().(*Object)
		if !ok || list == nil {
			return false
		}
		back, _ := list.Get("back-length")
		forward, _ := list.Get("forward-length")
		b, _ := back.V.(int32)
		f, _ := forward.V.(int32)
		if (step < 0 && b == 0) || (step > 0 && f == 0) {
			return false
		}
		list.SetInternal("back-length", Int(b+step))
		list.SetInternal("forward-length", Int(f-step))
		reload(o, nil)
		return false
	}
}

// NewPageView creates a page view together with its main frame and history
// list. The view owns one reference to each.
func NewPageView(r *Registry) (*Object, error) {
	frame, err := r.New("WebKitWebFrame", nil)
	if err != nil {
		return nil, err
	}
	history, err := r.New("WebKitWebBackForwardList", nil)
	if err != nil {
		frame.Unref()
		return nil, err
	}
	view, err := r.New("WebKitWebView", map[string]Value{
		"main-frame":        ObjectValue(frame),
		"back-forward-list": ObjectValue(history),
	})
	if err != nil {
		frame.Unref()
		history.Unref()
		return nil, err
	}
	view.WeakRef(func() {
		frame.Unref()
		history.Unref()
	})
	return view, nil
}

// NewDownload creates a download for uri.
func NewDownload(r *Registry, uri, filename string) (*Object, error) {
	return r.New("WebKitDownload", map[string]Value{
		"uri":                String(uri),
		"suggested-filename": String(filename),
	})
}
