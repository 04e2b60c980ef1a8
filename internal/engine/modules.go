package engine

import (
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/id"
	"github.com/GriffinCanCode/scriptbridge/internal/loader"
)

// lazyName matches require names of the form "name!path".
var lazyName = regexp.MustCompile(`^\w*!`)

type pendingRequire struct {
	names    []string
	all      bool
	callback goja.Callable
}

// modules holds the module table of a Context: provided modules, the
// require callbacks waiting for startup to finish and the exports object
// shared by every script of one path.
type modules struct {
	c *Context

	provided    map[string]goja.Value
	order       []string
	queue       []pendingRequire
	initialized bool

	exportsByPath map[string]*goja.Object
}

func newModules(c *Context) *modules {
	return &modules{
		c:             c,
		provided:      make(map[string]goja.Value),
		exportsByPath: make(map[string]*goja.Object),
	}
}

func (c *Context) installModules() error {
	md := c.modules
	globals := map[string]any{
		"include": md.jsInclude,
		"provide": md.jsProvide,
		"replace": md.jsReplace,
		"require": md.jsRequire,
	}
	for name, fn := range globals {
		if err := c.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// exports returns the exports object shared by the scripts of path.
// Archive exports carry a read-only unique id.
func (md *modules) exports(path string, archive bool) *goja.Object {
	if obj, ok := md.exportsByPath[path]; ok {
		return obj
	}
	obj := md.c.vm.NewObject()
	if archive {
		_ = obj.DefineDataProperty("id", md.c.vm.ToValue("_"+id.NewScriptID()), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	}
	md.exportsByPath[path] = obj
	return obj
}

// include(path, global) runs another script and returns what its top level
// returned. With global set the file runs in the global scope instead.
func (md *modules) jsInclude(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Null()
	}
	path := call.Argument(0).String()
	global := call.Argument(1).ToBoolean()
	return md.include(path, global)
}

func (md *modules) include(path string, global bool) goja.Value {
	c := md.c
	if global {
		data, err := os.ReadFile(path)
		if err != nil {
			c.throw("include: reading %s failed: %v", path, err)
		}
		if loader.IsArchive(data) {
			c.throw("include: archive %s cannot be included globally", path)
		}
		prg, err := loader.CompileGlobal(path, data)
		if err != nil {
			c.throw("include: %v", err)
		}
		v, err := c.vm.RunProgram(prg)
		if err != nil {
			c.rethrow(err)
		}
		return v
	}

	u, err := loader.Load(path)
	if err != nil {
		if errors.Is(err, loader.ErrEntryNotFound) {
			c.throw("include: %s was not found in %s", loader.MainEntry, path)
		}
		c.throw("include: %v", err)
	}
	return c.runUnit(u)
}

// xinclude returns the include function bound to archive a. Scripts of one
// archive share their exports object.
func (md *modules) xinclude(a *loader.Archive) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		c := md.c
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		u, err := loader.CompileEntry(a, call.Argument(0).String())
		if err != nil {
			c.throw("xinclude: %v", err)
		}
		return c.runUnit(u)
	}
}

// xgettext returns the text of an archive entry, or null.
func (md *modules) xgettext(a *loader.Archive) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		data, _, err := a.Extract(call.Argument(0).String())
		if err != nil {
			return goja.Null()
		}
		return md.c.vm.ToValue(string(data))
	}
}

func (md *modules) jsProvide(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if _, ok := md.provided[name]; ok {
		md.c.m.metrics.ScriptErrors.Inc()
		md.c.logger.Warn("provide: module is already defined", zap.String("module", name))
		return goja.Undefined()
	}
	md.set(name, call.Argument(1))
	return goja.Undefined()
}

// replace(name, module) swaps a module. Without a module the old one is
// emptied and removed.
func (md *modules) jsReplace(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	module := call.Argument(1)
	old, ok := md.provided[name]
	if ok && (goja.IsUndefined(module) || goja.IsNull(module)) {
		if obj, isObj := old.(*goja.Object); isObj {
			for _, k := range obj.Keys() {
				_ = obj.Delete(k)
			}
		}
		delete(md.provided, name)
		md.order = removeName(md.order, name)
		return goja.Undefined()
	}
	md.set(name, module)
	return goja.Undefined()
}

func (md *modules) set(name string, module goja.Value) {
	if _, ok := md.provided[name]; !ok {
		md.order = append(md.order, name)
	}
	md.provided[name] = module
}

// require(names, callback) calls back with the named modules, or with the
// whole module table when names is null. Callbacks made while startup
// scripts are still running wait until all of them have run.
func (md *modules) jsRequire(call goja.FunctionCall) goja.Value {
	c := md.c
	namesArg := call.Argument(0)
	callback, _ := goja.AssertFunction(call.Argument(1))

	req := pendingRequire{callback: callback}
	if goja.IsNull(namesArg) {
		req.all = true
	} else {
		obj, ok := namesArg.(*goja.Object)
		if !ok || obj.ClassName() != "Array" {
			c.m.metrics.ScriptErrors.Inc()
			c.logger.Warn("require: invalid argument", zap.String("names", namesArg.String()))
			return goja.Undefined()
		}
		if err := c.vm.ExportTo(obj, &req.names); err != nil {
			c.logger.Warn("require: invalid argument", zap.Error(err))
			return goja.Undefined()
		}
	}

	if !md.initialized {
		md.queue = append(md.queue, req)
		return goja.Undefined()
	}
	md.apply(req)
	return goja.Undefined()
}

func (md *modules) apply(req pendingRequire) {
	c := md.c
	if req.callback == nil {
		return
	}
	if req.all {
		table := c.vm.NewObject()
		for _, name := range md.order {
			_ = table.Set(name, md.provided[name])
		}
		c.call("require", req.callback, goja.Undefined(), table)
		return
	}

	args := make([]goja.Value, 0, len(req.names))
	for _, name := range req.names {
		if lazyName.MatchString(name) {
			name, path, _ := strings.Cut(name, "!")
			if _, ok := md.provided[name]; !ok {
				md.includeQuietly(path)
			}
			args = append(args, md.lookup(name))
			continue
		}
		args = append(args, md.lookup(name))
	}
	c.call("require", req.callback, goja.Undefined(), args...)
}

func (md *modules) lookup(name string) goja.Value {
	if v, ok := md.provided[name]; ok {
		return v
	}
	return goja.Undefined()
}

// includeQuietly includes path and logs instead of throwing.
func (md *modules) includeQuietly(path string) {
	defer func() {
		if r := recover(); r != nil {
			md.c.m.metrics.ScriptErrors.Inc()
			md.c.logger.Warn("require: include failed", zap.String("path", path), zap.Any("error", r))
		}
	}()
	md.include(path, false)
}

// initialize marks startup as finished and runs the queued require
// callbacks in order.
func (md *modules) initialize() {
	md.initialized = true
	queue := md.queue
	md.queue = nil
	for _, req := range queue {
		md.apply(req)
	}
}

func (md *modules) reset() {
	md.provided = make(map[string]goja.Value)
	md.order = nil
	md.queue = nil
	md.exportsByPath = make(map[string]*goja.Object)
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// scriptObject builds the frozen script object a unit receives as this and
// as its script argument.
func (c *Context) scriptObject(path string) *goja.Object {
	suffix := "_" + id.NewScriptID()
	log := c.scriptLogger(path)

	script := c.newObject(map[string]any{
		"path": path,
		"debug": func(call goja.FunctionCall) goja.Value {
			c.m.metrics.ScriptErrors.Inc()
			fields := []zap.Field{zap.String("error", call.Argument(0).String())}
			if obj, ok := call.Argument(0).(*goja.Object); ok {
				if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
					fields = append(fields, zap.String("stack", stack.String()))
				}
			}
			log.Warn("Script error", fields...)
			return goja.Undefined()
		},
		"generateId": id.NewScriptID,
		// setPrivate(object, key, value) stores value under a key only this
		// script knows.
		"setPrivate": func(call goja.FunctionCall) goja.Value {
			obj, ok := call.Argument(0).(*goja.Object)
			if !ok {
				return goja.Undefined()
			}
			key := call.Argument(1).String() + suffix
			if v := obj.Get(key); v != nil {
				_ = obj.Set(key, call.Argument(2))
			} else {
				_ = obj.DefineDataProperty(key, call.Argument(2), goja.FLAG_TRUE, goja.FLAG_FALSE, goja.FLAG_FALSE)
			}
			return goja.Undefined()
		},
		"getPrivate": func(call goja.FunctionCall) goja.Value {
			obj, ok := call.Argument(0).(*goja.Object)
			if !ok {
				return goja.Undefined()
			}
			if v := obj.Get(call.Argument(1).String() + suffix); v != nil {
				return v
			}
			return goja.Undefined()
		},
	})
	c.freeze(script)
	return script
}
