package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/bridge"
	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/id"
	"github.com/GriffinCanCode/scriptbridge/internal/loader"
	"github.com/GriffinCanCode/scriptbridge/internal/logging"
	"github.com/GriffinCanCode/scriptbridge/internal/resilience"
	"github.com/GriffinCanCode/scriptbridge/internal/system"
)

// Context is one lifetime of the script runtime. Everything scripts create
// (wrappers, subscriptions, timers, modules, pending work) belongs to it
// and dies with it.
type Context struct {
	ID id.ContextID

	m      *Manager
	cfg    *config.Config
	vm     *goja.Runtime
	bridge *bridge.Bridge
	logger *zap.Logger
	runner *system.Runner
	http   *resty.Client
	// breakers guard sendRequest per host.
	breakers *resilience.Set

	// ctx is cancelled on close and aborts in-flight requests.
	ctx    context.Context
	cancel context.CancelFunc

	namespaces map[string]*goja.Object
	timers     map[uint64]*timer
	modules    *modules
	deferreds  *deferredClass
	units      []*loader.Unit

	closed bool
}

func newContext(m *Manager, cfg *config.Config) (*Context, error) {
	vm := goja.New()
	if cfg.Engine.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.Engine.MaxCallStackSize)
	}

	c := &Context{
		ID:         id.NewContextID(),
		m:          m,
		cfg:        cfg,
		vm:         vm,
		namespaces: make(map[string]*goja.Object),
		timers:     make(map[uint64]*timer),
	}
	c.logger = m.logger.With(zap.String("context", c.ID.String()))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.runner = system.NewRunner(m.logger, m.metrics, system.Config{
		MaxLineBytes:  cfg.Spawn.MaxLineBytes,
		AllowTerminal: cfg.Spawn.AllowTerminal,
	})
	c.http = newHTTPClient(cfg.Net)
	c.breakers = resilience.New(resilience.Settings{
		Threshold: cfg.Net.BreakerThreshold,
		Cooldown:  time.Duration(cfg.Net.BreakerCooldownMS) * time.Millisecond,
		OnStateChange: func(host string, from, to resilience.State) {
			c.logger.Info("Request circuit changed",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	c.modules = newModules(c)

	b, err := bridge.New(vm, bridge.Options{
		Host:     m.host,
		Logger:   c.logger,
		Metrics:  m.metrics,
		Dispatch: func(fn func()) bool { return m.dispatchFor(c, fn) },
	})
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.bridge = b

	if err := c.install(); err != nil {
		c.cancel()
		b.Close()
		return nil, err
	}
	return c, nil
}

func (c *Context) install() error {
	var err error
	if c.deferreds, err = newDeferredClass(c); err != nil {
		return err
	}
	steps := []func() error{
		c.installModules,
		c.installConsole,
		c.installNamespaces,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Runtime returns the goja runtime of this Context.
func (c *Context) Runtime() *goja.Runtime { return c.vm }

// Bridge returns the object bridge of this Context.
func (c *Context) Bridge() *bridge.Bridge { return c.bridge }

// Config returns the configuration this Context was built from.
func (c *Context) Config() *config.Config { return c.cfg }

// Units returns the startup units that ran in this Context.
func (c *Context) Units() []*loader.Unit { return c.units }

// start loads the startup scripts, library scripts first, runs each in its
// own dispatch and then releases the queued require callbacks.
func (c *Context) start() {
	scripts := c.cfg.Scripts
	if scripts.Enabled && scripts.Dir != "" {
		dir := system.ExpandHome(scripts.Dir)
		lib := libDir(dir, scripts.LibDir)
		if lib != "" {
			if info, err := os.Stat(lib); err == nil && info.IsDir() {
				units, err := c.m.loader.LoadDir(lib, scripts.Patterns)
				if err != nil {
					c.logger.Error("Failed to discover library scripts", zap.String("dir", lib), zap.Error(err))
				}
				c.units = append(c.units, units...)
			}
		}

		units, err := c.m.loader.LoadDir(dir, scripts.Patterns)
		if err != nil {
			c.logger.Error("Failed to discover scripts", zap.String("dir", scripts.Dir), zap.Error(err))
		}
		for _, u := range units {
			if lib == "" || !within(lib, u.Path) {
				c.units = append(c.units, u)
			}
		}
	}

	began := time.Now()
	for _, u := range c.units {
		c.m.dispatchFor(c, func() { c.runUnit(u) })
	}
	c.m.dispatchFor(c, c.modules.initialize)
	c.logger.Info("Scripts started",
		zap.Int("units", len(c.units)),
		zap.Duration("duration", time.Since(began)))
}

// libDir resolves the library directory. Relative paths are taken from the
// scripts directory.
func libDir(scriptsDir, lib string) string {
	if lib == "" {
		return ""
	}
	lib = system.ExpandHome(lib)
	if !filepath.IsAbs(lib) {
		lib = filepath.Join(scriptsDir, lib)
	}
	return filepath.Clean(lib)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// runUnit calls the unit function with its exports object, its script
// object and, for archives, the archive-bound include helpers. Exceptions
// are logged and yield undefined.
func (c *Context) runUnit(u *loader.Unit) goja.Value {
	fn, err := u.Function(c.vm)
	if err != nil {
		c.scriptError(u.Path, err)
		return goja.Undefined()
	}

	script := c.scriptObject(u.Path)
	xinclude, xgettext := goja.Undefined(), goja.Undefined()
	if u.Archive != nil {
		xinclude = c.vm.ToValue(c.modules.xinclude(u.Archive))
		xgettext = c.vm.ToValue(c.modules.xgettext(u.Archive))
	}
	exports := c.modules.exports(u.Path, u.Archive != nil)

	c.m.metrics.UnitsLoaded.Inc()
	ret, err := fn(script, exports, script, xinclude, xgettext)
	if err != nil {
		c.scriptError(u.Path, err)
		return goja.Undefined()
	}
	return ret
}

// close invalidates everything the Context created. The runtime itself is
// left to the garbage collector.
func (c *Context) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.stopTimers()
	c.bridge.Close()
	c.modules.reset()
	c.logger.Debug("Context closed")
}

// call invokes fn and contains any exception it raises.
func (c *Context) call(where string, fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, bool) {
	ret, err := fn(this, args...)
	if err != nil {
		c.scriptError(where, err)
		return nil, false
	}
	return ret, true
}

// scriptError logs an exception raised by script code. goja exceptions
// carry the script position in their message.
func (c *Context) scriptError(where string, err error) {
	c.m.metrics.ScriptErrors.Inc()
	fields := []zap.Field{zap.String("script", where), zap.Error(err)}
	if ex, ok := err.(*goja.Exception); ok {
		if stack := ex.String(); stack != "" {
			fields = append(fields, zap.String("stack", stack))
		}
	}
	c.logger.Warn("Script error", fields...)
}

// throw raises a script exception from a native function.
func (c *Context) throw(format string, args ...any) {
	panic(c.vm.NewGoError(fmt.Errorf(format, args...)))
}

// rethrow passes a script exception on to the calling script.
func (c *Context) rethrow(err error) {
	if ex, ok := err.(*goja.Exception); ok {
		panic(ex)
	}
	panic(c.vm.NewGoError(err))
}

// scriptLogger returns the logger for output of the script at path.
func (c *Context) scriptLogger(path string) *zap.Logger {
	return logging.Script(c.logger, path)
}

func (c *Context) newObject(props map[string]any) *goja.Object {
	obj := c.vm.NewObject()
	for k, v := range props {
		_ = obj.Set(k, v)
	}
	return obj
}

// freeze applies Object.freeze to obj.
func (c *Context) freeze(obj *goja.Object) {
	freeze, ok := goja.AssertFunction(c.vm.Get("Object").ToObject(c.vm).Get("freeze"))
	if !ok {
		return
	}
	if _, err := freeze(goja.Undefined(), obj); err != nil {
		c.logger.Debug("Failed to freeze object", zap.Error(err))
	}
}
