package engine

import (
	"os"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/system"
)

func (c *Context) systemNamespace() *goja.Object {
	fileTest := c.newObject(map[string]any{
		"regular":    system.TestRegular,
		"symlink":    system.TestSymlink,
		"dir":        system.TestDir,
		"executable": system.TestExecutable,
		"exists":     system.TestExists,
	})
	c.freeze(fileTest)
	_ = c.vm.Set("FileTest", fileTest)

	return c.newObject(map[string]any{
		"spawn":     c.jsSpawn,
		"spawnSync": c.jsSpawnSync,
		"getEnv": func(name string) goja.Value {
			v, ok := system.GetEnv(name)
			if !ok {
				return goja.Null()
			}
			return c.vm.ToValue(v)
		},
		// setEnv(name, value, overwrite) overwrites unless overwrite is false.
		"setEnv": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				return goja.Undefined()
			}
			overwrite := true
			if arg := call.Argument(2); !goja.IsUndefined(arg) {
				overwrite = arg.ToBoolean()
			}
			name, value := call.Argument(0).String(), call.Argument(1).String()
			if err := system.SetEnv(name, value, overwrite); err != nil {
				c.logger.Debug("setEnv failed", zap.String("name", name), zap.Error(err))
			}
			return goja.Undefined()
		},
		"getPid":   os.Getpid,
		"fileTest": func(path string, flags int) bool { return system.FileTest(path, flags) },
		"mkdir": func(path string, mode int64) bool {
			if mode <= 0 {
				mode = 0o755
			}
			return system.Mkdir(path, os.FileMode(mode)) == nil
		},
		"shellQuote": system.ShellQuote,
		"shellUnquote": func(s string) goja.Value {
			out, err := system.ShellUnquote(s)
			if err != nil {
				return goja.Null()
			}
			return c.vm.ToValue(out)
		},
	})
}

// spawnSync(command, environment) runs command to completion on the loop
// and returns {stdout, stderr, status}. Scripts stall while it runs.
func (c *Context) jsSpawnSync(call goja.FunctionCall) goja.Value {
	res, err := c.runner.Run(c.ctx, call.Argument(0).String(), c.environment(call.Argument(1)))
	if err != nil {
		return c.newObject(map[string]any{"stdout": "", "stderr": err.Error(), "status": -1})
	}
	return c.newObject(map[string]any{"stdout": res.Stdout, "stderr": res.Stderr, "status": res.Status})
}

// spawn(command, options) starts command and returns a Deferred. Output
// lines reach onStdout and onStderr as they arrive. Once both pipes are
// closed and the child is reaped, onFinished runs with the result and the
// Deferred resolves with it on status 0, rejecting otherwise.
func (c *Context) jsSpawn(call goja.FunctionCall) goja.Value {
	d, obj := c.newDeferred()
	line := call.Argument(0).String()

	var opts system.Options
	var onFinished goja.Callable
	if o, ok := call.Argument(1).(*goja.Object); ok {
		onStdout, hasStdout := goja.AssertFunction(o.Get("onStdout"))
		onStderr, hasStderr := goja.AssertFunction(o.Get("onStderr"))
		onFinished, _ = goja.AssertFunction(o.Get("onFinished"))
		if hasStdout {
			opts.OnStdout = c.lineHandler(line, onStdout)
		}
		if hasStderr {
			opts.OnStderr = c.lineHandler(line, onStderr)
		}
		opts.CacheStdout = truthy(o.Get("cacheStdout"))
		opts.CacheStderr = truthy(o.Get("cacheStderr"))
		opts.Terminal = truthy(o.Get("terminal"))
		opts.Env = c.environment(o.Get("environment"))
		if v := o.Get("stdin"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			stdin := v.String()
			opts.Stdin = &stdin
		}
	}

	_, err := c.runner.Start(line, opts, func(res system.Result) {
		c.m.post(c, func() {
			result := c.spawnResult(res, opts)
			if onFinished != nil {
				c.call(line, onFinished, goja.Undefined(), result)
			}
			if res.Status == 0 {
				d.Resolve(result)
			} else {
				d.Reject(result)
			}
		})
	})
	if err != nil {
		c.logger.Debug("spawn failed", zap.String("command", line), zap.Error(err))
		c.m.post(c, func() {
			d.Reject(c.newObject(map[string]any{"status": -1, "stderr": err.Error()}))
		})
	}
	return obj
}

// lineHandler delivers output lines on the loop.
func (c *Context) lineHandler(where string, fn goja.Callable) func(string) {
	return func(line string) {
		c.m.post(c, func() {
			c.call(where, fn, goja.Undefined(), c.vm.ToValue(line))
		})
	}
}

// spawnResult carries only the streams that were collected.
func (c *Context) spawnResult(res system.Result, opts system.Options) *goja.Object {
	result := c.newObject(map[string]any{"status": res.Status})
	if opts.CacheStdout || opts.OnStdout != nil {
		_ = result.Set("stdout", res.Stdout)
	}
	if opts.CacheStderr || opts.OnStderr != nil {
		_ = result.Set("stderr", res.Stderr)
	}
	return result
}

// environment converts a script object of name/value pairs.
func (c *Context) environment(v goja.Value) map[string]string {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil
	}
	env := make(map[string]string)
	for _, k := range obj.Keys() {
		env[k] = obj.Get(k).String()
	}
	return env
}

func truthy(v goja.Value) bool {
	return v != nil && v.ToBoolean()
}
