package engine

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/GriffinCanCode/scriptbridge/internal/bridge"
	"github.com/GriffinCanCode/scriptbridge/internal/id"
	"github.com/GriffinCanCode/scriptbridge/internal/logging"
)

// Checksum types accepted by util.checksum, by number or by name.
var checksums = []struct {
	name string
	new  func() hash.Hash
}{
	{"md5", md5.New},
	{"sha1", sha1.New},
	{"sha256", sha256.New},
	{"sha512", sha512.New},
	{"sha3", sha3.New256},
	{"blake2b", func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}},
}

func (c *Context) installNamespaces() error {
	c.namespaces["system"] = c.systemNamespace()
	c.namespaces["timer"] = c.timerNamespace()
	c.namespaces["util"] = c.utilNamespace()
	c.namespaces["io"] = c.ioNamespace()
	c.namespaces["net"] = c.netNamespace()
	c.namespaces["host"] = c.hostNamespace()
	c.namespaces["html"] = c.htmlNamespace()
	for _, ns := range c.namespaces {
		c.freeze(ns)
	}

	err := c.vm.Set("namespace", func(call goja.FunctionCall) goja.Value {
		if ns, ok := c.namespaces[call.Argument(0).String()]; ok {
			return ns
		}
		return goja.Undefined()
	})
	if err != nil {
		return err
	}

	checksumType := c.vm.NewObject()
	for i, cs := range checksums {
		_ = checksumType.Set(cs.name, i)
	}
	c.freeze(checksumType)
	return c.vm.Set("ChecksumType", checksumType)
}

// installConsole adds console.log and friends. Output goes to the
// structured log, not to stdout.
func (c *Context) installConsole() error {
	log := c.scriptLogger("console")
	console := c.vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug"} {
		level := logging.ScriptLevel(method)
		if err := console.Set(method, func(call goja.FunctionCall) goja.Value {
			log.Log(level, joinArgs(call.Arguments))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return c.vm.Set("console", console)
}

func joinArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func (c *Context) utilNamespace() *goja.Object {
	return c.newObject(map[string]any{
		"uncamelize": bridge.Uncamelize,
		"camelize":   bridge.Camelize,
		"generateId": id.NewScriptID,
		// glob(pattern) returns a matcher whose match(s) reports whether s
		// matches the whole pattern.
		"glob": func(call goja.FunctionCall) goja.Value {
			pattern := call.Argument(0).String()
			if !doublestar.ValidatePattern(pattern) {
				return goja.Null()
			}
			return c.newObject(map[string]any{
				"match": func(s string) bool {
					ok, _ := doublestar.Match(pattern, s)
					return ok
				},
				"toString": func() string { return pattern },
			})
		},
		"checksum": func(call goja.FunctionCall) goja.Value {
			newHash := checksumFor(call.Argument(1))
			if newHash == nil {
				return goja.Null()
			}
			h := newHash()
			io.WriteString(h, call.Argument(0).String())
			return c.vm.ToValue(hex.EncodeToString(h.Sum(nil)))
		},
	})
}

// checksumFor resolves a checksum type. Undefined selects sha256.
func checksumFor(v goja.Value) func() hash.Hash {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return sha256.New
	}
	if s, ok := v.Export().(string); ok {
		for _, cs := range checksums {
			if cs.name == strings.ToLower(s) {
				return cs.new
			}
		}
		return nil
	}
	if i := v.ToInteger(); i >= 0 && int(i) < len(checksums) {
		return checksums[i].new
	}
	return nil
}

func (c *Context) ioNamespace() *goja.Object {
	log := c.scriptLogger("io")
	write := func(w io.Writer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fmt.Fprintln(w, joinArgs(call.Arguments))
			return goja.Undefined()
		}
	}
	return c.newObject(map[string]any{
		// print(text, stream) writes to stdout, or to stderr when stream is
		// "stderr".
		"print": func(call goja.FunctionCall) goja.Value {
			w := c.m.stdout
			if call.Argument(1).String() == "stderr" {
				w = c.m.stderr
			}
			fmt.Fprintln(w, call.Argument(0).String())
			return goja.Undefined()
		},
		"out": write(c.m.stdout),
		"err": write(c.m.stderr),
		"debug": func(call goja.FunctionCall) goja.Value {
			log.Debug(joinArgs(call.Arguments))
			return goja.Undefined()
		},
		"error": func(call goja.FunctionCall) goja.Value {
			log.Error(joinArgs(call.Arguments))
			return goja.Undefined()
		},
		"read": func(path string) goja.Value {
			data, err := os.ReadFile(path)
			if err != nil {
				return goja.Null()
			}
			return c.vm.ToValue(string(data))
		},
		// write(path, mode, text) writes ("w") or appends ("a") text.
		"write": func(path, mode, text string) bool {
			flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			switch mode {
			case "w":
			case "a":
				flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
			default:
				return false
			}
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				log.Debug("write failed", zap.String("path", path), zap.Error(err))
				return false
			}
			defer f.Close()
			_, err = io.WriteString(f, text)
			return err == nil
		},
		"dirNames": func(path string) goja.Value {
			entries, err := os.ReadDir(path)
			if err != nil {
				return goja.Null()
			}
			names := make([]any, len(entries))
			for i, e := range entries {
				names[i] = e.Name()
			}
			return c.vm.NewArray(names...)
		},
	})
}

// hostNamespace exposes the host's named roots and a lookup for roots
// published later.
func (c *Context) hostNamespace() *goja.Object {
	ns := c.newObject(map[string]any{
		"root": func(name string) goja.Value {
			h, ok := c.m.host.Roots()[name]
			if !ok {
				return goja.Null()
			}
			return c.bridge.Wrap(h)
		},
		"roots": func() []string {
			roots := c.m.host.Roots()
			names := make([]string, 0, len(roots))
			for name := range roots {
				names = append(names, name)
			}
			sort.Strings(names)
			return names
		},
	})
	for name, h := range c.m.host.Roots() {
		_ = ns.Set(name, c.bridge.Wrap(h))
	}
	return ns
}
