package loader

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/id"
)

// Params are the names a unit body sees as arguments.
var Params = []string{"exports", "script", "xinclude", "xgettext"}

var prelude = "(function(" + strings.Join(Params, ", ") + ") {"

// CompileError reports a unit that failed to compile.
type CompileError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

var positionRE = regexp.MustCompile(`Line (\d+):(\d+)`)

// Unit is a compiled script. Running its program yields the unit function,
// which takes Params.
type Unit struct {
	ID      id.UnitID
	Path    string
	Entry   string
	Archive *Archive
	Program *goja.Program
}

// Function runs the unit program in vm and returns the unit function.
func (u *Unit) Function(vm *goja.Runtime) (goja.Callable, error) {
	v, err := vm.RunProgram(u.Program)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("unit %s did not evaluate to a function", u.Path)
	}
	return fn, nil
}

// Compile wraps src into a unit function and compiles it. Line numbers in
// diagnostics match src.
func Compile(path string, src []byte) (*Unit, error) {
	body := stripInterpreter(string(src))
	prg, err := goja.Compile(path, prelude+body+"\n})", false)
	if err != nil {
		return nil, compileError(path, err, len(prelude))
	}
	return &Unit{ID: id.NewUnitID(), Path: path, Program: prg}, nil
}

// CompileGlobal compiles src to run in the global scope.
func CompileGlobal(path string, src []byte) (*goja.Program, error) {
	prg, err := goja.Compile(path, stripInterpreter(string(src)), false)
	if err != nil {
		return nil, compileError(path, err, 0)
	}
	return prg, nil
}

// CompileEntry compiles one entry of an archive. A leading '~' searches
// for the entry by suffix.
func CompileEntry(a *Archive, name string) (*Unit, error) {
	src, entry, err := a.Extract(name)
	if err != nil {
		return nil, err
	}
	u, err := Compile(a.Path+"/"+entry, src)
	if err != nil {
		return nil, err
	}
	u.Path = a.Path
	u.Entry = entry
	u.Archive = a
	return u, nil
}

// Load compiles the file at path. Bundles start at their main.js; anything
// else is plain source.
func Load(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if !IsArchive(data) {
		return Compile(path, data)
	}
	a, err := ReadArchive(path, data)
	if err != nil {
		return nil, err
	}
	return CompileEntry(a, "~"+MainEntry)
}

// stripInterpreter comments out an interpreter line so line numbers stay
// put.
func stripInterpreter(src string) string {
	if strings.HasPrefix(src, "#") {
		return "//" + src[1:]
	}
	return src
}

func compileError(path string, err error, offset int) error {
	ce := &CompileError{Path: path, Err: err}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) && syntax.File != nil {
		pos := syntax.File.Position(syntax.Offset)
		ce.Line, ce.Column = pos.Line, pos.Column
	} else if m := positionRE.FindStringSubmatch(err.Error()); m != nil {
		ce.Line, _ = strconv.Atoi(m[1])
		ce.Column, _ = strconv.Atoi(m[2])
	}
	if ce.Line == 1 && ce.Column > offset {
		ce.Column -= offset
	}
	return ce
}
