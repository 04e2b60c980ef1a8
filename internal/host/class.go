package host

import (
	"sort"
	"strings"
)

// PropertyFlags describe the access a property allows.
type PropertyFlags uint8

const (
	Readable PropertyFlags = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

// PropertySpec describes one typed property of a class.
type PropertySpec struct {
	Name    string
	Kind    Kind
	Flags   PropertyFlags
	Default Value
}

func (p PropertySpec) Readable() bool { return p.Flags&Readable != 0 }
func (p PropertySpec) Writable() bool { return p.Flags&Writable != 0 }

// SignalFlags describe how a signal is emitted.
type SignalFlags uint8

const (
	// SignalNotify marks property-change signals. They carry no
	// script-visible arguments and are emitted whenever a property is set.
	SignalNotify SignalFlags = 1 << iota
	// SignalAction marks signals callers are expected to emit directly.
	SignalAction
	// SignalBoolReturn marks signals whose handlers can stop emission by
	// returning true.
	SignalBoolReturn
)

// ClassHandler is the default handler run between normal and after handlers.
type ClassHandler func(o *Object, e *Emission) bool

// SignalSpec describes one named signal of a class.
type SignalSpec struct {
	Name    string
	Params  []Kind
	Flags   SignalFlags
	Default ClassHandler
}

func (s SignalSpec) IsNotify() bool { return s.Flags&SignalNotify != 0 }

// Class is a named type with a parent chain, properties and signals.
type Class struct {
	Name       string
	Parent     *Class
	properties map[string]PropertySpec
	signals    map[string]SignalSpec
}

// NewClass creates a class deriving from parent (nil for a root class).
func NewClass(name string, parent *Class) *Class {
	return &Class{
		Name:       name,
		Parent:     parent,
		properties: make(map[string]PropertySpec),
		signals:    make(map[string]SignalSpec),
	}
}

// Property declares a property and returns the class for chaining.
func (c *Class) Property(name string, kind Kind, flags PropertyFlags) *Class {
	return c.PropertyWithDefault(name, Zero(kind), flags)
}

// PropertyWithDefault declares a property with an explicit initial value.
func (c *Class) PropertyWithDefault(name string, def Value, flags PropertyFlags) *Class {
	c.properties[name] = PropertySpec{Name: name, Kind: def.Kind, Flags: flags, Default: def}
	return c
}

// Signal declares a signal and returns the class for chaining.
func (c *Class) Signal(spec SignalSpec) *Class {
	c.signals[spec.Name] = spec
	return c
}

// FindProperty looks a property up through the parent chain.
func (c *Class) FindProperty(name string) (PropertySpec, bool) {
	for k := c; k != nil; k = k.Parent {
		if p, ok := k.properties[name]; ok {
			return p, true
		}
	}
	return PropertySpec{}, false
}

// Properties returns every property of the class and its ancestors, sorted by
// name. A subclass declaration shadows an ancestor's.
func (c *Class) Properties() []PropertySpec {
	seen := make(map[string]PropertySpec)
	for k := c; k != nil; k = k.Parent {
		for name, p := range k.properties {
			if _, ok := seen[name]; !ok {
				seen[name] = p
			}
		}
	}
	out := make([]PropertySpec, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindSignal resolves a signal name, accepting the detailed form
// "signal::detail". The detail is returned separately.
func (c *Class) FindSignal(name string) (SignalSpec, string, bool) {
	base, detail, _ := strings.Cut(name, "::")
	for k := c; k != nil; k = k.Parent {
		if s, ok := k.signals[base]; ok {
			return s, detail, true
		}
	}
	return SignalSpec{}, "", false
}

// Signals returns every signal of the class and its ancestors.
func (c *Class) Signals() []SignalSpec {
	seen := make(map[string]SignalSpec)
	for k := c; k != nil; k = k.Parent {
		for name, s := range k.signals {
			if _, ok := seen[name]; !ok {
				seen[name] = s
			}
		}
	}
	out := make([]SignalSpec, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsA reports whether the class is name or derives from it.
func (c *Class) IsA(name string) bool {
	for k := c; k != nil; k = k.Parent {
		if k.Name == name {
			return true
		}
	}
	return false
}
