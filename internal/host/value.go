// Package host is the in-process object system the bridge drives: reference
// counted handles with typed properties, named signals and weak notifies.
//
// Everything in this package is meant to be driven from the host loop. The
// locks only protect bookkeeping; handlers always run without them held.
package host

import "fmt"

// Kind is the fundamental type of a property value or signal argument.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindUint
	KindLong
	KindUlong
	KindInt64
	KindUint64
	KindFloat
	KindDouble
	KindEnum
	KindFlags
	KindString
	KindObject
	KindBoxed
	KindPointer
)

var kindNames = map[Kind]string{
	KindNone:    "none",
	KindBool:    "bool",
	KindInt:     "int",
	KindUint:    "uint",
	KindLong:    "long",
	KindUlong:   "ulong",
	KindInt64:   "int64",
	KindUint64:  "uint64",
	KindFloat:   "float",
	KindDouble:  "double",
	KindEnum:    "enum",
	KindFlags:   "flags",
	KindString:  "string",
	KindObject:  "object",
	KindBoxed:   "boxed",
	KindPointer: "pointer",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsNumeric reports whether values of this kind are plain numbers.
func (k Kind) IsNumeric() bool {
	return k >= KindInt && k <= KindFlags
}

// Value is a typed native value. V holds the Go representation for Kind:
//
//	KindBool            bool
//	KindInt, KindEnum   int32
//	KindUint, KindFlags uint32
//	KindLong, KindInt64 int64
//	KindUlong, KindUint64 uint64
//	KindFloat           float32
//	KindDouble          float64
//	KindString          string
//	KindObject          Handle (nil for no object)
//	KindBoxed, KindPointer  anything
type Value struct {
	Kind Kind
	V    any
}

func Bool(b bool) Value { return Value{Kind: KindBool, V: b} }
func Int(i int32) Value { return Value{Kind: KindInt, V: i} }
func Uint(u uint32) Value { return Value{Kind: KindUint, V: u} }
func Long(i int64) Value { return Value{Kind: KindLong, V: i} }
func Ulong(u uint64) Value { return Value{Kind: KindUlong, V: u} }
func Int64(i int64) Value { return Value{Kind: KindInt64, V: i} }
func Uint64(u uint64) Value { return Value{Kind: KindUint64, V: u} }
func Float(f float32) Value { return Value{Kind: KindFloat, V: f} }
func Double(f float64) Value { return Value{Kind: KindDouble, V: f} }
func Enum(i int32) Value { return Value{Kind: KindEnum, V: i} }
func Flags(u uint32) Value { return Value{Kind: KindFlags, V: u} }
func String(s string) Value { return Value{Kind: KindString, V: s} }
func ObjectValue(h Handle) Value { return Value{Kind: KindObject, V: h} }

// Zero returns the default value for a kind.
func Zero(k Kind) Value {
	switch k {
	case KindBool:
		return Bool(false)
	case KindInt:
		return Int(0)
	case KindUint:
		return Uint(0)
	case KindLong:
		return Long(0)
	case KindUlong:
		return Ulong(0)
	case KindInt64:
		return Int64(0)
	case KindUint64:
		return Uint64(0)
	case KindFloat:
		return Float(0)
	case KindDouble:
		return Double(0)
	case KindEnum:
		return Enum(0)
	case KindFlags:
		return Flags(0)
	case KindString:
		return String("")
	case KindObject:
		return Value{Kind: KindObject}
	}
	return Value{Kind: k}
}

// Valid reports whether V carries the Go type Kind promises.
func (v Value) Valid() bool {
	switch v.Kind {
	case KindNone, KindBoxed, KindPointer:
		return true
	case KindBool:
		_, ok := v.V.(bool)
		return ok
	case KindInt, KindEnum:
		_, ok := v.V.(int32)
		return ok
	case KindUint, KindFlags:
		_, ok := v.V.(uint32)
		return ok
	case KindLong, KindInt64:
		_, ok := v.V.(int64)
		return ok
	case KindUlong, KindUint64:
		_, ok := v.V.(uint64)
		return ok
	case KindFloat:
		_, ok := v.V.(float32)
		return ok
	case KindDouble:
		_, ok := v.V.(float64)
		return ok
	case KindString:
		_, ok := v.V.(string)
		return ok
	case KindObject:
		if v.V == nil {
			return true
		}
		_, ok := v.V.(Handle)
		return ok
	}
	return false
}

// Handle returns the object carried by a KindObject value.
func (v Value) Handle() Handle {
	h, _ := v.V.(Handle)
	return h
}
