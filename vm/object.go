package vm

import (
	"fmt"
	"sync/atomic"
	"unicode/utf16"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Object: a heap instance behind a hidden header
// ---------------------------------------------------------------------------

// headerSize is charged to the collector for every allocation.
const headerSize = 16

// header is the hidden prefix of every object. It is never visible to
// managed code: fields and elements are reached through Object methods.
type header struct {
	class *ClassPrivate
	// lock holds the identity hash code once one has been assigned.
	lock atomic.Uint32
}

// Object is a managed heap object: a class instance, an array, a string
// or a boxed value.
type Object struct {
	header
	fields []Value // instance fields, array elements, or one boxed struct
	data   []byte  // boxed primitive or UTF-16 string payload
}

var nextHash atomic.Uint32

// Class returns the object's runtime class layout.
func (o *Object) Class() *ClassPrivate { return o.class }

// HashCode returns the identity hash code, assigning one on first use.
func (o *Object) HashCode() int32 {
	if h := o.lock.Load(); h != 0 {
		return int32(h)
	}
	h := nextHash.Add(1)
	if o.lock.CompareAndSwap(0, h) {
		return int32(h)
	}
	return int32(o.lock.Load())
}

// IsArray reports whether o is an array.
func (o *Object) IsArray() bool { return o.class.Class.IsArray() }

// Len returns the number of array elements.
func (o *Object) Len() int { return len(o.fields) }

// Field returns the field in slot i.
func (o *Object) Field(i int) Value { return o.fields[i] }

// SetField stores v in slot i with value semantics.
func (o *Object) SetField(i int, v Value) { storeInto(&o.fields[i], v) }

// FieldValue reads a named instance field, for hosts and tests.
func (o *Object) FieldValue(f *metadata.Field) (Value, bool) {
	slot, ok := o.class.fieldSlot(f)
	if !ok {
		return Value{}, false
	}
	return o.fields[slot], true
}

// IsString reports whether o is a string.
func (o *Object) IsString() bool { return o.class.isString }

// GoString decodes a string object.
func (o *Object) GoString() string {
	units := make([]uint16, len(o.data)/2)
	for i := range units {
		units[i] = uint16(o.data[2*i]) | uint16(o.data[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}

// StringLength is the length of a string in UTF-16 code units.
func (o *Object) StringLength() int { return len(o.data) / 2 }

func encodeUTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	switch {
	case o.class.isString:
		return o.GoString()
	case o.class.Class.Primitive != metadata.ElemVoid:
		return loadRaw(o.data, o.class.Class.Primitive).String()
	case o.IsArray():
		return fmt.Sprintf("%s[%d]", o.class.Class.ElementType, len(o.fields))
	}
	return o.class.Class.FullName()
}
