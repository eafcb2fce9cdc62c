package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Tagged values
// ---------------------------------------------------------------------------

// Tag is the runtime category of a Value. Tags mirror the verifier's
// engine types; small integers are widened to Int32 on the stack.
type Tag uint8

const (
	TagInt32 Tag = iota
	TagInt64
	TagNative
	TagFloat
	TagObject
	TagManaged
	TagTransient
	TagStruct
)

var tagNames = [...]string{"int32", "int64", "native", "float", "object", "managed", "transient", "struct"}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", t)
}

// Value is one stack slot, argument, local, field or array element.
// Integers are kept sign-extended in bits; floats hold float64 bits.
type Value struct {
	Tag  Tag
	bits uint64
	obj  *Object
	addr *Address
	st   *Struct
}

// Int32Value creates a 32-bit integer value.
func Int32Value(v int32) Value { return Value{Tag: TagInt32, bits: uint64(int64(v))} }

// Int64Value creates a 64-bit integer value.
func Int64Value(v int64) Value { return Value{Tag: TagInt64, bits: uint64(v)} }

// NativeValue creates a native integer value.
func NativeValue(v int64) Value { return Value{Tag: TagNative, bits: uint64(v)} }

// FloatValue creates a floating point value.
func FloatValue(f float64) Value { return Value{Tag: TagFloat, bits: math.Float64bits(f)} }

// ObjectValue creates a reference value; obj may be nil.
func ObjectValue(obj *Object) Value { return Value{Tag: TagObject, obj: obj} }

// NullValue is the null reference.
func NullValue() Value { return Value{Tag: TagObject} }

// ManagedValue creates a managed pointer value.
func ManagedValue(a *Address) Value { return Value{Tag: TagManaged, addr: a} }

// TransientValue creates an unmanaged pointer value.
func TransientValue(a *Address) Value { return Value{Tag: TagTransient, addr: a} }

// StructValue wraps an unboxed value type instance.
func StructValue(s *Struct) Value { return Value{Tag: TagStruct, st: s} }

// BoolValue creates the int32 encoding of a boolean.
func BoolValue(b bool) Value {
	if b {
		return Int32Value(1)
	}
	return Int32Value(0)
}

func (v Value) Int32() int32     { return int32(v.bits) }
func (v Value) Int64() int64     { return int64(v.bits) }
func (v Value) Uint64() uint64   { return v.bits }
func (v Value) Float() float64   { return math.Float64frombits(v.bits) }
func (v Value) Object() *Object  { return v.obj }
func (v Value) Address() *Address { return v.addr }
func (v Value) Struct() *Struct  { return v.st }

// IsNull reports whether v is a null reference.
func (v Value) IsNull() bool { return v.Tag == TagObject && v.obj == nil }

// Bool reports whether v is non-zero, non-null.
func (v Value) Bool() bool {
	switch v.Tag {
	case TagFloat:
		return v.Float() != 0
	case TagObject:
		return v.obj != nil
	case TagManaged, TagTransient:
		return v.addr != nil
	case TagStruct:
		return true
	}
	return v.bits != 0
}

func (v Value) String() string {
	switch v.Tag {
	case TagInt32:
		return fmt.Sprintf("%d", v.Int32())
	case TagInt64, TagNative:
		return fmt.Sprintf("%d", v.Int64())
	case TagFloat:
		return fmt.Sprintf("%g", v.Float())
	case TagObject:
		if v.obj == nil {
			return "null"
		}
		return v.obj.String()
	case TagManaged, TagTransient:
		return "&" + v.addr.String()
	case TagStruct:
		return v.st.String()
	}
	return "<invalid>"
}

// copyValue returns v with struct contents duplicated, giving value
// types their copy semantics.
func copyValue(v Value) Value {
	if v.Tag == TagStruct && v.st != nil {
		return StructValue(v.st.clone())
	}
	return v
}

// storeInto writes v into a location. A struct stored over a struct of
// the same class is copied in place so addresses into it stay valid.
func storeInto(dst *Value, v Value) {
	if v.Tag == TagStruct && dst.Tag == TagStruct && dst.st != nil && v.st != nil && dst.st.Class == v.st.Class {
		dst.st.copyFrom(v.st)
		return
	}
	*dst = copyValue(v)
}

// normalize converts a stack value to the representation stored in a
// location of type t: small integers are truncated and re-extended,
// float32 locations round, native integers widen.
func normalize(v Value, t *metadata.Type) Value {
	if t == nil {
		return v
	}
	switch t.Kind {
	case metadata.ElemBoolean, metadata.ElemU1:
		return Int32Value(int32(uint8(v.bits)))
	case metadata.ElemI1:
		return Int32Value(int32(int8(v.bits)))
	case metadata.ElemI2:
		return Int32Value(int32(int16(v.bits)))
	case metadata.ElemU2, metadata.ElemChar:
		return Int32Value(int32(uint16(v.bits)))
	case metadata.ElemI4, metadata.ElemU4:
		return Int32Value(int32(v.bits))
	case metadata.ElemI8, metadata.ElemU8:
		return Int64Value(int64(v.bits))
	case metadata.ElemI, metadata.ElemU:
		if v.Tag == TagInt32 {
			return NativeValue(int64(v.Int32()))
		}
		if v.Tag == TagInt64 {
			return NativeValue(v.Int64())
		}
		return v
	case metadata.ElemR4:
		return FloatValue(float64(float32(v.Float())))
	case metadata.ElemR8:
		return FloatValue(v.Float())
	}
	return v
}

// ---------------------------------------------------------------------------
// Unboxed value type instances
// ---------------------------------------------------------------------------

// Struct is an unboxed value type instance.
type Struct struct {
	Class  *ClassPrivate
	Fields []Value
}

func (s *Struct) clone() *Struct {
	out := &Struct{Class: s.Class, Fields: make([]Value, len(s.Fields))}
	for i, f := range s.Fields {
		out.Fields[i] = copyValue(f)
	}
	return out
}

func (s *Struct) copyFrom(src *Struct) {
	for i := range s.Fields {
		storeInto(&s.Fields[i], src.Fields[i])
	}
}

func (s *Struct) String() string {
	if s == nil {
		return "<nil struct>"
	}
	return s.Class.Class.FullName()
}

// ---------------------------------------------------------------------------
// Managed and transient pointers
// ---------------------------------------------------------------------------

type addrKind uint8

const (
	addrStack addrKind = iota // argument or local: thread + absolute stack index
	addrSlot                  // field, static, array element or struct field
	addrBytes                 // bytes of a boxed primitive
)

// Address is the target of a managed pointer. Stack addresses hold an
// index rather than a pointer so they survive stack growth.
type Address struct {
	kind   addrKind
	thread *Thread
	index  int
	slots  []Value
	data   []byte
	elem   *metadata.Type
}

func stackAddress(t *Thread, index int, elem *metadata.Type) *Address {
	return &Address{kind: addrStack, thread: t, index: index, elem: elem}
}

func slotAddress(slots []Value, index int, elem *metadata.Type) *Address {
	return &Address{kind: addrSlot, slots: slots, index: index, elem: elem}
}

func bytesAddress(data []byte, offset int, elem *metadata.Type) *Address {
	return &Address{kind: addrBytes, data: data, index: offset, elem: elem}
}

// inBounds reports whether the address still names a location inside
// its block. Unsafe pointer arithmetic can move it out.
func (a *Address) inBounds() bool {
	switch a.kind {
	case addrStack:
		return a.index >= 0 && a.index < len(a.thread.stack)
	case addrSlot:
		return a.index >= 0 && a.index < len(a.slots)
	}
	size := 1
	if a.elem != nil && a.elem.Kind.IsPrimitive() {
		size = a.elem.Kind.Size()
	}
	return a.index >= 0 && a.index+size <= len(a.data)
}

func (a *Address) slot() *Value {
	if a.kind == addrStack {
		return &a.thread.stack[a.index]
	}
	return &a.slots[a.index]
}

// Load reads the addressed location without copying struct contents.
func (a *Address) Load() Value {
	if a.kind == addrBytes {
		return loadRaw(a.data[a.index:], a.elem.Kind)
	}
	return *a.slot()
}

// Store writes v into the addressed location with value semantics.
func (a *Address) Store(v Value) {
	if a.kind == addrBytes {
		storeRaw(a.data[a.index:], a.elem.Kind, v)
		return
	}
	storeInto(a.slot(), v)
}

// Offset returns an address n bytes further on. Slot addresses step in
// whole elements.
func (a *Address) Offset(n int64) *Address {
	out := *a
	if a.kind == addrBytes {
		out.index += int(n)
		return &out
	}
	size := int64(8)
	if a.elem != nil && a.elem.Kind.IsPrimitive() {
		size = int64(a.elem.Kind.Size())
	}
	out.index += int(n / size)
	return &out
}

// Same reports whether two addresses name the same location.
func (a *Address) Same(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind || a.index != b.index {
		return false
	}
	switch a.kind {
	case addrStack:
		return a.thread == b.thread
	case addrSlot:
		return len(a.slots) > 0 && len(b.slots) > 0 && &a.slots[0] == &b.slots[0]
	}
	return len(a.data) > 0 && len(b.data) > 0 && &a.data[0] == &b.data[0]
}

// distance returns the byte distance between two addresses in the same
// storage block.
func (a *Address) distance(b *Address) int64 {
	if a.kind == addrBytes {
		return int64(a.index - b.index)
	}
	size := int64(8)
	if a.elem != nil && a.elem.Kind.IsPrimitive() {
		size = int64(a.elem.Kind.Size())
	}
	return int64(a.index-b.index) * size
}

func (a *Address) String() string {
	if a == nil {
		return "nil"
	}
	switch a.kind {
	case addrStack:
		return fmt.Sprintf("stack[%d]", a.index)
	case addrSlot:
		return fmt.Sprintf("slot[%d]", a.index)
	}
	return fmt.Sprintf("bytes[%d]", a.index)
}

// ---------------------------------------------------------------------------
// Raw little-endian encoding of primitives
// ---------------------------------------------------------------------------

func loadRaw(b []byte, kind metadata.ElementType) Value {
	switch kind {
	case metadata.ElemBoolean, metadata.ElemU1:
		return Int32Value(int32(b[0]))
	case metadata.ElemI1:
		return Int32Value(int32(int8(b[0])))
	case metadata.ElemI2:
		return Int32Value(int32(int16(binary.LittleEndian.Uint16(b))))
	case metadata.ElemU2, metadata.ElemChar:
		return Int32Value(int32(binary.LittleEndian.Uint16(b)))
	case metadata.ElemI4, metadata.ElemU4:
		return Int32Value(int32(binary.LittleEndian.Uint32(b)))
	case metadata.ElemI8, metadata.ElemU8:
		return Int64Value(int64(binary.LittleEndian.Uint64(b)))
	case metadata.ElemI, metadata.ElemU:
		return NativeValue(int64(binary.LittleEndian.Uint64(b)))
	case metadata.ElemR4:
		return FloatValue(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case metadata.ElemR8:
		return FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	panic(fmt.Sprintf("vm: no raw encoding for %s", kind))
}

func storeRaw(b []byte, kind metadata.ElementType, v Value) {
	switch kind {
	case metadata.ElemBoolean, metadata.ElemI1, metadata.ElemU1:
		b[0] = byte(v.bits)
	case metadata.ElemI2, metadata.ElemU2, metadata.ElemChar:
		binary.LittleEndian.PutUint16(b, uint16(v.bits))
	case metadata.ElemI4, metadata.ElemU4:
		binary.LittleEndian.PutUint32(b, uint32(v.bits))
	case metadata.ElemI8, metadata.ElemU8, metadata.ElemI, metadata.ElemU:
		binary.LittleEndian.PutUint64(b, v.bits)
	case metadata.ElemR4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.Float())))
	case metadata.ElemR8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Float()))
	default:
		panic(fmt.Sprintf("vm: no raw encoding for %s", kind))
	}
}
