package vm

import (
	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Boxing
// ---------------------------------------------------------------------------

// canonicalType maps the value type signature of a corlib primitive
// struct to the primitive itself.
func canonicalType(t *metadata.Type) *metadata.Type {
	if t.Kind == metadata.ElemValueType && t.Class.Primitive != metadata.ElemVoid {
		return metadata.PrimitiveType(t.Class.Primitive)
	}
	return t
}

// boxClass returns the class of a boxed t, or nil for reference types.
func (p *Process) boxClass(t *metadata.Type) *metadata.Class {
	switch {
	case t.Kind.IsPrimitive():
		return p.corlib.PrimitiveClass(t.Kind)
	case t.Kind == metadata.ElemValueType:
		return t.Class
	}
	return nil
}

// Box converts v, a value of type t, to a heap object. Primitives are
// copied as raw little-endian bytes into an atomic allocation, with
// float32 narrowed; value types copy their fields. Reference types box to
// themselves. It returns nil with an exception pending on failure.
func (t *Thread) Box(v Value, typ *metadata.Type) *Object {
	p := t.process
	typ = canonicalType(typ)
	class := p.boxClass(typ)
	if class == nil {
		return v.Object()
	}
	if typ.Kind.IsPrimitive() {
		obj := t.AllocAtomic(class, typ.Kind.Size())
		if obj == nil {
			return nil
		}
		storeRaw(obj.data, typ.Kind, normalize(v, typ))
		return obj
	}
	cp, ok := t.prepareClass(class)
	if !ok {
		return nil
	}
	var st *Struct
	if v.Tag == TagStruct && v.st != nil {
		st = v.st.clone()
	} else {
		st = cp.newStruct()
	}
	return t.newObject(cp, cp.InstanceSize, !class.HasReferenceFields(), []Value{StructValue(st)}, nil)
}

// unboxCheck validates the source of an unbox: null raises
// NullReferenceException and any runtime type other than exactly the
// boxed class of typ raises InvalidCastException.
func (t *Thread) unboxCheck(obj *Object, typ *metadata.Type) bool {
	typ = canonicalType(typ)
	if obj == nil {
		t.ThrowNullReference()
		return false
	}
	class := t.process.boxClass(typ)
	if class == nil || obj.class.Class != class {
		t.ThrowInvalidCast(obj.class.Class, typ)
		return false
	}
	return true
}

// Unbox copies the value out of a boxed object of type typ. Float32
// payloads widen back to the stack's float representation.
func (t *Thread) Unbox(obj *Object, typ *metadata.Type) (Value, bool) {
	if !t.unboxCheck(obj, typ) {
		return Value{}, false
	}
	typ = canonicalType(typ)
	if typ.Kind.IsPrimitive() {
		return loadRaw(obj.data, typ.Kind), true
	}
	return copyValue(obj.fields[0]), true
}

// UnboxAddress returns a managed pointer into a boxed object's payload.
func (t *Thread) UnboxAddress(obj *Object, typ *metadata.Type) (*Address, bool) {
	if !t.unboxCheck(obj, typ) {
		return nil, false
	}
	typ = canonicalType(typ)
	if typ.Kind.IsPrimitive() {
		return bytesAddress(obj.data, 0, typ), true
	}
	return slotAddress(obj.fields, 0, typ), true
}
