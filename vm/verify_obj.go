package vm

import (
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// checkInstance validates the object operand of an instance field access.
// Values on the stack can be read but have no address.
func (vs *verification) checkInstance(item StackItem, owner *metadata.Class, addressed bool) {
	switch item.Engine {
	case EngineO:
		if owner.IsValueType() || !assignCompatible(vs.v.Corlib, item, metadata.ClassType(owner)) {
			vs.fail(ErrType, "%s has no field of %s", item, owner.FullName())
		}
		return
	case EngineM:
		if owner.IsValueType() && metadata.Identical(item.Type, metadata.ClassType(owner)) {
			return
		}
	case EngineMV:
		if !addressed && metadata.Identical(item.Type, metadata.ClassType(owner)) {
			return
		}
	case EngineT:
		if vs.v.Unsafe {
			return
		}
	}
	vs.fail(ErrType, "%s has no field of %s", item, owner.FullName())
}

func (vs *verification) instanceField(op cil.Opcode, token uint32) {
	f := vs.resolveField(token)
	if f.IsStatic() {
		vs.fail(ErrType, "%s is static", f)
	}
	switch op {
	case cil.Ldfld:
		obj := vs.pop()
		vs.checkInstance(obj, f.Owner, false)
		vs.push(itemForType(f.Type))
		vs.coder.LoadField(FieldSite{Token: token, Field: f, Object: obj.Engine})
	case cil.Ldflda:
		obj := vs.pop()
		vs.checkInstance(obj, f.Owner, true)
		vs.push(StackItem{Engine: EngineM, Type: f.Type})
		vs.coder.LoadFieldAddr(FieldSite{Token: token, Field: f, Object: obj.Engine})
	case cil.Stfld:
		value := vs.pop()
		obj := vs.pop()
		vs.checkInstance(obj, f.Owner, true)
		if !assignCompatible(vs.v.Corlib, value, f.Type) {
			vs.fail(ErrType, "cannot store %s into %s", value, f)
		}
		vs.coder.StoreField(FieldSite{Token: token, Field: f, Object: obj.Engine}, value.Engine)
	}
}

func (vs *verification) staticField(op cil.Opcode, token uint32) {
	f := vs.resolveField(token)
	if !f.IsStatic() {
		vs.fail(ErrType, "%s is not static", f)
	}
	site := FieldSite{Token: token, Field: f, Object: EngineInvalid}
	switch op {
	case cil.Ldsfld:
		vs.push(itemForType(f.Type))
		vs.coder.LoadStaticField(site)
	case cil.Ldsflda:
		vs.push(StackItem{Engine: EngineM, Type: f.Type})
		vs.coder.LoadStaticFieldAddr(site)
	case cil.Stsfld:
		value := vs.pop()
		if !assignCompatible(vs.v.Corlib, value, f.Type) {
			vs.fail(ErrType, "cannot store %s into %s", value, f)
		}
		vs.coder.StoreStaticField(site, value.Engine)
	}
}

// ---------------------------------------------------------------------------
// Boxing and casts
// ---------------------------------------------------------------------------

func (vs *verification) box(token uint32) {
	site := vs.resolveType(token)
	from := vs.pop()
	if !site.Type.IsValueType() {
		if from.Engine != EngineO {
			vs.fail(ErrType, "cannot box %s as %s", from, site.Type)
		}
		vs.push(from)
		vs.coder.Box(site, from.Engine)
		return
	}
	if site.Class == nil || !assignCompatible(vs.v.Corlib, from, site.Type) {
		vs.fail(ErrType, "cannot box %s as %s", from, site.Type)
	}
	vs.push(StackItem{Engine: EngineO, Type: boxedType(site.Class)})
	vs.coder.Box(site, from.Engine)
}

func (vs *verification) unbox(op cil.Opcode, token uint32) {
	site := vs.resolveType(token)
	obj := vs.pop()
	if obj.Engine != EngineO {
		vs.fail(ErrType, "cannot unbox %s", obj)
	}
	if !site.Type.IsValueType() {
		if op == cil.Unbox {
			vs.fail(ErrType, "unbox to reference type %s", site.Type)
		}
		vs.push(StackItem{Engine: EngineO, Type: site.Type})
		vs.coder.CastClass(site, true)
		return
	}
	if op == cil.Unbox {
		vs.push(StackItem{Engine: EngineM, Type: site.Type})
		vs.coder.Unbox(site, false)
		return
	}
	vs.push(itemForType(site.Type))
	vs.coder.Unbox(site, true)
}

func (vs *verification) castClass(op cil.Opcode, token uint32) {
	site := vs.resolveType(token)
	obj := vs.pop()
	if obj.Engine != EngineO {
		vs.fail(ErrType, "cannot cast %s", obj)
	}
	if !site.Type.IsReference() && site.Class == nil {
		vs.fail(ErrType, "cannot cast to %s", site.Type)
	}
	t := site.Type
	if !t.IsReference() {
		t = boxedType(site.Class)
	}
	vs.push(StackItem{Engine: EngineO, Type: t})
	vs.coder.CastClass(site, op == cil.Castclass)
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// checkPointer validates an address operand that must point at t.
func (vs *verification) checkPointer(item StackItem, t *metadata.Type) {
	switch item.Engine {
	case EngineM:
		if sameStorage(item.Type, t) {
			return
		}
	case EngineT:
		return
	case EngineI:
		if vs.v.Unsafe {
			return
		}
	}
	vs.fail(ErrType, "%s is not an address of %s", item, t)
}

// sameStorage reports whether a location of type have can be accessed as
// type want. Integer types of equal width and category are
// interchangeable, as are all reference types.
func sameStorage(have, want *metadata.Type) bool {
	if have == nil || want == nil {
		return false
	}
	if metadata.Identical(have, want) {
		return true
	}
	if have.IsReference() && want.IsReference() {
		return true
	}
	if have.Kind.IsPrimitive() && want.Kind.IsPrimitive() {
		return TypeToEngineType(have) == TypeToEngineType(want) && have.Kind.Size() == want.Kind.Size()
	}
	return false
}

func (vs *verification) valueObject(op cil.Opcode, token uint32) {
	site := vs.resolveType(token)
	switch op {
	case cil.Initobj:
		vs.checkPointer(vs.pop(), site.Type)
		vs.coder.InitObject(site)
	case cil.Ldobj:
		vs.checkPointer(vs.pop(), site.Type)
		vs.push(itemForType(site.Type))
		vs.coder.CopyObject(op, site)
	case cil.Stobj:
		value := vs.pop()
		vs.checkPointer(vs.pop(), site.Type)
		if !assignCompatible(vs.v.Corlib, value, site.Type) {
			vs.fail(ErrType, "cannot store %s as %s", value, site.Type)
		}
		vs.coder.CopyObject(op, site)
	case cil.Cpobj:
		src := vs.pop()
		dest := vs.pop()
		vs.checkPointer(src, site.Type)
		vs.checkPointer(dest, site.Type)
		vs.coder.CopyObject(op, site)
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func (vs *verification) newArray(token uint32) {
	site := vs.resolveType(token)
	length := vs.pop()
	if length.Engine != EngineI4 && length.Engine != EngineI {
		vs.fail(ErrType, "array length is %s", length)
	}
	vs.push(StackItem{Engine: EngineO, Type: metadata.ArrayOf(site.Type)})
	vs.coder.NewArray(site, length.Engine)
}

// popArray pops an array reference, returning its element type or nil
// for the null constant.
func (vs *verification) popArray() *metadata.Type {
	item := vs.pop()
	if item.Engine != EngineO {
		vs.fail(ErrType, "%s is not an array", item)
	}
	if item.Type == nil {
		return nil
	}
	if item.Type.Kind != metadata.ElemSZArray {
		vs.fail(ErrType, "%s is not an array", item)
	}
	return item.Type.Elem
}

func (vs *verification) popIndex() EngineType {
	idx := vs.pop()
	if idx.Engine != EngineI4 && idx.Engine != EngineI {
		vs.fail(ErrType, "array index is %s", idx)
	}
	return idx.Engine
}

func (vs *verification) arrayLength() {
	vs.popArray()
	vs.pushEngine(EngineI)
	vs.coder.ArrayLength()
}

// elementOpType is the element type a typed array or indirect opcode
// accesses. A nil result with ok set means any reference type.
func elementOpType(op cil.Opcode) (t *metadata.Type, ok bool) {
	switch op {
	case cil.LdelemI1, cil.StelemI1, cil.LdindI1, cil.StindI1:
		return metadata.Int8, true
	case cil.LdelemU1, cil.LdindU1:
		return metadata.UInt8, true
	case cil.LdelemI2, cil.StelemI2, cil.LdindI2, cil.StindI2:
		return metadata.Int16, true
	case cil.LdelemU2, cil.LdindU2:
		return metadata.UInt16, true
	case cil.LdelemI4, cil.StelemI4, cil.LdindI4, cil.StindI4:
		return metadata.Int32, true
	case cil.LdelemU4, cil.LdindU4:
		return metadata.UInt32, true
	case cil.LdelemI8, cil.StelemI8, cil.LdindI8, cil.StindI8:
		return metadata.Int64, true
	case cil.LdelemI, cil.StelemI, cil.LdindI, cil.StindI:
		return metadata.IntPtr, true
	case cil.LdelemR4, cil.StelemR4, cil.LdindR4, cil.StindR4:
		return metadata.Float32, true
	case cil.LdelemR8, cil.StelemR8, cil.LdindR8, cil.StindR8:
		return metadata.Float64, true
	case cil.LdelemRef, cil.StelemRef, cil.LdindRef, cil.StindRef:
		return nil, true
	}
	return nil, false
}

// elementFor resolves the element type an array instruction works on.
func (vs *verification) elementFor(op cil.Opcode, in cil.Instruction, elem *metadata.Type) TypeSite {
	if op == cil.Ldelem || op == cil.Stelem || op == cil.Ldelema {
		site := vs.resolveType(in.Token())
		if elem != nil && !sameStorage(elem, site.Type) {
			vs.fail(ErrType, "array of %s accessed as %s", elem, site.Type)
		}
		return site
	}
	want, _ := elementOpType(op)
	if want == nil {
		if elem != nil && !elem.IsReference() {
			vs.fail(ErrType, "array of %s accessed as a reference", elem)
		}
		if elem == nil {
			elem = metadata.Object
		}
		return TypeSite{Type: elem, Class: vs.v.Corlib.ClassOf(elem)}
	}
	if elem != nil && !sameStorage(elem, want) {
		vs.fail(ErrType, "array of %s accessed as %s", elem, want)
	}
	return TypeSite{Type: want, Class: vs.v.Corlib.ClassOf(want)}
}

func (vs *verification) loadElement(op cil.Opcode, in cil.Instruction) {
	index := vs.popIndex()
	elem := vs.popArray()
	site := vs.elementFor(op, in, elem)
	if op == cil.Ldelema {
		vs.push(StackItem{Engine: EngineM, Type: site.Type})
	} else {
		vs.push(itemForType(site.Type))
	}
	vs.coder.ArrayAccess(op, index, site)
}

func (vs *verification) storeElement(op cil.Opcode, in cil.Instruction) {
	value := vs.pop()
	index := vs.popIndex()
	elem := vs.popArray()
	site := vs.elementFor(op, in, elem)
	ok := assignCompatible(vs.v.Corlib, value, site.Type)
	if op == cil.StelemRef {
		// Covariant stores are checked against the runtime element type.
		ok = value.Engine == EngineO
	}
	if !ok {
		vs.fail(ErrType, "cannot store %s into array of %s", value, site.Type)
	}
	vs.coder.ArrayAccess(op, index, site)
}

// ---------------------------------------------------------------------------
// Indirect access
// ---------------------------------------------------------------------------

func (vs *verification) indirectType(op cil.Opcode, ptr StackItem) *metadata.Type {
	want, _ := elementOpType(op)
	if want == nil {
		if ptr.Engine == EngineM && ptr.Type != nil && ptr.Type.IsReference() {
			return ptr.Type
		}
		if ptr.Engine != EngineM {
			vs.checkPointer(ptr, metadata.Object)
			return metadata.Object
		}
		vs.fail(ErrType, "%s does not address a reference", ptr)
	}
	vs.checkPointer(ptr, want)
	return want
}

func (vs *verification) loadIndirect(op cil.Opcode) {
	ptr := vs.pop()
	t := vs.indirectType(op, ptr)
	vs.push(itemForType(t))
	vs.coder.PtrAccess(op, t)
}

func (vs *verification) storeIndirect(op cil.Opcode) {
	value := vs.pop()
	ptr := vs.pop()
	t := vs.indirectType(op, ptr)
	if !assignCompatible(vs.v.Corlib, value, t) {
		vs.fail(ErrType, "cannot store %s through %s", value, ptr)
	}
	vs.coder.PtrAccess(op, t)
}
