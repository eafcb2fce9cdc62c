package vm

import (
	"sync/atomic"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// ClassPrivate: per-class runtime layout
// ---------------------------------------------------------------------------

// Static constructor state bits kept in ClassPrivate.state.
const (
	cctorRunning uint32 = 1 << iota
	cctorOnce
)

// ClassPrivate is the engine's layout record for a class: instance slots,
// the static data block, the vtable and the static constructor state. It
// is built once under the metadata write lock and read without locking
// afterwards.
type ClassPrivate struct {
	Class        *metadata.Class
	Parent       *ClassPrivate
	InstanceSize int
	NumSlots     int
	VTable       *VTable
	Finalizer    *metadata.Method

	fields        map[*metadata.Field]int
	zero          []Value
	staticSlots   map[*metadata.Field]int
	statics       []Value
	threadStatics map[*metadata.Field]int
	threadZero    []Value

	isString bool
	state    atomic.Uint32
}

// HasFinalizer reports whether instances need a finalizer registered.
func (cp *ClassPrivate) HasFinalizer() bool { return cp.Finalizer != nil }

// Initialized reports whether the static constructor has completed or
// was never needed.
func (cp *ClassPrivate) Initialized() bool { return cp.state.Load()&cctorOnce != 0 }

func (cp *ClassPrivate) fieldSlot(f *metadata.Field) (int, bool) {
	slot, ok := cp.fields[f]
	return slot, ok
}

// newFields returns a fresh instance field block.
func (cp *ClassPrivate) newFields() []Value {
	out := make([]Value, len(cp.zero))
	for i, v := range cp.zero {
		out[i] = copyValue(v)
	}
	return out
}

// newStruct returns a zeroed unboxed instance of a value type.
func (cp *ClassPrivate) newStruct() *Struct {
	return &Struct{Class: cp, Fields: cp.newFields()}
}

// staticAddress returns the address of a static field's storage.
func (cp *ClassPrivate) staticAddress(t *Thread, f *metadata.Field) *Address {
	if slot, ok := cp.threadStatics[f]; ok {
		return slotAddress(t.threadStaticBlock(cp), slot, f.Type)
	}
	return slotAddress(cp.statics, cp.staticSlots[f], f.Type)
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// layoutLocked returns the layout record of c, building it and those of
// its ancestors and value-typed fields on first use. The caller holds
// the metadata write lock.
func (p *Process) layoutLocked(c *metadata.Class) *ClassPrivate {
	if cp, ok := p.classes[c]; ok {
		return cp
	}
	cp := &ClassPrivate{
		Class:         c,
		fields:        make(map[*metadata.Field]int),
		staticSlots:   make(map[*metadata.Field]int),
		threadStatics: make(map[*metadata.Field]int),
		isString:      c == p.corlib.String,
	}
	p.classes[c] = cp

	var parentVT *VTable
	if c.Parent != nil {
		cp.Parent = p.layoutLocked(c.Parent)
		for f, slot := range cp.Parent.fields {
			cp.fields[f] = slot
		}
		cp.zero = append(cp.zero, cp.Parent.zero...)
		cp.InstanceSize = cp.Parent.InstanceSize
		parentVT = cp.Parent.VTable
	}
	for _, f := range c.Fields {
		switch {
		case f.Has(metadata.FieldLiteral):
		case f.Has(metadata.FieldThreadStatic):
			cp.threadStatics[f] = len(cp.threadZero)
			cp.threadZero = append(cp.threadZero, p.zeroLocked(f.Type))
		case f.IsStatic():
			cp.staticSlots[f] = len(cp.statics)
			cp.statics = append(cp.statics, p.zeroLocked(f.Type))
		default:
			cp.fields[f] = len(cp.zero)
			cp.zero = append(cp.zero, p.zeroLocked(f.Type))
			cp.InstanceSize += p.sizeLocked(f.Type)
		}
	}
	cp.NumSlots = len(cp.zero)
	cp.VTable = newVTable(c, parentVT)
	if fin := c.Finalizer(); fin != nil {
		cp.Finalizer = fin
	}
	p.log.Debugf("laid out %s: %d slots, %d statics, %d bytes", c.FullName(), cp.NumSlots, len(cp.statics), cp.InstanceSize)
	return cp
}

// sizeLocked is the storage size of a location of type t.
func (p *Process) sizeLocked(t *metadata.Type) int {
	if t.Kind.IsPrimitive() {
		return t.Kind.Size()
	}
	if t.Kind == metadata.ElemValueType {
		return p.layoutLocked(t.Class).InstanceSize
	}
	return 8
}

// zeroLocked is the default value of a location of type t.
func (p *Process) zeroLocked(t *metadata.Type) Value {
	switch TypeToEngineType(t) {
	case EngineI4:
		return Int32Value(0)
	case EngineI8:
		return Int64Value(0)
	case EngineI:
		return NativeValue(0)
	case EngineF:
		return FloatValue(0)
	case EngineMV:
		return StructValue(p.layoutLocked(t.Class).newStruct())
	case EngineM:
		return ManagedValue(nil)
	case EngineT:
		return TransientValue(nil)
	}
	return NullValue()
}

// zeroValue is the default value of a location of type t, laying out
// value types as needed.
func (p *Process) zeroValue(t *metadata.Type) Value {
	t = canonicalType(t)
	if t.Kind == metadata.ElemValueType {
		return StructValue(p.ClassPrivate(t.Class).newStruct())
	}
	return p.zeroLocked(t)
}

// ClassPrivate returns the layout record of c, laying it out if needed.
func (p *Process) ClassPrivate(c *metadata.Class) *ClassPrivate {
	p.metadata.RLock()
	cp, ok := p.classes[c]
	p.metadata.RUnlock()
	if ok {
		return cp
	}
	p.lockMetadata()
	defer p.unlockMetadata()
	return p.layoutLocked(c)
}
