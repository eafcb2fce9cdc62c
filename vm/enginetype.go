package vm

import (
	"fmt"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Engine types
// ---------------------------------------------------------------------------

// EngineType is the verifier's category for one stack slot.
type EngineType uint8

const (
	EngineI4      EngineType = iota // 32-bit integer
	EngineI8                        // 64-bit integer
	EngineI                         // native integer
	EngineF                         // floating point
	EngineM                         // managed pointer
	EngineO                         // object reference
	EngineT                         // transient (unmanaged) pointer
	EngineMV                        // managed value
	EngineInvalid                   // no valid category
)

const numEngineTypes = 8

var engineTypeNames = [...]string{"int32", "int64", "native int", "float", "&", "object", "*", "valuetype", "invalid"}

func (e EngineType) String() string {
	if int(e) < len(engineTypeNames) {
		return engineTypeNames[e]
	}
	return fmt.Sprintf("engine(%d)", e)
}

// IsInteger reports whether e is one of the integer categories.
func (e EngineType) IsInteger() bool {
	return e == EngineI4 || e == EngineI8 || e == EngineI
}

// IsPointer reports whether e is a managed or transient pointer.
func (e EngineType) IsPointer() bool {
	return e == EngineM || e == EngineT
}

// StackItem describes one simulated stack slot. Type refines object,
// value and pointer slots; a nil Type on an object slot is the null
// constant.
type StackItem struct {
	Engine EngineType
	Type   *metadata.Type
}

func (s StackItem) String() string {
	if s.Type == nil {
		if s.Engine == EngineO {
			return "null"
		}
		return s.Engine.String()
	}
	return fmt.Sprintf("%s(%s)", s.Engine, s.Type)
}

// Same reports exact shape identity, the only relation allowed at merge
// points.
func (s StackItem) Same(o StackItem) bool {
	if s.Engine != o.Engine {
		return false
	}
	if s.Type == nil || o.Type == nil {
		return s.Type == o.Type
	}
	return metadata.Identical(s.Type, o.Type)
}

// TypeToEngineType maps a signature type to its stack category.
func TypeToEngineType(t *metadata.Type) EngineType {
	switch t.Kind {
	case metadata.ElemBoolean, metadata.ElemChar,
		metadata.ElemI1, metadata.ElemU1, metadata.ElemI2, metadata.ElemU2,
		metadata.ElemI4, metadata.ElemU4:
		return EngineI4
	case metadata.ElemI8, metadata.ElemU8:
		return EngineI8
	case metadata.ElemI, metadata.ElemU:
		return EngineI
	case metadata.ElemR4, metadata.ElemR8:
		return EngineF
	case metadata.ElemValueType:
		return EngineMV
	case metadata.ElemPtr:
		return EngineT
	case metadata.ElemByRef:
		return EngineM
	case metadata.ElemVoid:
		return EngineInvalid
	}
	return EngineO
}

// itemForType builds the stack item a value of type t occupies.
func itemForType(t *metadata.Type) StackItem {
	e := TypeToEngineType(t)
	switch e {
	case EngineO, EngineMV:
		return StackItem{Engine: e, Type: t}
	case EngineM, EngineT:
		return StackItem{Engine: e, Type: t.Elem}
	}
	return StackItem{Engine: e}
}

// ---------------------------------------------------------------------------
// Type-inference matrices
// ---------------------------------------------------------------------------

// matrix is indexed by the engine types of the two operands; rows are the
// first operand. Entries are the result category or EngineInvalid.
type matrix [numEngineTypes][numEngineTypes]EngineType

func (m *matrix) lookup(a, b EngineType) EngineType {
	if a >= numEngineTypes || b >= numEngineTypes {
		return EngineInvalid
	}
	return m[a][b]
}

const (
	i4 = EngineI4
	i8 = EngineI8
	ni = EngineI
	fl = EngineF
	mp = EngineM
	ob = EngineO
	tp = EngineT
	no = EngineInvalid
)

// Columns and rows: I4, I8, I, F, &, O, *, MV.

// numericMatrix covers add, sub, mul, div and rem.
var numericMatrix = matrix{
	/* I4 */ {i4, no, ni, no, no, no, no, no},
	/* I8 */ {no, i8, no, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, no, no, no, no},
	/* F  */ {no, no, no, fl, no, no, no, no},
	/* &  */ {no, no, no, no, no, no, no, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {no, no, no, no, no, no, no, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// integerMatrix covers the bitwise operators, unsigned division and the
// overflow-checked arithmetic forms.
var integerMatrix = matrix{
	/* I4 */ {i4, no, ni, no, no, no, no, no},
	/* I8 */ {no, i8, no, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, no, no, no, no},
	/* F  */ {no, no, no, no, no, no, no, no},
	/* &  */ {no, no, no, no, no, no, no, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {no, no, no, no, no, no, no, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// shiftMatrix is indexed by value then shift amount.
var shiftMatrix = matrix{
	/* I4 */ {i4, no, i4, no, no, no, no, no},
	/* I8 */ {i8, no, i8, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, no, no, no, no},
	/* F  */ {no, no, no, no, no, no, no, no},
	/* &  */ {no, no, no, no, no, no, no, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {no, no, no, no, no, no, no, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// unsafeAddMatrix covers pointer plus integer in either order.
var unsafeAddMatrix = matrix{
	/* I4 */ {no, no, no, no, mp, no, tp, no},
	/* I8 */ {no, no, no, no, no, no, no, no},
	/* I  */ {no, no, no, no, mp, no, tp, no},
	/* F  */ {no, no, no, no, no, no, no, no},
	/* &  */ {mp, no, mp, no, no, no, no, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {tp, no, tp, no, no, no, no, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// unsafeSubMatrix covers pointer minus integer and pointer difference.
var unsafeSubMatrix = matrix{
	/* I4 */ {no, no, no, no, no, no, no, no},
	/* I8 */ {no, no, no, no, no, no, no, no},
	/* I  */ {no, no, no, no, no, no, no, no},
	/* F  */ {no, no, no, no, no, no, no, no},
	/* &  */ {mp, no, mp, no, ni, no, no, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {tp, no, tp, no, no, no, ni, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// compareMatrix covers the ordering comparisons and branches.
var compareMatrix = matrix{
	/* I4 */ {i4, no, ni, no, no, no, no, no},
	/* I8 */ {no, i8, no, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, no, no, no, no},
	/* F  */ {no, no, no, fl, no, no, no, no},
	/* &  */ {no, no, no, no, mp, no, tp, no},
	/* O  */ {no, no, no, no, no, no, no, no},
	/* *  */ {no, no, no, no, tp, no, tp, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// equalityMatrix adds object identity to compareMatrix. It also serves
// cgt.un and bgt.un, which compare references against null.
var equalityMatrix = matrix{
	/* I4 */ {i4, no, ni, no, no, no, no, no},
	/* I8 */ {no, i8, no, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, no, no, no, no},
	/* F  */ {no, no, no, fl, no, no, no, no},
	/* &  */ {no, no, no, no, mp, no, tp, no},
	/* O  */ {no, no, no, no, no, ob, no, no},
	/* *  */ {no, no, no, no, tp, no, tp, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// unsafeCompareMatrix additionally lets pointers be compared against
// native integers.
var unsafeCompareMatrix = matrix{
	/* I4 */ {i4, no, ni, no, no, no, no, no},
	/* I8 */ {no, i8, no, no, no, no, no, no},
	/* I  */ {ni, no, ni, no, mp, no, tp, no},
	/* F  */ {no, no, no, fl, no, no, no, no},
	/* &  */ {no, no, mp, no, mp, no, tp, no},
	/* O  */ {no, no, no, no, no, ob, no, no},
	/* *  */ {no, no, tp, no, tp, no, tp, no},
	/* MV */ {no, no, no, no, no, no, no, no},
}

// unaryBranchTypes lists the categories brtrue and brfalse accept.
var unaryBranchTypes = [numEngineTypes]bool{
	EngineI4: true, EngineI8: true, EngineI: true, EngineF: true,
	EngineM: true, EngineO: true, EngineT: true, EngineMV: false,
}

// negateTypes and notTypes list the operands of neg and not.
var (
	negateTypes = [numEngineTypes]bool{EngineI4: true, EngineI8: true, EngineI: true, EngineF: true}
	notTypes    = [numEngineTypes]bool{EngineI4: true, EngineI8: true, EngineI: true}
)

// ---------------------------------------------------------------------------
// Assignment compatibility
// ---------------------------------------------------------------------------

// assignCompatible reports whether a slot may be stored into a location of
// type t: arguments, locals, fields, array elements and return values.
func assignCompatible(corlib *metadata.Corlib, item StackItem, t *metadata.Type) bool {
	switch t.Kind {
	case metadata.ElemBoolean, metadata.ElemChar,
		metadata.ElemI1, metadata.ElemU1, metadata.ElemI2, metadata.ElemU2,
		metadata.ElemI4, metadata.ElemU4:
		return item.Engine == EngineI4 || item.Engine == EngineI
	case metadata.ElemI, metadata.ElemU:
		return item.Engine == EngineI4 || item.Engine == EngineI
	case metadata.ElemI8, metadata.ElemU8:
		return item.Engine == EngineI8
	case metadata.ElemR4, metadata.ElemR8:
		return item.Engine == EngineF
	case metadata.ElemValueType:
		return item.Engine == EngineMV && metadata.Identical(item.Type, t)
	case metadata.ElemByRef:
		return item.Engine == EngineM && metadata.Identical(item.Type, t.Elem)
	case metadata.ElemPtr:
		return item.Engine == EngineI || (item.Engine == EngineT && metadata.Identical(item.Type, t.Elem))
	case metadata.ElemVoid:
		return false
	}
	if item.Engine != EngineO {
		return false
	}
	if item.Type == nil || t.Kind == metadata.ElemObject {
		return true
	}
	from, to := corlib.ClassOf(item.Type), corlib.ClassOf(t)
	if from == nil || to == nil {
		return false
	}
	return from.IsAssignableTo(to)
}
