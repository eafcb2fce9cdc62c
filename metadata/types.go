// Package metadata describes the classes, methods, fields and types an
// image contributes to the engine. The engine reads these descriptors; it
// never mutates them after a module has been loaded.
package metadata

import (
	"fmt"
	"strings"
)

// ElementType is the primitive category of a type signature.
type ElementType uint8

const (
	ElemVoid ElementType = iota
	ElemBoolean
	ElemChar
	ElemI1
	ElemU1
	ElemI2
	ElemU2
	ElemI4
	ElemU4
	ElemI8
	ElemU8
	ElemR4
	ElemR8
	ElemI
	ElemU
	ElemString
	ElemObject
	ElemClass     // reference type named by Class
	ElemValueType // value type named by Class
	ElemSZArray   // single-dimension, zero-based array of Elem
	ElemPtr       // unmanaged pointer to Elem
	ElemByRef     // managed pointer to Elem
)

var elementNames = [...]string{
	ElemVoid:      "void",
	ElemBoolean:   "bool",
	ElemChar:      "char",
	ElemI1:        "int8",
	ElemU1:        "uint8",
	ElemI2:        "int16",
	ElemU2:        "uint16",
	ElemI4:        "int32",
	ElemU4:        "uint32",
	ElemI8:        "int64",
	ElemU8:        "uint64",
	ElemR4:        "float32",
	ElemR8:        "float64",
	ElemI:         "native int",
	ElemU:         "native uint",
	ElemString:    "string",
	ElemObject:    "object",
	ElemClass:     "class",
	ElemValueType: "valuetype",
	ElemSZArray:   "[]",
	ElemPtr:       "*",
	ElemByRef:     "&",
}

func (e ElementType) String() string {
	if int(e) < len(elementNames) {
		return elementNames[e]
	}
	return fmt.Sprintf("element(%d)", e)
}

// IsPrimitive reports whether e is a fixed-size numeric or boolean type.
func (e ElementType) IsPrimitive() bool {
	return e >= ElemBoolean && e <= ElemU
}

// Size returns the storage width of a primitive element in bytes, or 0.
// Native integers are 8 bytes wide.
func (e ElementType) Size() int {
	switch e {
	case ElemBoolean, ElemI1, ElemU1:
		return 1
	case ElemChar, ElemI2, ElemU2:
		return 2
	case ElemI4, ElemU4, ElemR4:
		return 4
	case ElemI8, ElemU8, ElemR8, ElemI, ElemU:
		return 8
	}
	return 0
}

// Type is a type signature.
type Type struct {
	Kind  ElementType
	Class *Class // ElemClass, ElemValueType
	Elem  *Type  // ElemSZArray, ElemPtr, ElemByRef
}

// Primitive type singletons.
var (
	Void    = &Type{Kind: ElemVoid}
	Boolean = &Type{Kind: ElemBoolean}
	Char    = &Type{Kind: ElemChar}
	Int8    = &Type{Kind: ElemI1}
	UInt8   = &Type{Kind: ElemU1}
	Int16   = &Type{Kind: ElemI2}
	UInt16  = &Type{Kind: ElemU2}
	Int32   = &Type{Kind: ElemI4}
	UInt32  = &Type{Kind: ElemU4}
	Int64   = &Type{Kind: ElemI8}
	UInt64  = &Type{Kind: ElemU8}
	Float32 = &Type{Kind: ElemR4}
	Float64 = &Type{Kind: ElemR8}
	IntPtr  = &Type{Kind: ElemI}
	UIntPtr = &Type{Kind: ElemU}
	String  = &Type{Kind: ElemString}
	Object  = &Type{Kind: ElemObject}
)

var primitiveTypes = map[ElementType]*Type{
	ElemVoid: Void, ElemBoolean: Boolean, ElemChar: Char,
	ElemI1: Int8, ElemU1: UInt8, ElemI2: Int16, ElemU2: UInt16,
	ElemI4: Int32, ElemU4: UInt32, ElemI8: Int64, ElemU8: UInt64,
	ElemR4: Float32, ElemR8: Float64, ElemI: IntPtr, ElemU: UIntPtr,
	ElemString: String, ElemObject: Object,
}

// PrimitiveType returns the singleton for a primitive element type.
func PrimitiveType(e ElementType) *Type {
	return primitiveTypes[e]
}

// ClassType returns a reference type naming c. Value classes yield a
// value type signature instead.
func ClassType(c *Class) *Type {
	if c.IsValueType() {
		return &Type{Kind: ElemValueType, Class: c}
	}
	return &Type{Kind: ElemClass, Class: c}
}

// ArrayOf returns the single-dimension array type of elem.
func ArrayOf(elem *Type) *Type { return &Type{Kind: ElemSZArray, Elem: elem} }

// PointerTo returns an unmanaged pointer type.
func PointerTo(elem *Type) *Type { return &Type{Kind: ElemPtr, Elem: elem} }

// ByRefTo returns a managed pointer type.
func ByRefTo(elem *Type) *Type { return &Type{Kind: ElemByRef, Elem: elem} }

// IsValueType reports whether values of t are stored inline.
func (t *Type) IsValueType() bool {
	return t.Kind == ElemValueType || t.Kind.IsPrimitive()
}

// IsReference reports whether t is an object reference type.
func (t *Type) IsReference() bool {
	switch t.Kind {
	case ElemString, ElemObject, ElemClass, ElemSZArray:
		return true
	}
	return false
}

// Identical reports structural type identity.
func Identical(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ElemClass, ElemValueType:
		return a.Class == b.Class
	case ElemSZArray, ElemPtr, ElemByRef:
		return Identical(a.Elem, b.Elem)
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case ElemClass, ElemValueType:
		return t.Class.FullName()
	case ElemSZArray:
		return t.Elem.String() + "[]"
	case ElemPtr:
		return t.Elem.String() + "*"
	case ElemByRef:
		return t.Elem.String() + "&"
	}
	return t.Kind.String()
}

// Signature is a method signature.
type Signature struct {
	HasThis bool
	Return  *Type
	Params  []*Type
}

// NewSignature builds a static signature.
func NewSignature(ret *Type, params ...*Type) *Signature {
	if ret == nil {
		ret = Void
	}
	return &Signature{Return: ret, Params: params}
}

// Instance returns a copy of s with an implicit this argument.
func (s *Signature) Instance() *Signature {
	c := *s
	c.HasThis = true
	return &c
}

// Equal reports whether two signatures have identical shapes.
func (s *Signature) Equal(o *Signature) bool {
	if s.HasThis != o.HasThis || !Identical(s.Return, o.Return) || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if !Identical(s.Params[i], o.Params[i]) {
			return false
		}
	}
	return true
}

func (s *Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.Return.String())
	sb.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
