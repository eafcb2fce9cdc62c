package metadata

import "fmt"

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// ClassAttrs are type definition flags.
type ClassAttrs uint32

const (
	ClassInterface ClassAttrs = 1 << iota
	ClassAbstract
	ClassSealed
	ClassBeforeFieldInit
	ClassValueType
)

// Class is a type definition.
type Class struct {
	Name       string
	Namespace  string
	Parent     *Class
	Interfaces []*Class
	Attrs      ClassAttrs
	Fields     []*Field
	Methods    []*Method
	Module     *Module

	// Primitive is set on the corlib structs that box primitive values.
	Primitive ElementType

	// ElementType is set on synthesized array classes.
	ElementType *Type
}

// FullName returns Namespace.Name.
func (c *Class) FullName() string {
	if c == nil {
		return "<nil>"
	}
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "." + c.Name
}

func (c *Class) String() string { return c.FullName() }

// Has reports whether all of the given attributes are set.
func (c *Class) Has(a ClassAttrs) bool { return c.Attrs&a == a }

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool { return c.Has(ClassInterface) }

// IsValueType reports whether instances are stored inline.
func (c *Class) IsValueType() bool { return c.Has(ClassValueType) }

// IsArray reports whether c is a synthesized array class.
func (c *Class) IsArray() bool { return c.ElementType != nil }

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Parent {
		if k == other {
			return true
		}
	}
	return false
}

// Implements reports whether c or one of its ancestors implements iface.
func (c *Class) Implements(iface *Class) bool {
	for k := c; k != nil; k = k.Parent {
		for _, i := range k.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableTo reports whether a reference to c may be stored in a
// location of class target.
func (c *Class) IsAssignableTo(target *Class) bool {
	if c == target {
		return true
	}
	if target.IsInterface() {
		return c.Implements(target)
	}
	if c.IsArray() && target.IsArray() {
		ce, te := c.ElementType, target.ElementType
		if ce.IsReference() && te.IsReference() && ce.Class != nil && te.Class != nil {
			return ce.Class.IsAssignableTo(te.Class)
		}
		return Identical(ce, te)
	}
	return c.IsSubclassOf(target)
}

// StaticConstructor returns the class's .cctor, or nil.
func (c *Class) StaticConstructor() *Method {
	for _, m := range c.Methods {
		if m.IsStaticConstructor() {
			return m
		}
	}
	return nil
}

// Finalizer returns the nearest Finalize override below System.Object, or
// nil when the class only inherits the trivial one.
func (c *Class) Finalizer() *Method {
	for k := c; k != nil && k.Parent != nil; k = k.Parent {
		for _, m := range k.Methods {
			if m.Name == "Finalize" && !m.Has(MethodStatic) && len(m.Signature.Params) == 0 {
				return m
			}
		}
	}
	return nil
}

// LookupMethod finds a method declared on c by name and signature. A nil
// signature matches the first method with the name.
func (c *Class) LookupMethod(name string, sig *Signature) *Method {
	for _, m := range c.Methods {
		if m.Name == name && (sig == nil || m.Signature.Equal(sig)) {
			return m
		}
	}
	return nil
}

// FindMethod searches c and its ancestors.
func (c *Class) FindMethod(name string, sig *Signature) *Method {
	for k := c; k != nil; k = k.Parent {
		if m := k.LookupMethod(name, sig); m != nil {
			return m
		}
	}
	return nil
}

// LookupField finds a field declared on c or an ancestor.
func (c *Class) LookupField(name string) *Field {
	for k := c; k != nil; k = k.Parent {
		for _, f := range k.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// HasReferenceFields reports whether any instance field holds a reference,
// directly or through an embedded value type.
func (c *Class) HasReferenceFields() bool {
	if c.IsArray() {
		return !c.ElementType.Kind.IsPrimitive()
	}
	for k := c; k != nil; k = k.Parent {
		for _, f := range k.Fields {
			if f.Has(FieldStatic) {
				continue
			}
			switch {
			case f.Type.IsReference(), f.Type.Kind == ElemByRef:
				return true
			case f.Type.Kind == ElemValueType && f.Type.Class.HasReferenceFields():
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Access is member accessibility.
type Access uint8

const (
	Public Access = iota
	Private
	Family
	Assembly
)

// MethodAttrs are method definition flags.
type MethodAttrs uint32

const (
	MethodStatic MethodAttrs = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodFinal
	MethodNewSlot
	MethodSpecialName
	MethodRTSpecialName
	MethodInternalCall
)

// Method is a method definition.
type Method struct {
	Name      string
	Owner     *Class
	Attrs     MethodAttrs
	Access    Access
	Signature *Signature
	Body      *MethodBody
}

// Has reports whether all of the given attributes are set.
func (m *Method) Has(a MethodAttrs) bool { return m.Attrs&a == a }

// IsStatic reports whether the method has no this argument.
func (m *Method) IsStatic() bool { return m.Has(MethodStatic) }

// IsConstructor reports whether m is an instance constructor.
func (m *Method) IsConstructor() bool {
	return m.Name == ".ctor" && m.Has(MethodRTSpecialName) && !m.IsStatic()
}

// IsStaticConstructor reports whether m is a class constructor.
func (m *Method) IsStaticConstructor() bool {
	return m.Name == ".cctor" && m.Has(MethodRTSpecialName|MethodStatic)
}

// NumArgs counts declared parameters plus this.
func (m *Method) NumArgs() int {
	n := len(m.Signature.Params)
	if !m.IsStatic() {
		n++
	}
	return n
}

// ArgType returns the type of argument i, counting this as argument 0 on
// instance methods.
func (m *Method) ArgType(i int) *Type {
	if !m.IsStatic() {
		if i == 0 {
			if m.Owner.IsValueType() {
				return ByRefTo(ClassType(m.Owner))
			}
			return ClassType(m.Owner)
		}
		i--
	}
	return m.Signature.Params[i]
}

// FullName returns Owner::Name(signature).
func (m *Method) FullName() string {
	return fmt.Sprintf("%s::%s%s", m.Owner.FullName(), m.Name, paramList(m.Signature))
}

func (m *Method) String() string { return m.FullName() }

func paramList(s *Signature) string {
	full := s.String()
	for i := 0; i < len(full); i++ {
		if full[i] == '(' {
			return full[i:]
		}
	}
	return "()"
}

// ClauseKind is the kind of an exception clause.
type ClauseKind uint8

const (
	ClauseCatch ClauseKind = iota
	ClauseFinally
	ClauseFault
)

// ExceptionClause guards [TryOffset, TryOffset+TryLength).
type ExceptionClause struct {
	Kind          ClauseKind
	TryOffset     int
	TryLength     int
	HandlerOffset int
	HandlerLength int
	Class         *Class // catch clauses only
}

// InTry reports whether pc lies in the protected range.
func (c *ExceptionClause) InTry(pc int) bool {
	return pc >= c.TryOffset && pc < c.TryOffset+c.TryLength
}

// InHandler reports whether pc lies in the handler range.
func (c *ExceptionClause) InHandler(pc int) bool {
	return pc >= c.HandlerOffset && pc < c.HandlerOffset+c.HandlerLength
}

// MethodBody is the IL of a method.
type MethodBody struct {
	MaxStack   int
	Locals     []*Type
	Code       []byte
	Handlers   []ExceptionClause
	InitLocals bool
}

// FieldAttrs are field definition flags.
type FieldAttrs uint32

const (
	FieldStatic FieldAttrs = 1 << iota
	FieldThreadStatic
	FieldInitOnly
	FieldLiteral
)

// Field is a field definition.
type Field struct {
	Name   string
	Owner  *Class
	Type   *Type
	Attrs  FieldAttrs
	Access Access
}

// Has reports whether all of the given attributes are set.
func (f *Field) Has(a FieldAttrs) bool { return f.Attrs&a == a }

// IsStatic reports whether the field belongs to the class.
func (f *Field) IsStatic() bool { return f.Has(FieldStatic) }

func (f *Field) String() string {
	return f.Owner.FullName() + "::" + f.Name
}
