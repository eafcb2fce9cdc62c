package metadata

import "sync"

// Corlib holds the well-known classes every process needs: the root of
// the hierarchy, strings, arrays, the primitive structs used for boxing,
// and the system exception tree.
type Corlib struct {
	Module *Module

	Object    *Class
	ValueType *Class
	Enum      *Class
	String    *Class
	Array     *Class
	Console   *Class
	Math      *Class
	Monitor   *Class

	Exception                    *Class
	SystemException              *Class
	ArithmeticException          *Class
	OverflowException            *Class
	DivideByZeroException        *Class
	NullReferenceException       *Class
	InvalidCastException         *Class
	IndexOutOfRangeException     *Class
	OutOfMemoryException         *Class
	TypeInitializationException  *Class
	MissingMethodException       *Class
	MissingFieldException        *Class
	VerificationException        *Class
	SecurityException            *Class
	ThreadAbortException         *Class
	InvalidProgramException      *Class
	ArgumentException            *Class
	NotSupportedException        *Class
	ArrayTypeMismatchException   *Class
	StackOverflowException       *Class
	SynchronizationLockException *Class
	AccessViolationException     *Class

	// Exception instance fields.
	MessageField    *Field
	InnerField      *Field
	StackTraceField *Field

	primitives map[ElementType]*Class

	arraysMu sync.Mutex
	arrays   map[string]*Class
}

// NewCorlib builds the system module.
func NewCorlib() *Corlib {
	m := NewModule("corlib")
	c := &Corlib{Module: m, primitives: make(map[ElementType]*Class), arrays: make(map[string]*Class)}

	c.Object = m.DefineClass("System", "Object", nil, 0)
	c.ValueType = m.DefineClass("System", "ValueType", c.Object, ClassAbstract)
	c.Enum = m.DefineClass("System", "Enum", c.ValueType, ClassAbstract)
	c.String = m.DefineClass("System", "String", c.Object, ClassSealed)
	c.Array = m.DefineClass("System", "Array", c.Object, ClassAbstract)
	c.Console = m.DefineClass("System", "Console", c.Object, ClassSealed|ClassBeforeFieldInit)
	c.Math = m.DefineClass("System", "Math", c.Object, ClassSealed|ClassBeforeFieldInit)
	c.Monitor = m.DefineClass("System.Threading", "Monitor", c.Object, ClassSealed|ClassBeforeFieldInit)

	prims := []struct {
		name string
		elem ElementType
	}{
		{"Boolean", ElemBoolean}, {"Char", ElemChar},
		{"SByte", ElemI1}, {"Byte", ElemU1},
		{"Int16", ElemI2}, {"UInt16", ElemU2},
		{"Int32", ElemI4}, {"UInt32", ElemU4},
		{"Int64", ElemI8}, {"UInt64", ElemU8},
		{"Single", ElemR4}, {"Double", ElemR8},
		{"IntPtr", ElemI}, {"UIntPtr", ElemU},
	}
	for _, p := range prims {
		k := m.DefineStruct("System", p.name, c.ValueType)
		k.Primitive = p.elem
		k.AddField("m_value", PrimitiveType(p.elem), 0)
		c.primitives[p.elem] = k
	}

	c.bootstrapExceptions()
	c.bootstrapInternals()
	return c
}

func (c *Corlib) bootstrapExceptions() {
	m := c.Module
	c.Exception = m.DefineClass("System", "Exception", c.Object, 0)
	c.MessageField = c.Exception.AddField("message", String, 0)
	c.InnerField = c.Exception.AddField("innerException", ClassType(c.Exception), 0)
	c.StackTraceField = c.Exception.AddField("stackTrace", String, 0)

	c.SystemException = m.DefineClass("System", "SystemException", c.Exception, 0)
	c.ArithmeticException = m.DefineClass("System", "ArithmeticException", c.SystemException, 0)
	c.OverflowException = m.DefineClass("System", "OverflowException", c.ArithmeticException, 0)
	c.DivideByZeroException = m.DefineClass("System", "DivideByZeroException", c.ArithmeticException, 0)
	c.NullReferenceException = m.DefineClass("System", "NullReferenceException", c.SystemException, 0)
	c.InvalidCastException = m.DefineClass("System", "InvalidCastException", c.SystemException, 0)
	c.IndexOutOfRangeException = m.DefineClass("System", "IndexOutOfRangeException", c.SystemException, 0)
	c.OutOfMemoryException = m.DefineClass("System", "OutOfMemoryException", c.SystemException, 0)
	c.TypeInitializationException = m.DefineClass("System", "TypeInitializationException", c.SystemException, ClassSealed)
	c.MissingMethodException = m.DefineClass("System", "MissingMethodException", c.SystemException, 0)
	c.MissingFieldException = m.DefineClass("System", "MissingFieldException", c.SystemException, 0)
	c.VerificationException = m.DefineClass("System.Security", "VerificationException", c.SystemException, 0)
	c.SecurityException = m.DefineClass("System.Security", "SecurityException", c.SystemException, 0)
	c.ThreadAbortException = m.DefineClass("System.Threading", "ThreadAbortException", c.SystemException, ClassSealed)
	c.InvalidProgramException = m.DefineClass("System", "InvalidProgramException", c.SystemException, 0)
	c.ArgumentException = m.DefineClass("System", "ArgumentException", c.SystemException, 0)
	c.NotSupportedException = m.DefineClass("System", "NotSupportedException", c.SystemException, 0)
	c.ArrayTypeMismatchException = m.DefineClass("System", "ArrayTypeMismatchException", c.SystemException, 0)
	c.StackOverflowException = m.DefineClass("System", "StackOverflowException", c.SystemException, ClassSealed)
	c.SynchronizationLockException = m.DefineClass("System.Threading", "SynchronizationLockException", c.SystemException, 0)
	c.AccessViolationException = m.DefineClass("System", "AccessViolationException", c.SystemException, 0)
}

// bootstrapInternals declares the methods implemented by the engine's
// internal-call registry.
func (c *Corlib) bootstrapInternals() {
	ic := MethodInternalCall
	obj := ClassType(c.Object)

	c.Object.AddConstructor(nil)
	c.Object.AddMethod("GetHashCode", ic|MethodVirtual, NewSignature(Int32), nil)
	c.Object.AddMethod("ToString", ic|MethodVirtual, NewSignature(String), nil)
	c.Object.AddMethod("Equals", ic|MethodVirtual, NewSignature(Boolean, Object), nil)
	c.Object.AddMethod("Finalize", ic|MethodVirtual, NewSignature(Void), nil)

	c.String.AddMethod("get_Length", ic, NewSignature(Int32), nil)
	c.String.AddMethod("Concat", ic|MethodStatic, NewSignature(String, String, String), nil)
	c.String.AddMethod("Intern", ic|MethodStatic, NewSignature(String, String), nil)
	c.String.AddMethod("IsInterned", ic|MethodStatic, NewSignature(String, String), nil)

	c.Exception.AddConstructor(nil)
	c.Exception.AddConstructor(nil, String)
	c.Exception.AddMethod("get_Message", ic|MethodVirtual, NewSignature(String), nil)
	c.Exception.AddMethod("get_InnerException", ic, NewSignature(ClassType(c.Exception)), nil)

	for _, t := range []*Type{Int32, Int64, Float64, String, Object, Boolean} {
		c.Console.AddMethod("WriteLine", ic|MethodStatic, NewSignature(Void, t), nil)
	}
	c.Console.AddMethod("WriteLine", ic|MethodStatic, NewSignature(Void), nil)

	c.Math.AddMethod("Sqrt", ic|MethodStatic, NewSignature(Float64, Float64), nil)
	c.Math.AddMethod("Abs", ic|MethodStatic, NewSignature(Float64, Float64), nil)
	c.Math.AddMethod("Abs", ic|MethodStatic, NewSignature(Int32, Int32), nil)
	c.Math.AddMethod("Max", ic|MethodStatic, NewSignature(Int32, Int32, Int32), nil)

	c.Monitor.AddMethod("Enter", ic|MethodStatic, NewSignature(Void, obj), nil)
	c.Monitor.AddMethod("Exit", ic|MethodStatic, NewSignature(Void, obj), nil)
	c.Monitor.AddMethod("TryEnter", ic|MethodStatic, NewSignature(Boolean, obj), nil)

	for _, m := range c.allMethods() {
		if m.IsConstructor() {
			m.Attrs |= ic
		}
	}
}

func (c *Corlib) allMethods() []*Method {
	var out []*Method
	for _, k := range c.Module.Classes {
		out = append(out, k.Methods...)
	}
	return out
}

// PrimitiveClass returns the boxed class of a primitive element type.
func (c *Corlib) PrimitiveClass(e ElementType) *Class {
	return c.primitives[e]
}

// ClassOf returns the class that represents values of t when boxed or
// referenced, synthesizing array classes on demand.
func (c *Corlib) ClassOf(t *Type) *Class {
	switch t.Kind {
	case ElemClass, ElemValueType:
		return t.Class
	case ElemString:
		return c.String
	case ElemObject:
		return c.Object
	case ElemSZArray:
		return c.ArrayClass(t.Elem)
	}
	return c.primitives[t.Kind]
}

// ArrayClass returns the synthesized class for arrays of elem.
func (c *Corlib) ArrayClass(elem *Type) *Class {
	key := elem.String()
	c.arraysMu.Lock()
	defer c.arraysMu.Unlock()
	if k, ok := c.arrays[key]; ok {
		return k
	}
	k := &Class{Name: key + "[]", Namespace: "", Parent: c.Array, Attrs: ClassSealed, Module: c.Module, ElementType: elem}
	c.arrays[key] = k
	return k
}

// FindClass resolves a corlib class by full name.
func (c *Corlib) FindClass(fullName string) *Class {
	for _, k := range c.Module.Classes {
		if k.FullName() == fullName {
			return k
		}
	}
	return nil
}

// TypeOfClass returns the signature used for values of class k.
func (c *Corlib) TypeOfClass(k *Class) *Type {
	switch {
	case k.Primitive != ElemVoid:
		return PrimitiveType(k.Primitive)
	case k == c.String:
		return String
	case k == c.Object:
		return Object
	case k.IsArray():
		return ArrayOf(k.ElementType)
	}
	return ClassType(k)
}
