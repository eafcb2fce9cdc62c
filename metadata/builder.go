package metadata

// DefineClass creates a class in module m.
func (m *Module) DefineClass(namespace, name string, parent *Class, attrs ClassAttrs) *Class {
	c := &Class{Name: name, Namespace: namespace, Parent: parent, Attrs: attrs}
	if parent != nil {
		switch parent.FullName() {
		case "System.ValueType":
			if c.FullName() != "System.Enum" {
				c.Attrs |= ClassValueType
			}
		case "System.Enum":
			c.Attrs |= ClassValueType
		}
	}
	m.AddClass(c)
	return c
}

// DefineStruct creates a value class deriving from valueType.
func (m *Module) DefineStruct(namespace, name string, valueType *Class) *Class {
	return m.DefineClass(namespace, name, valueType, ClassValueType|ClassSealed)
}

// AddField declares an instance or static field.
func (c *Class) AddField(name string, t *Type, attrs FieldAttrs) *Field {
	f := &Field{Name: name, Owner: c, Type: t, Attrs: attrs}
	c.Fields = append(c.Fields, f)
	return f
}

// AddMethod declares a method. Instance methods get HasThis set on their
// signature.
func (c *Class) AddMethod(name string, attrs MethodAttrs, sig *Signature, body *MethodBody) *Method {
	if attrs&MethodStatic == 0 && !sig.HasThis {
		sig = sig.Instance()
	}
	if name == ".ctor" || name == ".cctor" {
		attrs |= MethodSpecialName | MethodRTSpecialName
	}
	m := &Method{Name: name, Owner: c, Attrs: attrs, Signature: sig, Body: body}
	c.Methods = append(c.Methods, m)
	return m
}

// AddConstructor declares an instance constructor.
func (c *Class) AddConstructor(body *MethodBody, params ...*Type) *Method {
	return c.AddMethod(".ctor", 0, NewSignature(Void, params...), body)
}

// AddStaticConstructor declares the class constructor.
func (c *Class) AddStaticConstructor(body *MethodBody) *Method {
	return c.AddMethod(".cctor", MethodStatic, NewSignature(Void), body)
}

// NewBody wraps code in a method body.
func NewBody(maxStack int, code []byte, locals ...*Type) *MethodBody {
	return &MethodBody{MaxStack: maxStack, Code: code, Locals: locals, InitLocals: true}
}
