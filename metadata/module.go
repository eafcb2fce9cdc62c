package metadata

import (
	"errors"
	"fmt"
)

// Token tables.
const (
	TokenField  uint32 = 0x04000000
	TokenMethod uint32 = 0x06000000
	TokenType   uint32 = 0x1B000000
	TokenString uint32 = 0x70000000

	tokenTableMask uint32 = 0xFF000000
)

// Resolution errors.
var (
	ErrMissingMethod = errors.New("missing method")
	ErrMissingField  = errors.New("missing field")
	ErrMissingType   = errors.New("missing type")
	ErrMissingString = errors.New("missing string")
)

// Module is a loaded image: its classes plus the token tables that
// instruction operands index. Method and field tables may name members of
// other modules, standing in for resolved member references.
type Module struct {
	Name    string
	Classes []*Class

	methods []*Method
	fields  []*Field
	types   []*Type
	strings []string
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// AddClass registers a class definition with the module.
func (m *Module) AddClass(c *Class) {
	c.Module = m
	m.Classes = append(m.Classes, c)
}

// FindClass looks a class up by namespace and name.
func (m *Module) FindClass(namespace, name string) *Class {
	for _, c := range m.Classes {
		if c.Namespace == namespace && c.Name == name {
			return c
		}
	}
	return nil
}

// MethodToken returns the token for meth, adding it to the table.
func (m *Module) MethodToken(meth *Method) uint32 {
	for i, x := range m.methods {
		if x == meth {
			return TokenMethod | uint32(i+1)
		}
	}
	m.methods = append(m.methods, meth)
	return TokenMethod | uint32(len(m.methods))
}

// FieldToken returns the token for f, adding it to the table.
func (m *Module) FieldToken(f *Field) uint32 {
	for i, x := range m.fields {
		if x == f {
			return TokenField | uint32(i+1)
		}
	}
	m.fields = append(m.fields, f)
	return TokenField | uint32(len(m.fields))
}

// TypeToken returns the token for t, adding it to the table.
func (m *Module) TypeToken(t *Type) uint32 {
	for i, x := range m.types {
		if Identical(x, t) {
			return TokenType | uint32(i+1)
		}
	}
	m.types = append(m.types, t)
	return TokenType | uint32(len(m.types))
}

// StringToken returns the token for a user string literal.
func (m *Module) StringToken(s string) uint32 {
	for i, x := range m.strings {
		if x == s {
			return TokenString | uint32(i+1)
		}
	}
	m.strings = append(m.strings, s)
	return TokenString | uint32(len(m.strings))
}

func tokenIndex(tok, table uint32, n int) (int, bool) {
	if tok&tokenTableMask != table {
		return 0, false
	}
	idx := int(tok&^tokenTableMask) - 1
	return idx, idx >= 0 && idx < n
}

// ResolveMethod maps a method token to its descriptor.
func (m *Module) ResolveMethod(tok uint32) (*Method, error) {
	idx, ok := tokenIndex(tok, TokenMethod, len(m.methods))
	if !ok {
		return nil, fmt.Errorf("%w: token 0x%08x", ErrMissingMethod, tok)
	}
	return m.methods[idx], nil
}

// ResolveField maps a field token to its descriptor.
func (m *Module) ResolveField(tok uint32) (*Field, error) {
	idx, ok := tokenIndex(tok, TokenField, len(m.fields))
	if !ok {
		return nil, fmt.Errorf("%w: token 0x%08x", ErrMissingField, tok)
	}
	return m.fields[idx], nil
}

// ResolveType maps a type token to its signature.
func (m *Module) ResolveType(tok uint32) (*Type, error) {
	idx, ok := tokenIndex(tok, TokenType, len(m.types))
	if !ok {
		return nil, fmt.Errorf("%w: token 0x%08x", ErrMissingType, tok)
	}
	return m.types[idx], nil
}

// ResolveString maps a user string token to its text.
func (m *Module) ResolveString(tok uint32) (string, error) {
	idx, ok := tokenIndex(tok, TokenString, len(m.strings))
	if !ok {
		return "", fmt.Errorf("%w: token 0x%08x", ErrMissingString, tok)
	}
	return m.strings[idx], nil
}

// Methods returns the method token table in token order.
func (m *Module) Methods() []*Method { return m.methods }

// Fields returns the field token table in token order.
func (m *Module) Fields() []*Field { return m.fields }

// Types returns the type token table in token order.
func (m *Module) Types() []*Type { return m.types }

// Strings returns the user string table in token order.
func (m *Module) Strings() []string { return m.strings }

// FindMethod looks up "Namespace.Class::Name" among the module's classes.
func (m *Module) FindMethod(className, methodName string) *Method {
	for _, c := range m.Classes {
		if c.FullName() == className {
			return c.LookupMethod(methodName, nil)
		}
	}
	return nil
}
