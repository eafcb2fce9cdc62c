package metadata

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Token tables
// ---------------------------------------------------------------------------

func TestTokens(t *testing.T) {
	c := NewCorlib()
	mod := NewModule("test")
	prog := mod.DefineClass("Test", "Program", c.Object, 0)
	f := prog.AddField("x", Int32, FieldStatic)
	m := prog.AddMethod("Main", MethodStatic, NewSignature(Void), nil)

	mt := mod.MethodToken(m)
	if mt != TokenMethod|1 || mod.MethodToken(m) != mt {
		t.Errorf("MethodToken = 0x%08x, want 0x06000001 twice", mt)
	}
	if ft := mod.FieldToken(f); ft != TokenField|1 {
		t.Errorf("FieldToken = 0x%08x, want 0x04000001", ft)
	}
	// Structurally identical types share a token.
	if a, b := mod.TypeToken(ArrayOf(Int32)), mod.TypeToken(ArrayOf(Int32)); a != b || a != TokenType|1 {
		t.Errorf("TypeToken = 0x%08x, 0x%08x, want one token", a, b)
	}
	if s1, s2 := mod.StringToken("hi"), mod.StringToken("there"); s1 != TokenString|1 || s2 != TokenString|2 {
		t.Errorf("StringToken = 0x%08x, 0x%08x", s1, s2)
	}

	if got, err := mod.ResolveMethod(mt); err != nil || got != m {
		t.Errorf("ResolveMethod = %v, %v", got, err)
	}
	if got, err := mod.ResolveString(TokenString | 2); err != nil || got != "there" {
		t.Errorf("ResolveString = %q, %v", got, err)
	}
	if len(mod.Methods()) != 1 || len(mod.Fields()) != 1 || len(mod.Types()) != 1 || len(mod.Strings()) != 2 {
		t.Errorf("table sizes = %d %d %d %d", len(mod.Methods()), len(mod.Fields()), len(mod.Types()), len(mod.Strings()))
	}
}

func TestResolveErrors(t *testing.T) {
	mod := NewModule("empty")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"method out of range", second(mod.ResolveMethod(TokenMethod | 1)), ErrMissingMethod},
		{"method zero index", second(mod.ResolveMethod(TokenMethod)), ErrMissingMethod},
		{"method wrong table", second(mod.ResolveMethod(TokenField | 1)), ErrMissingMethod},
		{"field", second(mod.ResolveField(TokenField | 3)), ErrMissingField},
		{"type", second(mod.ResolveType(TokenType | 1)), ErrMissingType},
		{"string", second(mod.ResolveString(TokenString | 1)), ErrMissingString},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func second[T any](_ T, err error) error { return err }

// ---------------------------------------------------------------------------
// Types and classes
// ---------------------------------------------------------------------------

func TestIdentical(t *testing.T) {
	c := NewCorlib()
	tests := []struct {
		a, b *Type
		want bool
	}{
		{Int32, PrimitiveType(ElemI4), true},
		{Int32, Int64, false},
		{ArrayOf(String), ArrayOf(String), true},
		{ArrayOf(String), ArrayOf(Object), false},
		{ByRefTo(Int32), PointerTo(Int32), false},
		{ClassType(c.Exception), ClassType(c.Exception), true},
		{ClassType(c.Exception), ClassType(c.Object), false},
		{Int32, nil, false},
	}
	for _, tt := range tests {
		if got := Identical(tt.a, tt.b); got != tt.want {
			t.Errorf("Identical(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClassRelations(t *testing.T) {
	c := NewCorlib()
	mod := NewModule("test")
	iface := mod.DefineClass("Test", "IShape", nil, ClassInterface|ClassAbstract)
	base := mod.DefineClass("Test", "Base", c.Object, 0)
	base.Interfaces = []*Class{iface}
	derived := mod.DefineClass("Test", "Derived", base, 0)
	point := mod.DefineStruct("Test", "Point", c.ValueType)

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"derived subclass of base", derived.IsSubclassOf(base), true},
		{"base subclass of derived", base.IsSubclassOf(derived), false},
		{"derived implements inherited interface", derived.Implements(iface), true},
		{"derived assignable to interface", derived.IsAssignableTo(iface), true},
		{"derived assignable to object", derived.IsAssignableTo(c.Object), true},
		{"derived[] assignable to base[]", c.ArrayClass(ClassType(derived)).IsAssignableTo(c.ArrayClass(ClassType(base))), true},
		{"int32[] assignable to int64[]", c.ArrayClass(Int32).IsAssignableTo(c.ArrayClass(Int64)), false},
		{"struct is a value type", point.IsValueType(), true},
		{"enum base is not", c.Enum.IsValueType(), false},
		{"int32 class is a value type", c.PrimitiveClass(ElemI4).IsValueType(), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if c.ArrayClass(Int32) != c.ArrayClass(PrimitiveType(ElemI4)) {
		t.Error("ArrayClass should return one class per element type")
	}
}

func TestMethods(t *testing.T) {
	c := NewCorlib()
	mod := NewModule("test")
	k := mod.DefineClass("Test", "Counter", c.Object, 0)
	cctor := k.AddStaticConstructor(nil)
	ctor := k.AddConstructor(nil, Int32)
	add := k.AddMethod("Add", 0, NewSignature(Int32, Int32), nil)
	addLong := k.AddMethod("Add", 0, NewSignature(Int64, Int64), nil)
	k.AddMethod("Finalize", MethodVirtual, NewSignature(Void), nil)

	if k.StaticConstructor() != cctor || !cctor.IsStaticConstructor() || cctor.IsConstructor() {
		t.Error("static constructor not recognized")
	}
	if !ctor.IsConstructor() || ctor.NumArgs() != 2 {
		t.Errorf("ctor: IsConstructor %v NumArgs %d", ctor.IsConstructor(), ctor.NumArgs())
	}
	if got := add.ArgType(0); !Identical(got, ClassType(k)) {
		t.Errorf("ArgType(0) = %v, want Test.Counter", got)
	}
	if got := add.ArgType(1); got != Int32 {
		t.Errorf("ArgType(1) = %v, want int32", got)
	}
	if got := add.FullName(); got != "Test.Counter::Add(int32)" {
		t.Errorf("FullName = %q", got)
	}

	if k.LookupMethod("Add", nil) != add {
		t.Error("LookupMethod with nil signature should return the first overload")
	}
	if k.LookupMethod("Add", NewSignature(Int64, Int64).Instance()) != addLong {
		t.Error("LookupMethod should match the int64 overload")
	}
	if k.FindMethod("GetHashCode", nil) == nil {
		t.Error("FindMethod should search System.Object")
	}
	if k.Finalizer() == nil || mod.DefineClass("Test", "Plain", c.Object, 0).Finalizer() != nil {
		t.Error("Finalizer should only report overrides below System.Object")
	}
	if mod.FindMethod("Test.Counter", "Add") != add || mod.FindMethod("Test.Nope", "Add") != nil {
		t.Error("Module.FindMethod by full class name")
	}
}

func TestCorlib(t *testing.T) {
	c := NewCorlib()
	for _, name := range []string{
		"System.DivideByZeroException",
		"System.TypeInitializationException",
		"System.Threading.ThreadAbortException",
		"System.Security.VerificationException",
		"System.AccessViolationException",
	} {
		k := c.FindClass(name)
		if k == nil {
			t.Errorf("FindClass(%q) = nil", name)
			continue
		}
		if !k.IsSubclassOf(c.Exception) {
			t.Errorf("%s does not derive from System.Exception", name)
		}
	}
	if got := c.ClassOf(Int32); got != c.PrimitiveClass(ElemI4) {
		t.Errorf("ClassOf(int32) = %v", got)
	}
	if got := c.TypeOfClass(c.String); got != String {
		t.Errorf("TypeOfClass(String) = %v", got)
	}
	if c.String.LookupMethod("Intern", nil) == nil || !c.String.LookupMethod("Intern", nil).Has(MethodInternalCall) {
		t.Error("String::Intern should be an internal call")
	}
}
