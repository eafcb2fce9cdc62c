package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Test program scaffolding
// ---------------------------------------------------------------------------

// testProgram is a process with one loaded module whose Test.Program
// class holds the methods under test.
type testProgram struct {
	p      *Process
	module *metadata.Module
	class  *metadata.Class
	out    *bytes.Buffer
}

func newTestProgram(t *testing.T, configure ...func(*Options)) *testProgram {
	t.Helper()
	out := new(bytes.Buffer)
	opts := DefaultOptions()
	opts.Stdout = out
	for _, fn := range configure {
		fn(&opts)
	}
	p, err := NewProcess(opts)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	mod := metadata.NewModule("test")
	class := mod.DefineClass("Test", "Program", p.Corlib().Object, 0)
	if err := p.LoadModule(mod); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	return &testProgram{p: p, module: mod, class: class, out: out}
}

func (tp *testProgram) corlib() *metadata.Corlib { return tp.p.Corlib() }

// static declares a static method on Test.Program.
func (tp *testProgram) static(name string, ret *metadata.Type, params []*metadata.Type, b *cil.Builder, locals ...*metadata.Type) *metadata.Method {
	return tp.class.AddMethod(name, metadata.MethodStatic, metadata.NewSignature(ret, params...),
		metadata.NewBody(8, b.Bytes(), locals...))
}

// token returns the test module token for m.
func (tp *testProgram) token(m *metadata.Method) uint32 { return tp.module.MethodToken(m) }

// writeLine returns the Console.WriteLine overload taking t.
func (tp *testProgram) writeLine(t *metadata.Type) uint32 {
	for _, m := range tp.corlib().Console.Methods {
		if m.Name != "WriteLine" || len(m.Signature.Params) != 1 {
			continue
		}
		if metadata.Identical(m.Signature.Params[0], t) {
			return tp.token(m)
		}
	}
	panic("no WriteLine overload for " + t.String())
}

// ctor returns the token of class's constructor taking n parameters.
func (tp *testProgram) ctor(class *metadata.Class, n int) uint32 {
	for _, m := range class.Methods {
		if m.IsConstructor() && len(m.Signature.Params) == n {
			return tp.token(m)
		}
	}
	panic("no constructor on " + class.FullName())
}

func (tp *testProgram) invoke(m *metadata.Method, args ...Value) (Value, error) {
	return tp.p.Invoke(context.Background(), m, args...)
}

func (tp *testProgram) mustInvoke(t *testing.T, m *metadata.Method, args ...Value) Value {
	t.Helper()
	v, err := tp.invoke(m, args...)
	if err != nil {
		t.Fatalf("Invoke %s: %v", m.Name, err)
	}
	return v
}

// managedClass returns the exception class carried by err, or "".
func managedClass(err error) string {
	var me *ManagedError
	if errors.As(err, &me) {
		return me.Class
	}
	return ""
}

// expectThrow fails unless invoking m escapes with class.
func (tp *testProgram) expectThrow(t *testing.T, m *metadata.Method, class string, args ...Value) *ManagedError {
	t.Helper()
	_, err := tp.invoke(m, args...)
	if err == nil {
		t.Fatalf("Invoke %s succeeded, want %s", m.Name, class)
	}
	var me *ManagedError
	if !errors.As(err, &me) {
		t.Fatalf("Invoke %s error = %T %v, want *ManagedError", m.Name, err, err)
	}
	if me.Class != class {
		t.Fatalf("Invoke %s threw %s, want %s", m.Name, me, class)
	}
	return me
}

// region records where a range of instructions starts and ends.
type region struct{ start, end int }

func (r region) length() int { return r.end - r.start }

// catchClause builds a catch clause guarding try with handler.
func catchClause(try, handler region, class *metadata.Class) metadata.ExceptionClause {
	return metadata.ExceptionClause{
		Kind:          metadata.ClauseCatch,
		TryOffset:     try.start,
		TryLength:     try.length(),
		HandlerOffset: handler.start,
		HandlerLength: handler.length(),
		Class:         class,
	}
}

func finallyClause(try, handler region) metadata.ExceptionClause {
	return metadata.ExceptionClause{
		Kind:          metadata.ClauseFinally,
		TryOffset:     try.start,
		TryLength:     try.length(),
		HandlerOffset: handler.start,
		HandlerLength: handler.length(),
	}
}
