package image

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
	"github.com/chazu/ilvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// demoModule builds Demo.Program against corlib:
//
//	static int total;
//	static int Main() { Console.WriteLine("hi"); total = 5; return Guard(total); }
//	static int Guard(int x) { try { return 8 / (x - 5); } catch (DivideByZeroException) { return x + 3; } }
func demoModule(corlib *metadata.Corlib) *metadata.Module {
	mod := metadata.NewModule("demo")
	prog := mod.DefineClass("Demo", "Program", corlib.Object, 0)
	total := prog.AddField("total", metadata.Int32, metadata.FieldStatic)

	var writeLine *metadata.Method
	for _, m := range corlib.Console.Methods {
		if m.Name == "WriteLine" && len(m.Signature.Params) == 1 && metadata.Identical(m.Signature.Params[0], metadata.String) {
			writeLine = m
		}
	}

	gb := cil.NewBuilder()
	done := gb.NewLabel()
	tryStart := gb.Len()
	gb.EmitInt32(cil.LdcI4, 8).Emit(cil.Ldarg0).LoadInt(5).Emit(cil.Sub).Emit(cil.Div).Emit(cil.Stloc0).
		EmitBranch(cil.LeaveS, done)
	tryEnd := gb.Len()
	gb.Emit(cil.Pop).Emit(cil.Ldarg0).LoadInt(3).Emit(cil.Add).Emit(cil.Stloc0).EmitBranch(cil.LeaveS, done)
	handlerEnd := gb.Len()
	gb.Mark(done).Emit(cil.Ldloc0).Emit(cil.Ret)
	guardBody := metadata.NewBody(8, gb.Bytes(), metadata.Int32)
	guardBody.Handlers = []metadata.ExceptionClause{{
		Kind:          metadata.ClauseCatch,
		TryOffset:     tryStart,
		TryLength:     tryEnd - tryStart,
		HandlerOffset: tryEnd,
		HandlerLength: handlerEnd - tryEnd,
		Class:         corlib.DivideByZeroException,
	}}
	guard := prog.AddMethod("Guard", metadata.MethodStatic, metadata.NewSignature(metadata.Int32, metadata.Int32), guardBody)

	mb := cil.NewBuilder().
		EmitToken(cil.Ldstr, mod.StringToken("hi")).
		EmitToken(cil.Call, mod.MethodToken(writeLine)).
		LoadInt(5).EmitToken(cil.Stsfld, mod.FieldToken(total)).
		EmitToken(cil.Ldsfld, mod.FieldToken(total)).
		EmitToken(cil.Call, mod.MethodToken(guard)).
		Emit(cil.Ret)
	prog.AddMethod("Main", metadata.MethodStatic, metadata.NewSignature(metadata.Int32), metadata.NewBody(8, mb.Bytes()))
	return mod
}

func newProcess(t *testing.T, out *bytes.Buffer) *vm.Process {
	t.Helper()
	opts := vm.DefaultOptions()
	opts.Stdout = out
	p, err := vm.NewProcess(opts)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRoundTripRuns(t *testing.T) {
	src := newProcess(t, new(bytes.Buffer))
	path := filepath.Join(t.TempDir(), "demo.ilm")
	if err := WriteFile(path, demoModule(src.Corlib())); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// A different process has its own corlib; names must resolve against it.
	var out bytes.Buffer
	p := newProcess(t, &out)
	mod, err := ReadFile(path, p.Corlib().Module)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := p.LoadModule(mod); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	main, err := p.FindMethod("Demo.Program::Main")
	if err != nil {
		t.Fatalf("FindMethod: %v", err)
	}
	v, err := p.Invoke(context.Background(), main)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.Int32() != 8 {
		t.Errorf("Main() = %d, want 8", v.Int32())
	}
	if out.String() != "hi\n" {
		t.Errorf("output = %q, want hi", out.String())
	}
}

func TestRoundTripPreservesTables(t *testing.T) {
	corlib := metadata.NewCorlib()
	orig := demoModule(corlib)
	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data, corlib.Module)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Name != "demo" {
		t.Errorf("name = %q, want demo", got.Name)
	}
	if len(got.Methods()) != len(orig.Methods()) {
		t.Fatalf("method table has %d entries, want %d", len(got.Methods()), len(orig.Methods()))
	}
	for i, m := range got.Methods() {
		if m.FullName() != orig.Methods()[i].FullName() {
			t.Errorf("method token %d = %s, want %s", i+1, m, orig.Methods()[i])
		}
	}
	// The corlib reference resolves to the corlib's own descriptor.
	if got.Methods()[0].Owner != corlib.Console {
		t.Errorf("WriteLine owner = %p, want corlib Console", got.Methods()[0].Owner)
	}
	if s, _ := got.ResolveString(metadata.TokenString | 1); s != "hi" {
		t.Errorf("string 1 = %q, want hi", s)
	}

	guard := got.FindMethod("Demo.Program", "Guard")
	if guard == nil || guard.Body == nil {
		t.Fatal("Guard missing or bodyless")
	}
	if !bytes.Equal(guard.Body.Code, orig.FindMethod("Demo.Program", "Guard").Body.Code) {
		t.Error("Guard code differs")
	}
	if h := guard.Body.Handlers; len(h) != 1 || h[0].Class != corlib.DivideByZeroException {
		t.Errorf("handlers = %+v", h)
	}
	if f := got.Fields()[0]; f.Name != "total" || !f.IsStatic() || f.Owner != got.Classes[0] {
		t.Errorf("field = %s attrs %d", f, f.Attrs)
	}

	// Canonical encoding is stable.
	again, err := Marshal(got)
	if err != nil {
		t.Fatalf("Marshal again: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-encoding changed the image")
	}
}

func TestUnmarshalErrors(t *testing.T) {
	corlib := metadata.NewCorlib()
	good, err := Marshal(demoModule(corlib))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	wrongMagic, _ := encMode.Marshal(&file{Magic: "MAGI", Version: Version})
	future, _ := encMode.Marshal(&file{Magic: Magic, Version: Version + 1})
	badKind, _ := encMode.Marshal(&file{Magic: Magic, Version: Version, Types: []typeRec{{Kind: 200}}})

	tests := []struct {
		name string
		data []byte
		refs []*metadata.Module
		want error
	}{
		{"garbage", []byte("not cbor at all"), nil, ErrNotImage},
		{"wrong magic", wrongMagic, nil, ErrNotImage},
		{"future version", future, nil, ErrVersion},
		{"no corlib", good, nil, ErrUnresolved},
		{"bad element type", badKind, nil, ErrMalformed},
	}
	for _, tt := range tests {
		_, err := Unmarshal(tt.data, tt.refs...)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestUnmarshalDuplicateClass(t *testing.T) {
	data, _ := cbor.Marshal(&file{
		Magic: Magic, Version: Version,
		Classes: []classRec{{Namespace: "A", Name: "B"}, {Namespace: "A", Name: "B"}},
	})
	if _, err := Unmarshal(data); !errors.Is(err, ErrDuplicateDef) {
		t.Errorf("error = %v, want %v", err, ErrDuplicateDef)
	}
}

func TestDisassemble(t *testing.T) {
	mod := demoModule(metadata.NewCorlib())
	listing := Disassemble(mod)
	for _, want := range []string{
		".module demo",
		".class Demo.Program extends System.Object",
		".field static int32 total",
		"ldstr        \"hi\"",
		"call         System.Console::WriteLine(string)",
		"stsfld       Demo.Program::total",
		".locals (int32)",
		"catch System.DivideByZeroException handler",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing lacks %q:\n%s", want, listing)
		}
	}
}
