package vm

import (
	"errors"
	"testing"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

func TestParseArgs(t *testing.T) {
	tp := newTestProgram(t)
	th := tp.p.NewThread()
	defer th.Close()

	params := []*metadata.Type{
		metadata.Int32, metadata.UInt8, metadata.Int64, metadata.Float64,
		metadata.Boolean, metadata.Char, metadata.String,
	}
	m := tp.static("Many", metadata.Void, params, cil.NewBuilder().Emit(cil.Ret))

	vals, err := ParseArgs(th, m, []string{"-7", "0xff", "9000000000", "2.5", "true", "x", "hello"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	want := []Value{
		Int32Value(-7), Int32Value(255), Int64Value(9000000000), FloatValue(2.5),
		Int32Value(1), Int32Value('x'),
	}
	for i, w := range want {
		if vals[i].Tag != w.Tag || vals[i].Uint64() != w.Uint64() {
			t.Errorf("arg %d = %v, want %v", i, vals[i], w)
		}
	}
	if got := vals[6].String(); got != "hello" {
		t.Errorf("string arg = %q, want hello", got)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tp := newTestProgram(t)
	th := tp.p.NewThread()
	defer th.Close()

	m := tp.static("One", metadata.Void, []*metadata.Type{metadata.Int8}, cil.NewBuilder().Emit(cil.Ret))
	tests := []struct {
		name string
		args []string
	}{
		{"too few", nil},
		{"too many", []string{"1", "2"}},
		{"not a number", []string{"one"}},
		{"out of range", []string{"200"}},
	}
	for _, tt := range tests {
		if _, err := ParseArgs(th, m, tt.args); !errors.Is(err, ErrBadArgument) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, ErrBadArgument)
		}
	}
}

func TestVerifyModule(t *testing.T) {
	tp := newTestProgram(t)
	tp.static("Good", metadata.Int32, nil, cil.NewBuilder().LoadInt(1).Emit(cil.Ret))
	tp.static("Bad", metadata.Int32, nil, cil.NewBuilder().Emit(cil.Ret))
	tp.class.AddMethod("Native", metadata.MethodStatic|metadata.MethodInternalCall,
		metadata.NewSignature(metadata.Void), nil)

	out := tp.p.VerifyModule(tp.module)
	if len(out) != 2 {
		t.Fatalf("VerifyModule returned %d outcomes, want 2", len(out))
	}
	if out[0].Method.Name != "Good" || out[0].Err != nil || out[0].Result == nil {
		t.Errorf("Good = %+v", out[0])
	}
	if out[1].Method.Name != "Bad" || !errors.Is(out[1].Err, ErrStack) {
		t.Errorf("Bad error = %v, want %v", out[1].Err, ErrStack)
	}
}
