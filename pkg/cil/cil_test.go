package cil

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op      Opcode
		name    string
		operand OperandKind
		len     int
	}{
		{Nop, "nop", OperandNone, 1},
		{LdcI4S, "ldc.i4.s", OperandInt8, 1},
		{LdcI4, "ldc.i4", OperandInt32, 1},
		{LdcI8, "ldc.i8", OperandInt64, 1},
		{LdcR4, "ldc.r4", OperandFloat32, 1},
		{LdcR8, "ldc.r8", OperandFloat64, 1},
		{BrS, "br.s", OperandBranch8, 1},
		{Br, "br", OperandBranch32, 1},
		{Switch, "switch", OperandSwitch, 1},
		{Call, "call", OperandToken, 1},
		{Ceq, "ceq", OperandNone, 2},
		{Ldloc, "ldloc", OperandVar16, 2},
		{Initobj, "initobj", OperandToken, 2},
	}
	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%#x: Name = %q, want %q", uint16(tt.op), info.Name, tt.name)
		}
		if info.Operand != tt.operand {
			t.Errorf("%s: Operand = %d, want %d", tt.op, info.Operand, tt.operand)
		}
		if tt.op.Len() != tt.len {
			t.Errorf("%s: Len = %d, want %d", tt.op, tt.op.Len(), tt.len)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0x24)
	if op.Known() {
		t.Fatal("0x24 should not be a known opcode")
	}
	if got := op.Name(); got != "UNKNOWN_24" {
		t.Errorf("Name = %q, want UNKNOWN_24", got)
	}
	if _, err := Decode([]byte{0x24}, 0); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("Decode error = %v, want ErrUnknownOpcode", err)
	}
}

func TestBranchForms(t *testing.T) {
	if BrS.LongForm() != Br || BltUnS.LongForm() != BltUn || LeaveS.LongForm() != Leave {
		t.Error("LongForm mapping is wrong")
	}
	if Beq.ShortForm() != BeqS || Leave.ShortForm() != LeaveS {
		t.Error("ShortForm mapping is wrong")
	}
	if Add.LongForm() != Add {
		t.Error("non-branch LongForm should be identity")
	}
}

// ---------------------------------------------------------------------------
// Decoder tests
// ---------------------------------------------------------------------------

func TestDecodeTargets(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel()
	b.EmitBranch(BrS, l)  // 0: 2 bytes
	b.EmitBranch(Br, l)   // 2: 5 bytes
	b.Emit(Nop)           // 7
	b.Mark(l)             // 8
	b.Emit(Ret)
	code := b.Bytes()

	in, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Size != 2 || in.Targets[0] != 8 {
		t.Errorf("br.s: size=%d target=%d, want 2 and 8", in.Size, in.Targets[0])
	}
	in, err = Decode(code, 2)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Size != 5 || in.Targets[0] != 8 {
		t.Errorf("br: size=%d target=%d, want 5 and 8", in.Size, in.Targets[0])
	}
}

func TestDecodeSwitch(t *testing.T) {
	b := NewBuilder()
	l0, l1 := b.NewLabel(), b.NewLabel()
	b.Emit(Ldarg0)
	b.EmitSwitch(l0, l1) // 1: 1 + 4 + 8 = 13 bytes, ends at 14
	b.Mark(l0)
	b.Emit(Ret) // 14
	b.Mark(l1)
	b.Emit(Ret) // 15

	in, err := Decode(b.Bytes(), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Size != 13 {
		t.Errorf("switch size = %d, want 13", in.Size)
	}
	if len(in.Targets) != 2 || in.Targets[0] != 14 || in.Targets[1] != 15 {
		t.Errorf("switch targets = %v, want [14 15]", in.Targets)
	}
}

func TestDecodeTruncated(t *testing.T) {
	tests := [][]byte{
		{byte(LdcI4), 1, 2},
		{byte(LdcI8), 0, 0, 0, 0},
		{byte(BrS)},
		{Prefix},
		{byte(Switch), 2, 0, 0, 0, 0, 0, 0, 0},
	}
	for _, code := range tests {
		if _, err := Decode(code, 0); !errors.Is(err, ErrTruncated) {
			t.Errorf("Decode(%v) error = %v, want ErrTruncated", code, err)
		}
	}
}

func TestDecodeSwitchTooLarge(t *testing.T) {
	code := []byte{byte(Switch), 0, 0, 0, 0x20}
	if _, err := Decode(code, 0); !errors.Is(err, ErrSwitchSize) {
		t.Errorf("error = %v, want ErrSwitchSize", err)
	}
}

func TestLoadIntForms(t *testing.T) {
	tests := []struct {
		v    int32
		op   Opcode
		size int
	}{
		{-1, LdcI4M1, 1},
		{0, LdcI40, 1},
		{8, LdcI48, 1},
		{100, LdcI4S, 2},
		{-100, LdcI4S, 2},
		{1000, LdcI4, 5},
	}
	for _, tt := range tests {
		code := NewBuilder().LoadInt(tt.v).Bytes()
		in, err := Decode(code, 0)
		if err != nil {
			t.Fatalf("Decode(%d): %v", tt.v, err)
		}
		if in.Op != tt.op || in.Size != tt.size {
			t.Errorf("LoadInt(%d) = %s/%d, want %s/%d", tt.v, in.Op, in.Size, tt.op, tt.size)
		}
	}
}

func TestBackwardBranch(t *testing.T) {
	b := NewBuilder()
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(Nop)
	b.EmitBranch(BrS, top)
	in, err := Decode(b.Bytes(), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Targets[0] != 0 {
		t.Errorf("target = %d, want 0", in.Targets[0])
	}
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	code := NewBuilder().LoadInt(5).LoadInt(3).Emit(Add).Emit(Ret).Bytes()
	got := Disassemble(code, nil)
	want := []string{"IL_0000  ldc.i4.5", "IL_0001  ldc.i4.3", "IL_0002  add", "IL_0003  ret"}
	if got != strings.Join(want, "\n") {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, strings.Join(want, "\n"))
	}
}

func TestDisassembleTokenNamer(t *testing.T) {
	code := NewBuilder().EmitToken(Call, 0x06000001).Emit(Ret).Bytes()
	got := Disassemble(code, func(op Opcode, tok uint32) string { return "Demo::Main" })
	if !strings.Contains(got, "call         Demo::Main") {
		t.Errorf("listing missing named token:\n%s", got)
	}
}
