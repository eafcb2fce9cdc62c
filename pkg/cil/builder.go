package cil

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing method bodies
// ---------------------------------------------------------------------------

// Builder helps construct CIL byte sequences.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed code.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) *Builder {
	if op.IsTwoByte() {
		b.bytes = append(b.bytes, Prefix, byte(op))
	} else {
		b.bytes = append(b.bytes, byte(op))
	}
	return b
}

// EmitRaw appends raw bytes.
func (b *Builder) EmitRaw(data ...byte) *Builder {
	b.bytes = append(b.bytes, data...)
	return b
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *Builder) EmitInt8(op Opcode, operand int8) *Builder {
	b.Emit(op)
	b.bytes = append(b.bytes, byte(operand))
	return b
}

// EmitVar appends an argument/local instruction, picking the operand width
// from the opcode.
func (b *Builder) EmitVar(op Opcode, index int) *Builder {
	b.Emit(op)
	if op.Info().Operand == OperandVar16 {
		b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(index))
	} else {
		b.bytes = append(b.bytes, byte(index))
	}
	return b
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *Builder) EmitInt32(op Opcode, operand int32) *Builder {
	b.Emit(op)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
	return b
}

// EmitToken appends an opcode with a metadata token.
func (b *Builder) EmitToken(op Opcode, token uint32) *Builder {
	b.Emit(op)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, token)
	return b
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *Builder) EmitInt64(op Opcode, operand int64) *Builder {
	b.Emit(op)
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
	return b
}

// EmitFloat32 appends an opcode with a 32-bit float operand.
func (b *Builder) EmitFloat32(op Opcode, operand float32) *Builder {
	b.Emit(op)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, math.Float32bits(operand))
	return b
}

// EmitFloat64 appends an opcode with a 64-bit float operand.
func (b *Builder) EmitFloat64(op Opcode, operand float64) *Builder {
	b.Emit(op)
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(operand))
	return b
}

// LoadInt emits the shortest ldc.i4 form for v.
func (b *Builder) LoadInt(v int32) *Builder {
	switch {
	case v == -1:
		return b.Emit(LdcI4M1)
	case v >= 0 && v <= 8:
		return b.Emit(LdcI40 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return b.EmitInt8(LdcI4S, int8(v))
	}
	return b.EmitInt32(LdcI4, v)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

type labelRef struct {
	at    int // displacement position
	width int // 1 or 4
	base  int // offset the displacement is relative to
}

// Label represents a branch destination.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(label *Label) *Builder {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
	return b
}

// Position returns a resolved label's offset.
func (l *Label) Position() int { return l.position }

func (b *Builder) patch(ref labelRef, target int) {
	disp := target - ref.base
	if ref.width == 1 {
		if disp < math.MinInt8 || disp > math.MaxInt8 {
			panic("short branch displacement out of range")
		}
		b.bytes[ref.at] = byte(int8(disp))
		return
	}
	binary.LittleEndian.PutUint32(b.bytes[ref.at:], uint32(int32(disp)))
}

func (b *Builder) reference(label *Label, width, base int) {
	ref := labelRef{at: len(b.bytes), width: width, base: base}
	b.bytes = append(b.bytes, make([]byte, width)...)
	if label.resolved {
		b.patch(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
	}
}

// EmitBranch emits a branch to label, sized by the opcode's form.
func (b *Builder) EmitBranch(op Opcode, label *Label) *Builder {
	b.Emit(op)
	width := 4
	if op.Info().Operand == OperandBranch8 {
		width = 1
	}
	b.reference(label, width, len(b.bytes)+width)
	return b
}

// EmitBranchOffset emits a branch with a raw displacement, for code that
// must encode targets no label can name.
func (b *Builder) EmitBranchOffset(op Opcode, disp int32) *Builder {
	if op.Info().Operand == OperandBranch8 {
		return b.EmitInt8(op, int8(disp))
	}
	return b.EmitInt32(op, disp)
}

// EmitSwitch emits a switch over labels.
func (b *Builder) EmitSwitch(labels ...*Label) *Builder {
	b.Emit(Switch)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(len(labels)))
	base := len(b.bytes) + 4*len(labels)
	for _, l := range labels {
		b.reference(l, 4, base)
	}
	return b
}
