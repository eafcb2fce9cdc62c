package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decoding errors.
var (
	ErrTruncated     = errors.New("cil: truncated instruction")
	ErrUnknownOpcode = errors.New("cil: unknown opcode")
	ErrSwitchSize    = errors.New("cil: switch table too large")
)

// MaxSwitchTargets bounds the entry count of a switch table.
const MaxSwitchTargets = 0x20000000

// Instruction is one decoded instruction.
type Instruction struct {
	Offset  int
	Op      Opcode
	Size    int     // total encoded width
	Int     int64   // Int8, Var8, Var16, Int32, Int64 operands; token for OperandToken
	Float   float64 // Float32, Float64 operands
	Targets []int   // absolute branch or switch targets
}

// Token returns the metadata token operand.
func (in Instruction) Token() uint32 { return uint32(in.Int) }

// Next returns the offset following the instruction.
func (in Instruction) Next() int { return in.Offset + in.Size }

// ReadOpcode reads the opcode at pc and returns it with its width.
func ReadOpcode(code []byte, pc int) (Opcode, int, error) {
	if pc >= len(code) {
		return 0, 0, ErrTruncated
	}
	if code[pc] != Prefix {
		return Opcode(code[pc]), 1, nil
	}
	if pc+1 >= len(code) {
		return 0, 0, ErrTruncated
	}
	return Opcode(0xFE00 | uint16(code[pc+1])), 2, nil
}

// Decode decodes the instruction at pc. Branch targets are computed
// relative to the end of the instruction but are not range checked.
func Decode(code []byte, pc int) (Instruction, error) {
	op, n, err := ReadOpcode(code, pc)
	if err != nil {
		return Instruction{}, err
	}
	info, ok := opcodeTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: 0x%x at %04x", ErrUnknownOpcode, uint16(op), pc)
	}
	in := Instruction{Offset: pc, Op: op}
	arg := pc + n
	size := info.Operand.Size()
	if arg+size > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %04x", ErrTruncated, info.Name, pc)
	}
	switch info.Operand {
	case OperandInt8:
		in.Int = int64(int8(code[arg]))
	case OperandVar8:
		in.Int = int64(code[arg])
	case OperandVar16:
		in.Int = int64(binary.LittleEndian.Uint16(code[arg:]))
	case OperandInt32:
		in.Int = int64(int32(binary.LittleEndian.Uint32(code[arg:])))
	case OperandToken:
		in.Int = int64(binary.LittleEndian.Uint32(code[arg:]))
	case OperandInt64:
		in.Int = int64(binary.LittleEndian.Uint64(code[arg:]))
	case OperandFloat32:
		in.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(code[arg:])))
	case OperandFloat64:
		in.Float = math.Float64frombits(binary.LittleEndian.Uint64(code[arg:]))
	case OperandBranch8:
		in.Targets = []int{arg + 1 + int(int8(code[arg]))}
	case OperandBranch32:
		in.Targets = []int{arg + 4 + int(int32(binary.LittleEndian.Uint32(code[arg:])))}
	case OperandSwitch:
		count := binary.LittleEndian.Uint32(code[arg:])
		if count >= MaxSwitchTargets {
			return Instruction{}, fmt.Errorf("%w: %d entries at %04x", ErrSwitchSize, count, pc)
		}
		size += 4 * int(count)
		if arg+size > len(code) {
			return Instruction{}, fmt.Errorf("%w: switch at %04x", ErrTruncated, pc)
		}
		base := arg + size
		in.Int = int64(count)
		in.Targets = make([]int, count)
		for i := range in.Targets {
			rel := int32(binary.LittleEndian.Uint32(code[arg+4+4*i:]))
			in.Targets[i] = base + int(rel)
		}
	}
	in.Size = n + size
	return in, nil
}

// Walk decodes every instruction in code in order.
func Walk(code []byte, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pc = in.Next()
	}
	return nil
}
