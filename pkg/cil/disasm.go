package cil

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// TokenNamer renders a metadata token for listings. It may be nil.
type TokenNamer func(op Opcode, token uint32) string

// DisassembleInstruction formats one decoded instruction.
func DisassembleInstruction(in Instruction, names TokenNamer) string {
	info := in.Op.Info()
	var operand string
	switch info.Operand {
	case OperandNone:
	case OperandInt8, OperandVar8, OperandVar16, OperandInt32, OperandInt64:
		operand = fmt.Sprintf("%d", in.Int)
	case OperandFloat32, OperandFloat64:
		operand = fmt.Sprintf("%g", in.Float)
	case OperandBranch8, OperandBranch32:
		operand = fmt.Sprintf("IL_%04x", in.Targets[0])
	case OperandToken:
		if names != nil {
			operand = names(in.Op, in.Token())
		} else {
			operand = fmt.Sprintf("0x%08x", in.Token())
		}
	case OperandSwitch:
		parts := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			parts[i] = fmt.Sprintf("IL_%04x", t)
		}
		operand = "(" + strings.Join(parts, ", ") + ")"
	}
	if operand == "" {
		return fmt.Sprintf("IL_%04x  %s", in.Offset, info.Name)
	}
	return fmt.Sprintf("IL_%04x  %-12s %s", in.Offset, info.Name, operand)
}

// Disassemble returns a full listing of code. Undecodable trailing bytes
// are reported on the last line.
func Disassemble(code []byte, names TokenNamer) string {
	var lines []string
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			lines = append(lines, fmt.Sprintf("IL_%04x  <%v>", pc, err))
			break
		}
		lines = append(lines, DisassembleInstruction(in, names))
		pc = in.Next()
	}
	return strings.Join(lines, "\n")
}
