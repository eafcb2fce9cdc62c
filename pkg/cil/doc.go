// Package cil defines the CIL instruction encoding the engine consumes:
//   - the opcode table (one- and two-byte opcodes, operand kinds, arity)
//   - a decoder that computes absolute branch and switch targets
//   - a Builder with labels for constructing method bodies
//   - a disassembler for listings
package cil
