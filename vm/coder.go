package vm

import (
	"errors"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Coder interface
// ---------------------------------------------------------------------------

// ErrCacheFull is returned by Coder.Finish when the method did not fit in
// the coder's cache. The verifier then asks Restart whether to try again.
var ErrCacheFull = errors.New("vm: coder cache full")

// CallSite describes a resolved call instruction.
type CallSite struct {
	Token   uint32
	Method  *metadata.Method
	Virtual bool
	Args    []StackItem // in push order, this first
}

// FieldSite describes a resolved field instruction. Object is the
// category of the instance operand for instance fields.
type FieldSite struct {
	Token  uint32
	Field  *metadata.Field
	Object EngineType
}

// TypeSite describes a resolved type operand.
type TypeSite struct {
	Token uint32
	Type  *metadata.Type
	Class *metadata.Class
}

// Coder turns verified stack operations into runnable behavior. The
// verifier calls these hooks in instruction order with the inferred
// operand types and never inspects which implementation it is driving.
type Coder interface {
	// Setup prepares to receive the hooks of one method.
	Setup(method *metadata.Method, body *metadata.MethodBody) error
	// Finish completes the method. ErrCacheFull requests a restart.
	Finish() error
	// Restart reports whether the verifier should run again after a
	// Finish that exhausted the cache.
	Restart() bool
	// Destroy releases everything the coder holds.
	Destroy()

	Label(offset int)
	StackItem(item StackItem)

	Constant(in cil.Instruction)
	LoadString(token uint32, s string)
	LoadNull()
	Binary(op cil.Opcode, a, b EngineType)
	BinaryPtr(op cil.Opcode, a, b EngineType)
	Shift(op cil.Opcode, value, amount EngineType)
	Unary(op cil.Opcode, t EngineType)
	Compare(op cil.Opcode, a, b EngineType)
	Conv(op cil.Opcode, from EngineType)

	LoadArg(index int, t *metadata.Type)
	StoreArg(index int, from EngineType, t *metadata.Type)
	AddressOfArg(index int)
	LoadLocal(index int, t *metadata.Type)
	StoreLocal(index int, from EngineType, t *metadata.Type)
	AddressOfLocal(index int)
	Dup(item StackItem)
	Pop(item StackItem)

	// Branch receives EngineInvalid for operands the opcode does not pop.
	Branch(op cil.Opcode, dest int, a, b EngineType)
	Switch(targets []int)
	Leave(dest int)
	EndFinally()
	Throw(rethrow bool)

	ArrayAccess(op cil.Opcode, index EngineType, elem TypeSite)
	ArrayLength()
	NewArray(elem TypeSite, length EngineType)
	PtrAccess(op cil.Opcode, t *metadata.Type)

	CallMethod(site CallSite)
	CallCtor(site CallSite)
	ReturnInsn(from EngineType, t *metadata.Type)

	LoadField(site FieldSite)
	StoreField(site FieldSite, from EngineType)
	LoadFieldAddr(site FieldSite)
	LoadStaticField(site FieldSite)
	StoreStaticField(site FieldSite, from EngineType)
	LoadStaticFieldAddr(site FieldSite)

	Box(site TypeSite, from EngineType)
	Unbox(site TypeSite, toValue bool)
	CastClass(site TypeSite, throws bool)
	InitObject(site TypeSite)
	CopyObject(op cil.Opcode, site TypeSite)
	SizeOf(site TypeSite)
}
