package vm

import (
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Control transfer
// ---------------------------------------------------------------------------

func (vs *verification) branch(op cil.Opcode, dest int) {
	vs.branchTo(dest)
	vs.coder.Branch(op, dest, EngineInvalid, EngineInvalid)
	vs.lastWasJump = true
}

func (vs *verification) unaryBranch(op cil.Opcode, dest int) {
	item := vs.pop()
	if item.Engine >= numEngineTypes || !unaryBranchTypes[item.Engine] {
		vs.fail(ErrType, "cannot test %s", item)
	}
	vs.branchTo(dest)
	vs.coder.Branch(op, dest, item.Engine, EngineInvalid)
}

func (vs *verification) binaryBranch(op cil.Opcode, dest int) {
	b := vs.pop()
	a := vs.pop()
	if vs.comparisonMatrix(op).lookup(a.Engine, b.Engine) == EngineInvalid {
		vs.fail(ErrType, "cannot compare %s with %s", a, b)
	}
	vs.branchTo(dest)
	vs.coder.Branch(op, dest, a.Engine, b.Engine)
}

func (vs *verification) switchInsn(targets []int) {
	item := vs.pop()
	if item.Engine != EngineI4 && item.Engine != EngineI {
		vs.fail(ErrType, "switch selector is %s", item)
	}
	for _, t := range targets {
		vs.branchTo(t)
	}
	vs.coder.Switch(targets)
}

// leave empties the evaluation stack and exits a protected region; the
// coder arranges for intervening finally handlers to run.
func (vs *verification) leave(dest int) {
	vs.stack = vs.stack[:0]
	vs.branchTo(dest)
	vs.coder.Leave(dest)
	vs.lastWasJump = true
}

func (vs *verification) endFinally() {
	if !vs.inHandler(metadata.ClauseFinally, metadata.ClauseFault) {
		vs.fail(ErrInsn, "endfinally outside a finally or fault handler")
	}
	vs.stack = vs.stack[:0]
	vs.coder.EndFinally()
	vs.lastWasJump = true
}

func (vs *verification) throw() {
	item := vs.pop()
	if item.Engine != EngineO {
		vs.fail(ErrType, "cannot throw %s", item)
	}
	if item.Type != nil && !assignCompatible(vs.v.Corlib, item, metadata.ClassType(vs.v.Corlib.Exception)) {
		vs.fail(ErrType, "%s is not an exception", item)
	}
	vs.coder.Throw(false)
	vs.lastWasJump = true
}

func (vs *verification) rethrow() {
	if !vs.inHandler(metadata.ClauseCatch) {
		vs.fail(ErrInsn, "rethrow outside a catch handler")
	}
	vs.coder.Throw(true)
	vs.lastWasJump = true
}

func (vs *verification) inHandler(kinds ...metadata.ClauseKind) bool {
	pc := vs.in.Offset
	for i := range vs.body.Handlers {
		h := &vs.body.Handlers[i]
		if !h.InHandler(pc) {
			continue
		}
		for _, k := range kinds {
			if h.Kind == k {
				return true
			}
		}
	}
	return false
}
