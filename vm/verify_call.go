package vm

import (
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// popArgs pops and checks the arguments of m from index first onwards,
// returning them in push order.
func (vs *verification) popArgs(m *metadata.Method, first int) []StackItem {
	n := m.NumArgs()
	if len(vs.stack) < n-first {
		vs.fail(ErrStack, "%s needs %d arguments, stack has %d", m.FullName(), n-first, len(vs.stack))
	}
	args := make([]StackItem, n-first)
	for i := n - 1; i >= first; i-- {
		item := vs.pop()
		want := m.ArgType(i)
		if !assignCompatible(vs.v.Corlib, item, want) {
			vs.fail(ErrType, "argument %d of %s is %s, want %s", i, m.FullName(), item, want)
		}
		args[i-first] = item
	}
	return args
}

func (vs *verification) pushReturn(m *metadata.Method) {
	if ret := m.Signature.Return; ret != nil && ret.Kind != metadata.ElemVoid {
		vs.push(itemForType(ret))
	}
}

func (vs *verification) call(op cil.Opcode, token uint32) {
	m := vs.resolveMethod(token)
	virtual := false
	if op == cil.Callvirt {
		if m.IsStatic() {
			vs.fail(ErrType, "callvirt to static method %s", m.FullName())
		}
		virtual = m.Has(metadata.MethodVirtual)
	} else if m.Has(metadata.MethodAbstract) {
		vs.fail(ErrType, "non-virtual call to abstract method %s", m.FullName())
	}
	if m.IsConstructor() && op == cil.Callvirt {
		vs.fail(ErrInsn, "constructor %s called virtually", m.FullName())
	}
	args := vs.popArgs(m, 0)
	vs.pushReturn(m)
	vs.coder.CallMethod(CallSite{Token: token, Method: m, Virtual: virtual, Args: args})
}

func (vs *verification) newObject(token uint32) {
	m := vs.resolveMethod(token)
	if !m.IsConstructor() {
		vs.fail(ErrInsn, "newobj target %s is not a constructor", m.FullName())
	}
	owner := m.Owner
	if owner.Has(metadata.ClassAbstract) || owner.IsInterface() {
		vs.fail(ErrInsn, "cannot instantiate %s", owner.FullName())
	}
	if owner.IsArray() {
		vs.fail(ErrUnsupported, "array construction through newobj")
	}
	args := vs.popArgs(m, 1)
	if owner.IsValueType() {
		vs.push(StackItem{Engine: EngineMV, Type: metadata.ClassType(owner)})
	} else {
		vs.push(StackItem{Engine: EngineO, Type: boxedType(owner)})
	}
	vs.coder.CallCtor(CallSite{Token: token, Method: m, Args: args})
}

func (vs *verification) ret() {
	want := vs.method.Signature.Return
	from := EngineInvalid
	if want != nil && want.Kind != metadata.ElemVoid {
		item := vs.pop()
		if !assignCompatible(vs.v.Corlib, item, want) {
			vs.fail(ErrType, "returns %s, want %s", item, want)
		}
		from = item.Engine
	}
	if len(vs.stack) != 0 {
		vs.fail(ErrStack, "%d items left on the stack at return", len(vs.stack))
	}
	vs.coder.ReturnInsn(from, want)
	vs.lastWasJump = true
}
