package vm

import (
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// instruction verifies one decoded instruction and forwards it to the
// coder.
func (vs *verification) instruction(in cil.Instruction) {
	op := in.Op
	switch {
	case op == cil.Nop, op == cil.Break, op == cil.Volatile, op == cil.Tail, op == cil.Unaligned:
		// no stack effect

	case op >= cil.Ldarg0 && op <= cil.Ldarg3:
		vs.loadArg(int(op - cil.Ldarg0))
	case op == cil.LdargS, op == cil.Ldarg:
		vs.loadArg(int(in.Int))
	case op == cil.StargS, op == cil.Starg:
		vs.storeArg(int(in.Int))
	case op == cil.LdargaS, op == cil.Ldarga:
		vs.addressOfArg(int(in.Int))
	case op >= cil.Ldloc0 && op <= cil.Ldloc3:
		vs.loadLocal(int(op - cil.Ldloc0))
	case op == cil.LdlocS, op == cil.Ldloc:
		vs.loadLocal(int(in.Int))
	case op >= cil.Stloc0 && op <= cil.Stloc3:
		vs.storeLocal(int(op - cil.Stloc0))
	case op == cil.StlocS, op == cil.Stloc:
		vs.storeLocal(int(in.Int))
	case op == cil.LdlocaS, op == cil.Ldloca:
		vs.addressOfLocal(int(in.Int))

	case op == cil.Ldnull:
		vs.push(StackItem{Engine: EngineO})
		vs.coder.LoadNull()
	case op >= cil.LdcI4M1 && op <= cil.LdcI4:
		vs.pushEngine(EngineI4)
		vs.coder.Constant(in)
	case op == cil.LdcI8:
		vs.pushEngine(EngineI8)
		vs.coder.Constant(in)
	case op == cil.LdcR4, op == cil.LdcR8:
		vs.pushEngine(EngineF)
		vs.coder.Constant(in)
	case op == cil.Ldstr:
		vs.loadString(in.Token())

	case op == cil.Dup:
		item := vs.top()
		vs.push(item)
		vs.coder.Dup(item)
	case op == cil.Pop:
		item := vs.pop()
		vs.coder.Pop(item)

	case isBinaryOp(op):
		vs.binary(op)
	case op == cil.Shl, op == cil.Shr, op == cil.ShrUn:
		vs.shift(op)
	case op == cil.Neg, op == cil.Not, op == cil.Ckfinite:
		vs.unary(op)
	case op == cil.Ceq, op == cil.Cgt, op == cil.CgtUn, op == cil.Clt, op == cil.CltUn:
		vs.compare(op)
	case convResult(op) != EngineInvalid:
		vs.conv(op)

	case op == cil.Br, op == cil.BrS:
		vs.branch(op, in.Targets[0])
	case op == cil.Brtrue, op == cil.BrtrueS, op == cil.Brfalse, op == cil.BrfalseS:
		vs.unaryBranch(op, in.Targets[0])
	case in.Op.IsBranch() && op != cil.Leave && op != cil.LeaveS:
		vs.binaryBranch(op, in.Targets[0])
	case op == cil.Switch:
		vs.switchInsn(in.Targets)
	case op == cil.Leave, op == cil.LeaveS:
		vs.leave(in.Targets[0])
	case op == cil.Endfinally:
		vs.endFinally()
	case op == cil.Throw:
		vs.throw()
	case op == cil.Rethrow:
		vs.rethrow()

	case op == cil.Call, op == cil.Callvirt:
		vs.call(op, in.Token())
	case op == cil.Newobj:
		vs.newObject(in.Token())
	case op == cil.Ret:
		vs.ret()

	case op == cil.Ldfld, op == cil.Ldflda, op == cil.Stfld:
		vs.instanceField(op, in.Token())
	case op == cil.Ldsfld, op == cil.Ldsflda, op == cil.Stsfld:
		vs.staticField(op, in.Token())

	case op == cil.Box:
		vs.box(in.Token())
	case op == cil.Unbox, op == cil.UnboxAny:
		vs.unbox(op, in.Token())
	case op == cil.Castclass, op == cil.Isinst:
		vs.castClass(op, in.Token())
	case op == cil.Initobj, op == cil.Ldobj, op == cil.Stobj, op == cil.Cpobj:
		vs.valueObject(op, in.Token())
	case op == cil.Sizeof:
		site := vs.resolveType(in.Token())
		vs.pushEngine(EngineI4)
		vs.coder.SizeOf(site)

	case op == cil.Newarr:
		vs.newArray(in.Token())
	case op == cil.Ldlen:
		vs.arrayLength()
	case op >= cil.LdelemI1 && op <= cil.LdelemRef, op == cil.Ldelem, op == cil.Ldelema:
		vs.loadElement(op, in)
	case op >= cil.StelemI && op <= cil.StelemRef, op == cil.Stelem:
		vs.storeElement(op, in)

	case op >= cil.LdindI1 && op <= cil.LdindRef:
		vs.loadIndirect(op)
	case op >= cil.StindRef && op <= cil.StindR8, op == cil.StindI:
		vs.storeIndirect(op)

	case op == cil.Jmp, op == cil.Calli, op == cil.Refanyval, op == cil.Mkrefany,
		op == cil.Ldtoken, op == cil.Arglist, op == cil.Ldftn, op == cil.Ldvirtftn,
		op == cil.Localloc, op == cil.Endfilter, op == cil.Cpblk, op == cil.Initblk,
		op == cil.Refanytype:
		vs.fail(ErrUnsupported, "%s is not supported", op)

	default:
		vs.fail(ErrInsn, "unknown opcode")
	}
}

// ---------------------------------------------------------------------------
// Arguments and locals
// ---------------------------------------------------------------------------

func (vs *verification) argType(index int) *metadata.Type {
	if index < 0 || index >= vs.method.NumArgs() {
		vs.fail(ErrInsn, "argument %d out of range", index)
	}
	return vs.method.ArgType(index)
}

func (vs *verification) localType(index int) *metadata.Type {
	if index < 0 || index >= len(vs.body.Locals) {
		vs.fail(ErrInsn, "local %d out of range", index)
	}
	return vs.body.Locals[index]
}

func (vs *verification) loadArg(index int) {
	t := vs.argType(index)
	vs.push(itemForType(t))
	vs.coder.LoadArg(index, t)
}

func (vs *verification) storeArg(index int) {
	t := vs.argType(index)
	item := vs.pop()
	if !assignCompatible(vs.v.Corlib, item, t) {
		vs.fail(ErrType, "cannot store %s into argument %d of type %s", item, index, t)
	}
	vs.coder.StoreArg(index, item.Engine, t)
}

func (vs *verification) addressOfArg(index int) {
	t := vs.argType(index)
	vs.push(StackItem{Engine: EngineM, Type: t})
	vs.coder.AddressOfArg(index)
}

func (vs *verification) loadLocal(index int) {
	t := vs.localType(index)
	vs.push(itemForType(t))
	vs.coder.LoadLocal(index, t)
}

func (vs *verification) storeLocal(index int) {
	t := vs.localType(index)
	item := vs.pop()
	if !assignCompatible(vs.v.Corlib, item, t) {
		vs.fail(ErrType, "cannot store %s into local %d of type %s", item, index, t)
	}
	vs.coder.StoreLocal(index, item.Engine, t)
}

func (vs *verification) addressOfLocal(index int) {
	t := vs.localType(index)
	vs.push(StackItem{Engine: EngineM, Type: t})
	vs.coder.AddressOfLocal(index)
}

func (vs *verification) loadString(token uint32) {
	s, err := vs.module().ResolveString(token)
	if err != nil {
		vs.fail(ErrInsn, "%v", err)
	}
	vs.push(StackItem{Engine: EngineO, Type: metadata.String})
	vs.coder.LoadString(token, s)
}

// ---------------------------------------------------------------------------
// Metadata resolution
// ---------------------------------------------------------------------------

func (vs *verification) module() *metadata.Module {
	return vs.method.Owner.Module
}

func (vs *verification) resolveMethod(token uint32) *metadata.Method {
	m, err := vs.module().ResolveMethod(token)
	if err != nil {
		vs.fail(ErrMissingMethod, "%v", err)
	}
	vs.checkAccess(m.Owner, m.Access, m.Name)
	return m
}

func (vs *verification) resolveField(token uint32) *metadata.Field {
	f, err := vs.module().ResolveField(token)
	if err != nil {
		vs.fail(ErrMissingField, "%v", err)
	}
	vs.checkAccess(f.Owner, f.Access, f.Name)
	return f
}

func (vs *verification) resolveType(token uint32) TypeSite {
	t, err := vs.module().ResolveType(token)
	if err != nil {
		vs.fail(ErrMissingType, "%v", err)
	}
	return TypeSite{Token: token, Type: t, Class: vs.v.Corlib.ClassOf(t)}
}

// checkAccess enforces member accessibility from the method being
// verified.
func (vs *verification) checkAccess(owner *metadata.Class, access metadata.Access, name string) {
	from := vs.method.Owner
	ok := true
	switch access {
	case metadata.Private:
		ok = from == owner
	case metadata.Family:
		ok = from == owner || from.IsSubclassOf(owner)
	case metadata.Assembly:
		ok = from.Module == owner.Module
	}
	if !ok {
		vs.fail(ErrSecurity, "%s::%s is not accessible from %s", owner.FullName(), name, from.FullName())
	}
}
