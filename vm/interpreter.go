package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Handler continuations
// ---------------------------------------------------------------------------

type contKind uint8

const (
	contLeave  contKind = iota // finally run by leave
	contUnwind                 // finally or fault run while an exception propagates
	contCatch                  // catch handler in progress
)

// continuation records a handler that is running in the innermost frame
// and what happens when it ends.
type continuation struct {
	kind   contKind
	clause int

	// contLeave
	dest    int
	pending []int

	// contUnwind, contCatch
	exc  *Object
	at   int
	next int
}

// inFinally reports whether a finally or fault handler is running in the
// innermost frame.
func (t *Thread) inFinally() bool {
	if t.fp < 0 || len(t.conts) <= t.frames[t.fp].ExceptHeight {
		return false
	}
	return t.conts[len(t.conts)-1].kind != contCatch
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func u16(code []byte, at int) int    { return int(binary.LittleEndian.Uint16(code[at:])) }
func u32(code []byte, at int) uint32 { return binary.LittleEndian.Uint32(code[at:]) }
func i32(code []byte, at int) int32  { return int32(binary.LittleEndian.Uint32(code[at:])) }

// branchTarget returns the absolute target of a branch whose operand
// starts at at.
func branchTarget(op cil.Opcode, code []byte, at int) int {
	if op.Info().Operand == cil.OperandBranch8 {
		return at + 1 + int(int8(code[at]))
	}
	return at + 4 + int(i32(code, at))
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes frames from the innermost one until the frame at depth
// entry returns. It reports false with the exception pending when an
// exception escapes that frame; the frames are gone either way.
func (t *Thread) run(entry int) bool {
	for {
		if t.thrown != nil && !t.unwind(entry, 0) {
			return false
		}
		f := t.frames[t.fp]
		cc := f.Code
		code := cc.Code
		pc := f.PC
		f.Insn = pc

		op := cil.Opcode(code[pc])
		at := pc + 1
		if code[pc] == cil.Prefix {
			op = cil.Opcode(0xFE00 | uint16(code[pc+1]))
			at = pc + 2
		}
		f.PC = at + op.Info().Operand.Size()

		switch op {
		case cil.Nop, cil.Break, cil.Volatile, cil.Tail, cil.Unaligned:

		// --- Arguments and locals ---
		case cil.Ldarg0, cil.Ldarg1, cil.Ldarg2, cil.Ldarg3:
			t.push(copyValue(t.stack[f.Base+int(op-cil.Ldarg0)]))
		case cil.LdargS:
			t.push(copyValue(t.stack[f.Base+int(code[at])]))
		case cil.Ldarg:
			t.push(copyValue(t.stack[f.Base+u16(code, at)]))
		case cil.StargS, cil.Starg:
			i := int(code[at])
			if op == cil.Starg {
				i = u16(code, at)
			}
			storeInto(&t.stack[f.Base+i], normalize(t.pop(), cc.Args[i]))
		case cil.LdargaS, cil.Ldarga:
			i := int(code[at])
			if op == cil.Ldarga {
				i = u16(code, at)
			}
			t.push(ManagedValue(stackAddress(t, f.Base+i, cc.Args[i])))

		case cil.Ldloc0, cil.Ldloc1, cil.Ldloc2, cil.Ldloc3:
			t.push(copyValue(t.stack[f.Locals+int(op-cil.Ldloc0)]))
		case cil.LdlocS:
			t.push(copyValue(t.stack[f.Locals+int(code[at])]))
		case cil.Ldloc:
			t.push(copyValue(t.stack[f.Locals+u16(code, at)]))
		case cil.Stloc0, cil.Stloc1, cil.Stloc2, cil.Stloc3, cil.StlocS, cil.Stloc:
			var i int
			switch op {
			case cil.StlocS:
				i = int(code[at])
			case cil.Stloc:
				i = u16(code, at)
			default:
				i = int(op - cil.Stloc0)
			}
			storeInto(&t.stack[f.Locals+i], normalize(t.pop(), cc.Locals[i]))
		case cil.LdlocaS, cil.Ldloca:
			i := int(code[at])
			if op == cil.Ldloca {
				i = u16(code, at)
			}
			t.push(ManagedValue(stackAddress(t, f.Locals+i, cc.Locals[i])))

		// --- Constants ---
		case cil.Ldnull:
			t.push(NullValue())
		case cil.LdcI4M1, cil.LdcI40, cil.LdcI41, cil.LdcI42, cil.LdcI43,
			cil.LdcI44, cil.LdcI45, cil.LdcI46, cil.LdcI47, cil.LdcI48:
			t.push(Int32Value(int32(op) - int32(cil.LdcI40)))
		case cil.LdcI4S:
			t.push(Int32Value(int32(int8(code[at]))))
		case cil.LdcI4:
			t.push(Int32Value(i32(code, at)))
		case cil.LdcI8:
			t.push(Int64Value(int64(binary.LittleEndian.Uint64(code[at:]))))
		case cil.LdcR4:
			t.push(FloatValue(float64(math.Float32frombits(u32(code, at)))))
		case cil.LdcR8:
			t.push(FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(code[at:]))))
		case cil.Ldstr:
			if obj := t.Intern(cc.strings[u32(code, at)]); obj != nil {
				t.push(ObjectValue(obj))
			}

		case cil.Dup:
			t.push(copyValue(t.top()))
		case cil.Pop:
			t.pop()

		// --- Arithmetic ---
		case cil.Add, cil.Sub, cil.Mul, cil.Div, cil.DivUn, cil.Rem, cil.RemUn,
			cil.And, cil.Or, cil.Xor,
			cil.AddOvf, cil.AddOvfUn, cil.SubOvf, cil.SubOvfUn, cil.MulOvf, cil.MulOvfUn:
			b := t.pop()
			a := t.pop()
			r, fault := binaryOp(op, a, b)
			if t.raise(fault) {
				continue
			}
			t.push(r)
		case cil.Shl, cil.Shr, cil.ShrUn:
			amount := t.pop()
			value := t.pop()
			t.push(shiftOp(op, value, amount))
		case cil.Neg, cil.Not, cil.Ckfinite:
			r, fault := unaryOp(op, t.pop())
			if t.raise(fault) {
				continue
			}
			t.push(r)
		case cil.Ceq, cil.Cgt, cil.CgtUn, cil.Clt, cil.CltUn:
			b := t.pop()
			a := t.pop()
			t.push(BoolValue(condition(op, a, b)))

		case cil.ConvI1, cil.ConvU1, cil.ConvI2, cil.ConvU2, cil.ConvI4, cil.ConvU4,
			cil.ConvI8, cil.ConvU8, cil.ConvI, cil.ConvU, cil.ConvR4, cil.ConvR8, cil.ConvRUn,
			cil.ConvOvfI1, cil.ConvOvfU1, cil.ConvOvfI2, cil.ConvOvfU2, cil.ConvOvfI4, cil.ConvOvfU4,
			cil.ConvOvfI8, cil.ConvOvfU8, cil.ConvOvfI, cil.ConvOvfU,
			cil.ConvOvfI1Un, cil.ConvOvfU1Un, cil.ConvOvfI2Un, cil.ConvOvfU2Un, cil.ConvOvfI4Un,
			cil.ConvOvfU4Un, cil.ConvOvfI8Un, cil.ConvOvfU8Un, cil.ConvOvfIUn, cil.ConvOvfUUn:
			r, fault := convertOp(op, t.pop())
			if t.raise(fault) {
				continue
			}
			t.push(r)

		// --- Branches ---
		case cil.Br, cil.BrS:
			t.jump(f, branchTarget(op, code, at))
		case cil.Brtrue, cil.BrtrueS, cil.Brfalse, cil.BrfalseS:
			truth := t.pop().Bool()
			if truth == (op == cil.Brtrue || op == cil.BrtrueS) {
				t.jump(f, branchTarget(op, code, at))
			}
		case cil.Beq, cil.BeqS, cil.Bge, cil.BgeS, cil.Bgt, cil.BgtS, cil.Ble, cil.BleS,
			cil.Blt, cil.BltS, cil.BneUn, cil.BneUnS, cil.BgeUn, cil.BgeUnS,
			cil.BgtUn, cil.BgtUnS, cil.BleUn, cil.BleUnS, cil.BltUn, cil.BltUnS:
			b := t.pop()
			a := t.pop()
			if condition(op.LongForm(), a, b) {
				t.jump(f, branchTarget(op, code, at))
			}
		case cil.Switch:
			n := int(u32(code, at))
			base := at + 4 + 4*n
			f.PC = base
			k := uint64(widen(t.pop()))
			if k < uint64(n) {
				t.jump(f, base+int(i32(code, at+4+4*int(k))))
			}

		// --- Calls ---
		case cil.Call, cil.Callvirt:
			ct := cc.methods[u32(code, at)]
			if !t.safePoint() {
				continue
			}
			t.dispatch(op, ct)
		case cil.Newobj:
			ct := cc.methods[u32(code, at)]
			if !t.safePoint() {
				continue
			}
			t.newObj(ct)
		case cil.Ret:
			var rv Value
			ret := f.Method.Signature.Return
			if ret.Kind != metadata.ElemVoid {
				rv = normalize(t.pop(), ret)
			}
			holder := f.result
			t.popFrame()
			switch {
			case holder != nil:
				t.push(copyValue(holder[0]))
			case ret.Kind != metadata.ElemVoid:
				t.push(rv)
			}
			if t.fp < entry {
				return true
			}

		// --- Fields ---
		case cil.Ldfld, cil.Ldflda:
			ft := cc.fields[u32(code, at)]
			slots, ok := t.fieldBlock(t.pop())
			if !ok {
				continue
			}
			if op == cil.Ldflda {
				t.push(ManagedValue(slotAddress(slots, ft.slot, ft.field.Type)))
			} else {
				t.push(copyValue(slots[ft.slot]))
			}
		case cil.Stfld:
			ft := cc.fields[u32(code, at)]
			v := t.pop()
			slots, ok := t.fieldBlock(t.pop())
			if !ok {
				continue
			}
			storeInto(&slots[ft.slot], normalize(v, ft.field.Type))
		case cil.Ldsfld:
			ft := cc.fields[u32(code, at)]
			t.push(copyValue(ft.owner.staticAddress(t, ft.field).Load()))
		case cil.Ldsflda:
			ft := cc.fields[u32(code, at)]
			t.push(ManagedValue(ft.owner.staticAddress(t, ft.field)))
		case cil.Stsfld:
			ft := cc.fields[u32(code, at)]
			ft.owner.staticAddress(t, ft.field).Store(normalize(t.pop(), ft.field.Type))

		// --- Objects ---
		case cil.Box:
			tt := cc.types[u32(code, at)]
			obj := t.Box(t.pop(), tt.typ)
			if t.thrown == nil {
				t.push(ObjectValue(obj))
			}
		case cil.Unbox:
			tt := cc.types[u32(code, at)]
			if a, ok := t.UnboxAddress(t.pop().Object(), tt.typ); ok {
				t.push(ManagedValue(a))
			}
		case cil.UnboxAny:
			tt := cc.types[u32(code, at)]
			if tt.typ.IsReference() {
				t.cast(op, tt)
				continue
			}
			if v, ok := t.Unbox(t.pop().Object(), tt.typ); ok {
				t.push(v)
			}
		case cil.Castclass, cil.Isinst:
			t.cast(op, cc.types[u32(code, at)])
		case cil.Initobj:
			tt := cc.types[u32(code, at)]
			if a := t.pointer(t.pop()); a != nil {
				a.Store(t.process.zeroValue(tt.typ))
			}
		case cil.Ldobj:
			tt := cc.types[u32(code, at)]
			if a := t.pointer(t.pop()); a != nil {
				t.push(copyValue(normalize(a.Load(), tt.typ)))
			}
		case cil.Stobj:
			tt := cc.types[u32(code, at)]
			v := t.pop()
			if a := t.pointer(t.pop()); a != nil {
				a.Store(normalize(v, tt.typ))
			}
		case cil.Cpobj:
			src := t.pointer(t.pop())
			dst := t.pointer(t.pop())
			if src != nil && dst != nil {
				dst.Store(src.Load())
			}
		case cil.Sizeof:
			t.push(Int32Value(int32(cc.types[u32(code, at)].size)))

		// --- Indirect access ---
		case cil.LdindI1, cil.LdindU1, cil.LdindI2, cil.LdindU2, cil.LdindI4, cil.LdindU4,
			cil.LdindI8, cil.LdindI, cil.LdindR4, cil.LdindR8, cil.LdindRef:
			a := t.pointer(t.pop())
			if a == nil {
				continue
			}
			v := a.Load()
			if want, _ := elementOpType(op); want != nil {
				v = normalize(v, want)
			}
			t.push(copyValue(v))
		case cil.StindRef, cil.StindI1, cil.StindI2, cil.StindI4, cil.StindI8,
			cil.StindR4, cil.StindR8, cil.StindI:
			v := t.pop()
			a := t.pointer(t.pop())
			if a == nil {
				continue
			}
			if want, _ := elementOpType(op); want != nil {
				v = normalize(v, want)
			}
			a.Store(v)

		// --- Arrays ---
		case cil.Newarr:
			tt := cc.types[u32(code, at)]
			if obj := t.NewArray(tt.typ, int(widen(t.pop()))); obj != nil {
				t.push(ObjectValue(obj))
			}
		case cil.Ldlen:
			arr := t.pop().Object()
			if arr == nil {
				t.ThrowNullReference()
				continue
			}
			t.push(NativeValue(int64(arr.Len())))
		case cil.Ldelema:
			tt := cc.types[u32(code, at)]
			idx := t.pop()
			arr, i, ok := t.element(t.pop(), idx)
			if !ok {
				continue
			}
			elem := arr.class.Class.ElementType
			if elem.IsReference() && !metadata.Identical(elem, tt.typ) {
				t.ThrowArrayTypeMismatch()
				continue
			}
			t.push(ManagedValue(slotAddress(arr.fields, i, elem)))
		case cil.LdelemI1, cil.LdelemU1, cil.LdelemI2, cil.LdelemU2, cil.LdelemI4, cil.LdelemU4,
			cil.LdelemI8, cil.LdelemI, cil.LdelemR4, cil.LdelemR8, cil.LdelemRef, cil.Ldelem:
			idx := t.pop()
			arr, i, ok := t.element(t.pop(), idx)
			if !ok {
				continue
			}
			v := arr.fields[i]
			want, _ := elementOpType(op)
			if op == cil.Ldelem {
				want = cc.types[u32(code, at)].typ
			}
			if want != nil {
				v = normalize(v, want)
			}
			t.push(copyValue(v))
		case cil.StelemI, cil.StelemI1, cil.StelemI2, cil.StelemI4, cil.StelemI8,
			cil.StelemR4, cil.StelemR8, cil.StelemRef, cil.Stelem:
			v := t.pop()
			idx := t.pop()
			arr, i, ok := t.element(t.pop(), idx)
			if !ok {
				continue
			}
			elem := arr.class.Class.ElementType
			if elem.IsReference() && !t.storable(v, elem) {
				t.ThrowArrayTypeMismatch()
				continue
			}
			storeInto(&arr.fields[i], normalize(v, elem))

		// --- Exceptions ---
		case cil.Throw:
			obj := t.pop().Object()
			if obj == nil {
				t.ThrowNullReference()
				continue
			}
			t.stampTrace(obj)
			t.thrown = obj
		case cil.Rethrow:
			t.thrown = t.caught(f)
		case cil.Leave, cil.LeaveS:
			if !t.safePoint() {
				continue
			}
			t.leave(f, branchTarget(op, code, at))
		case cil.Endfinally:
			if !t.endFinally(f, entry) {
				return false
			}

		default:
			panic(fmt.Sprintf("vm: %s at IL_%04x in %s reached the interpreter", op, pc, f.Method.FullName()))
		}
	}
}

// jump moves to dest, polling for an abort on backward branches.
func (t *Thread) jump(f *CallFrame, dest int) {
	if dest <= f.Insn && !t.safePoint() {
		return
	}
	f.PC = dest
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call invokes m with its arguments on the stack. Internal methods run to
// completion; managed methods get a frame the loop continues in.
func (t *Thread) call(m *metadata.Method, fn InternalFunc) bool {
	if pr := t.process.profiler; pr != nil {
		pr.Record(m)
	}
	if m.Has(metadata.MethodInternalCall) {
		if fn == nil {
			fn = t.process.internals.Lookup(m)
		}
		if fn == nil {
			t.ThrowSystem("System.MissingMethodException", ResMissingMethod, m.FullName())
			return false
		}
		return t.callInternal(fn, m)
	}
	if m.Has(metadata.MethodAbstract) {
		t.ThrowSystem("System.MissingMethodException", ResMissingMethod, m.FullName())
		return false
	}
	cc, ok := t.process.ConvertMethod(t, m)
	if !ok {
		return false
	}
	return t.pushFrame(cc)
}

// dispatch performs call or callvirt. Callvirt null-checks this and
// resolves virtual methods through the receiver's vtable.
func (t *Thread) dispatch(op cil.Opcode, ct *callTarget) bool {
	m, fn := ct.method, ct.internal
	if op == cil.Callvirt {
		this := t.stack[t.sp-ct.nargs]
		if this.Tag == TagObject {
			obj := this.Object()
			if obj == nil {
				t.ThrowNullReference()
				return false
			}
			if m.Has(metadata.MethodVirtual) {
				if impl := obj.class.VTable.Lookup(m); impl != m {
					m, fn = impl, nil
					if impl.Owner.IsValueType() && len(obj.fields) == 1 {
						t.stack[t.sp-ct.nargs] = ManagedValue(slotAddress(obj.fields, 0, metadata.ClassType(impl.Owner)))
					}
				}
			}
		}
	}
	return t.call(m, fn)
}

// newObj allocates the instance for a constructor call and runs the
// constructor with it as this. Value types are built in a holder slot
// and pushed by value when the constructor returns.
func (t *Thread) newObj(ct *callTarget) bool {
	class := ct.owner.Class
	var holder []Value
	var this Value
	if class.IsValueType() {
		holder = []Value{StructValue(ct.owner.newStruct())}
		this = ManagedValue(slotAddress(holder, 0, metadata.ClassType(class)))
	} else {
		obj := t.AllocObject(class)
		if obj == nil {
			return false
		}
		holder = []Value{ObjectValue(obj)}
		this = holder[0]
	}
	n := ct.nargs - 1
	t.ensure(1)
	copy(t.stack[t.sp-n+1:t.sp+1], t.stack[t.sp-n:t.sp])
	t.stack[t.sp-n] = this
	t.sp++

	depth := t.fp
	if !t.call(ct.method, ct.internal) {
		return false
	}
	if t.fp == depth {
		t.push(copyValue(holder[0]))
	} else {
		t.frame().result = holder
	}
	return true
}

// ---------------------------------------------------------------------------
// Object access helpers
// ---------------------------------------------------------------------------

// fieldBlock returns the slots an instance field instruction addresses:
// an object's fields, the struct behind a pointer, or a struct value.
func (t *Thread) fieldBlock(v Value) ([]Value, bool) {
	switch v.Tag {
	case TagObject:
		obj := v.Object()
		if obj == nil {
			t.ThrowNullReference()
			return nil, false
		}
		if obj.class.Class.IsValueType() && len(obj.fields) == 1 && obj.fields[0].Tag == TagStruct {
			return obj.fields[0].Struct().Fields, true
		}
		return obj.fields, true
	case TagManaged, TagTransient:
		a := t.pointer(v)
		if a == nil {
			return nil, false
		}
		return t.fieldBlock(a.Load())
	case TagStruct:
		return v.Struct().Fields, true
	}
	panic(fmt.Sprintf("vm: field access on %s", v.Tag))
}

// pointer returns the address v holds, raising NullReferenceException
// for a null pointer.
func (t *Thread) pointer(v Value) *Address {
	a := v.Address()
	switch {
	case a == nil:
		t.ThrowNullReference()
	case !a.inBounds():
		t.ThrowSystem("System.AccessViolationException", ResAccessViolation)
		return nil
	}
	return a
}

// element resolves an array and index, raising NullReferenceException
// or IndexOutOfRangeException.
func (t *Thread) element(arrv, idx Value) (*Object, int, bool) {
	arr := arrv.Object()
	if arr == nil {
		t.ThrowNullReference()
		return nil, 0, false
	}
	i := widen(idx)
	if i < 0 || i >= int64(arr.Len()) {
		t.ThrowIndexOutOfRange()
		return nil, 0, false
	}
	return arr, int(i), true
}

// storable reports whether v may be stored in an array of reference
// element type elem.
func (t *Thread) storable(v Value, elem *metadata.Type) bool {
	obj := v.Object()
	return obj == nil || obj.class.Class.IsAssignableTo(t.process.corlib.ClassOf(elem))
}

// isInstance reports whether obj is an instance of the target type.
func (p *Process) isInstance(obj *Object, tt *typeTarget) bool {
	target := tt.class
	if target == nil {
		target = p.corlib.ClassOf(canonicalType(tt.typ))
	}
	return target != nil && obj.class.Class.IsAssignableTo(target)
}

// cast performs castclass, isinst, and unbox.any on a reference type.
func (t *Thread) cast(op cil.Opcode, tt *typeTarget) {
	obj := t.pop().Object()
	switch {
	case obj == nil || t.process.isInstance(obj, tt):
		t.push(ObjectValue(obj))
	case op == cil.Isinst:
		t.push(NullValue())
	default:
		t.ThrowInvalidCast(obj.class.Class, tt.typ)
	}
}

// ---------------------------------------------------------------------------
// Exception dispatch
// ---------------------------------------------------------------------------

// stampTrace records the current stack in a thrown exception.
func (t *Thread) stampTrace(obj *Object) {
	if obj == t.process.oom {
		return
	}
	saved := t.thrown
	if s := t.NewString(t.StackTrace()); s != nil {
		t.setField(obj, t.process.corlib.StackTraceField, ObjectValue(s))
	}
	t.thrown = saved
}

// caught returns the exception of the innermost catch handler containing
// the current instruction.
func (t *Thread) caught(f *CallFrame) *Object {
	for i := len(t.conts) - 1; i >= f.ExceptHeight; i-- {
		c := t.conts[i]
		if c.kind == contCatch && f.Code.Handlers[c.clause].InHandler(f.Insn) {
			return c.exc
		}
	}
	panic(fmt.Sprintf("vm: rethrow outside a catch handler in %s", f.Method.FullName()))
}

// unwind searches for a handler of the pending exception, starting at
// clause start of the innermost frame and popping frames down to entry.
// It reports false when the exception escapes the entry frame.
func (t *Thread) unwind(entry, start int) bool {
	for t.fp >= entry {
		f := t.frames[t.fp]
		if t.findHandler(f, f.Insn, start) {
			return true
		}
		t.popFrame()
		start = 0
	}
	return false
}

// findHandler looks for a clause of f guarding at, from clause start on,
// that handles the pending exception. A matching catch clears it and
// runs; a finally or fault runs with the search suspended until its
// endfinally.
func (t *Thread) findHandler(f *CallFrame, at, start int) bool {
	exc := t.thrown
	handlers := f.Code.Handlers
	for i := start; i < len(handlers); i++ {
		h := &handlers[i]
		if !h.InTry(at) {
			continue
		}
		c := continuation{kind: contUnwind, clause: i, exc: exc, at: at, next: i + 1}
		if h.Kind == metadata.ClauseCatch {
			if h.Class != nil && !exc.class.Class.IsSubclassOf(h.Class) {
				continue
			}
			c.kind = contCatch
		}
		t.thrown = nil
		t.dropHandlers(f, h.TryOffset)
		t.truncate(f.StackBase)
		t.conts = append(t.conts, c)
		if c.kind == contCatch {
			t.push(ObjectValue(exc))
		}
		f.PC = h.HandlerOffset
		t.log.Debugf("thread %s: %s handled by clause %d of %s", t.ID, exc.class.Class.FullName(), i, f.Method.FullName())
		return true
	}
	return false
}

// dropHandlers abandons the handlers of f that do not enclose the try
// block starting at tryOffset.
func (t *Thread) dropHandlers(f *CallFrame, tryOffset int) {
	for len(t.conts) > f.ExceptHeight {
		c := t.conts[len(t.conts)-1]
		if f.Code.Handlers[c.clause].InHandler(tryOffset) {
			return
		}
		t.conts = t.conts[:len(t.conts)-1]
	}
}

// leave exits protected blocks towards dest, first running the finally
// handlers of every try block it leaves, innermost first.
func (t *Thread) leave(f *CallFrame, dest int) {
	at := f.Insn
	handlers := f.Code.Handlers
	for len(t.conts) > f.ExceptHeight {
		c := t.conts[len(t.conts)-1]
		h := &handlers[c.clause]
		if c.kind != contCatch || !h.InHandler(at) || h.InHandler(dest) {
			break
		}
		t.conts = t.conts[:len(t.conts)-1]
	}
	t.truncate(f.StackBase)

	var pending []int
	for i := range handlers {
		h := &handlers[i]
		if h.Kind == metadata.ClauseFinally && h.InTry(at) && !h.InTry(dest) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		f.PC = dest
		return
	}
	t.conts = append(t.conts, continuation{kind: contLeave, clause: pending[0], dest: dest, pending: pending[1:]})
	f.PC = handlers[pending[0]].HandlerOffset
}

// endFinally ends the running finally or fault handler: a leave moves on
// to its next finally or its target, an exception resumes its search.
func (t *Thread) endFinally(f *CallFrame, entry int) bool {
	n := len(t.conts) - 1
	if n < f.ExceptHeight {
		panic(fmt.Sprintf("vm: endfinally outside a handler in %s", f.Method.FullName()))
	}
	c := &t.conts[n]
	t.truncate(f.StackBase)
	switch c.kind {
	case contLeave:
		if len(c.pending) > 0 {
			c.clause, c.pending = c.pending[0], c.pending[1:]
			f.PC = f.Code.Handlers[c.clause].HandlerOffset
			return true
		}
		f.PC = c.dest
		t.conts = t.conts[:n]
		return true
	case contUnwind:
		exc, at, next := c.exc, c.at, c.next
		t.conts = t.conts[:n]
		t.thrown = exc
		f.Insn = at
		return t.unwind(entry, next)
	}
	panic(fmt.Sprintf("vm: endfinally in a catch handler of %s", f.Method.FullName()))
}
