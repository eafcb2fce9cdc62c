package vm

import (
	"fmt"
	"io"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// TraceCoder prints every hook it receives and forwards it to an inner
// coder. With a nil inner coder it only prints.
type TraceCoder struct {
	Inner Coder
	w     io.Writer
}

// NewTraceCoder writes the hook listing to w.
func NewTraceCoder(w io.Writer, inner Coder) *TraceCoder {
	return &TraceCoder{Inner: inner, w: w}
}

func (c *TraceCoder) printf(format string, args ...any) {
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *TraceCoder) Setup(method *metadata.Method, body *metadata.MethodBody) error {
	c.printf(".method %s maxstack %d locals %d", method.FullName(), body.MaxStack, len(body.Locals))
	if c.Inner != nil {
		return c.Inner.Setup(method, body)
	}
	return nil
}

func (c *TraceCoder) Finish() error {
	c.printf(".end")
	if c.Inner != nil {
		return c.Inner.Finish()
	}
	return nil
}

func (c *TraceCoder) Restart() bool {
	if c.Inner != nil && c.Inner.Restart() {
		c.printf(".restart")
		return true
	}
	return false
}

func (c *TraceCoder) Destroy() {
	if c.Inner != nil {
		c.Inner.Destroy()
	}
}

func (c *TraceCoder) Label(offset int) {
	c.printf("IL_%04x:", offset)
	if c.Inner != nil {
		c.Inner.Label(offset)
	}
}

func (c *TraceCoder) StackItem(item StackItem) {
	c.printf("\tstack %s", item)
	if c.Inner != nil {
		c.Inner.StackItem(item)
	}
}

func (c *TraceCoder) Constant(in cil.Instruction) {
	switch in.Op {
	case cil.LdcR4, cil.LdcR8:
		c.printf("\tconst %s %g", in.Op, in.Float)
	default:
		c.printf("\tconst %s %d", in.Op, in.Int)
	}
	if c.Inner != nil {
		c.Inner.Constant(in)
	}
}

func (c *TraceCoder) LoadString(token uint32, s string) {
	c.printf("\tldstr %q", s)
	if c.Inner != nil {
		c.Inner.LoadString(token, s)
	}
}

func (c *TraceCoder) LoadNull() {
	c.printf("\tldnull")
	if c.Inner != nil {
		c.Inner.LoadNull()
	}
}

func (c *TraceCoder) Binary(op cil.Opcode, a, b EngineType) {
	c.printf("\t%s %s, %s", op, a, b)
	if c.Inner != nil {
		c.Inner.Binary(op, a, b)
	}
}

func (c *TraceCoder) BinaryPtr(op cil.Opcode, a, b EngineType) {
	c.printf("\t%s.ptr %s, %s", op, a, b)
	if c.Inner != nil {
		c.Inner.BinaryPtr(op, a, b)
	}
}

func (c *TraceCoder) Shift(op cil.Opcode, value, amount EngineType) {
	c.printf("\t%s %s by %s", op, value, amount)
	if c.Inner != nil {
		c.Inner.Shift(op, value, amount)
	}
}

func (c *TraceCoder) Unary(op cil.Opcode, t EngineType) {
	c.printf("\t%s %s", op, t)
	if c.Inner != nil {
		c.Inner.Unary(op, t)
	}
}

func (c *TraceCoder) Compare(op cil.Opcode, a, b EngineType) {
	c.printf("\t%s %s, %s", op, a, b)
	if c.Inner != nil {
		c.Inner.Compare(op, a, b)
	}
}

func (c *TraceCoder) Conv(op cil.Opcode, from EngineType) {
	c.printf("\t%s from %s", op, from)
	if c.Inner != nil {
		c.Inner.Conv(op, from)
	}
}

func (c *TraceCoder) LoadArg(index int, t *metadata.Type) {
	c.printf("\tldarg %d %s", index, t)
	if c.Inner != nil {
		c.Inner.LoadArg(index, t)
	}
}

func (c *TraceCoder) StoreArg(index int, from EngineType, t *metadata.Type) {
	c.printf("\tstarg %d %s <- %s", index, t, from)
	if c.Inner != nil {
		c.Inner.StoreArg(index, from, t)
	}
}

func (c *TraceCoder) AddressOfArg(index int) {
	c.printf("\tldarga %d", index)
	if c.Inner != nil {
		c.Inner.AddressOfArg(index)
	}
}

func (c *TraceCoder) LoadLocal(index int, t *metadata.Type) {
	c.printf("\tldloc %d %s", index, t)
	if c.Inner != nil {
		c.Inner.LoadLocal(index, t)
	}
}

func (c *TraceCoder) StoreLocal(index int, from EngineType, t *metadata.Type) {
	c.printf("\tstloc %d %s <- %s", index, t, from)
	if c.Inner != nil {
		c.Inner.StoreLocal(index, from, t)
	}
}

func (c *TraceCoder) AddressOfLocal(index int) {
	c.printf("\tldloca %d", index)
	if c.Inner != nil {
		c.Inner.AddressOfLocal(index)
	}
}

func (c *TraceCoder) Dup(item StackItem) {
	c.printf("\tdup %s", item)
	if c.Inner != nil {
		c.Inner.Dup(item)
	}
}

func (c *TraceCoder) Pop(item StackItem) {
	c.printf("\tpop %s", item)
	if c.Inner != nil {
		c.Inner.Pop(item)
	}
}

func (c *TraceCoder) Branch(op cil.Opcode, dest int, a, b EngineType) {
	switch {
	case a == EngineInvalid:
		c.printf("\t%s IL_%04x", op, dest)
	case b == EngineInvalid:
		c.printf("\t%s IL_%04x (%s)", op, dest, a)
	default:
		c.printf("\t%s IL_%04x (%s, %s)", op, dest, a, b)
	}
	if c.Inner != nil {
		c.Inner.Branch(op, dest, a, b)
	}
}

func (c *TraceCoder) Switch(targets []int) {
	c.printf("\tswitch %d targets", len(targets))
	if c.Inner != nil {
		c.Inner.Switch(targets)
	}
}

func (c *TraceCoder) Leave(dest int) {
	c.printf("\tleave IL_%04x", dest)
	if c.Inner != nil {
		c.Inner.Leave(dest)
	}
}

func (c *TraceCoder) EndFinally() {
	c.printf("\tendfinally")
	if c.Inner != nil {
		c.Inner.EndFinally()
	}
}

func (c *TraceCoder) Throw(rethrow bool) {
	if rethrow {
		c.printf("\trethrow")
	} else {
		c.printf("\tthrow")
	}
	if c.Inner != nil {
		c.Inner.Throw(rethrow)
	}
}

func (c *TraceCoder) ArrayAccess(op cil.Opcode, index EngineType, elem TypeSite) {
	c.printf("\t%s %s[%s]", op, elem.Type, index)
	if c.Inner != nil {
		c.Inner.ArrayAccess(op, index, elem)
	}
}

func (c *TraceCoder) ArrayLength() {
	c.printf("\tldlen")
	if c.Inner != nil {
		c.Inner.ArrayLength()
	}
}

func (c *TraceCoder) NewArray(elem TypeSite, length EngineType) {
	c.printf("\tnewarr %s[%s]", elem.Type, length)
	if c.Inner != nil {
		c.Inner.NewArray(elem, length)
	}
}

func (c *TraceCoder) PtrAccess(op cil.Opcode, t *metadata.Type) {
	c.printf("\t%s %s", op, t)
	if c.Inner != nil {
		c.Inner.PtrAccess(op, t)
	}
}

func (c *TraceCoder) CallMethod(site CallSite) {
	if site.Virtual {
		c.printf("\tcallvirt %s", site.Method.FullName())
	} else {
		c.printf("\tcall %s", site.Method.FullName())
	}
	if c.Inner != nil {
		c.Inner.CallMethod(site)
	}
}

func (c *TraceCoder) CallCtor(site CallSite) {
	c.printf("\tnewobj %s", site.Method.FullName())
	if c.Inner != nil {
		c.Inner.CallCtor(site)
	}
}

func (c *TraceCoder) ReturnInsn(from EngineType, t *metadata.Type) {
	if t == nil || t.Kind == metadata.ElemVoid {
		c.printf("\tret")
	} else {
		c.printf("\tret %s <- %s", t, from)
	}
	if c.Inner != nil {
		c.Inner.ReturnInsn(from, t)
	}
}

func (c *TraceCoder) LoadField(site FieldSite) {
	c.printf("\tldfld %s on %s", site.Field, site.Object)
	if c.Inner != nil {
		c.Inner.LoadField(site)
	}
}

func (c *TraceCoder) StoreField(site FieldSite, from EngineType) {
	c.printf("\tstfld %s on %s <- %s", site.Field, site.Object, from)
	if c.Inner != nil {
		c.Inner.StoreField(site, from)
	}
}

func (c *TraceCoder) LoadFieldAddr(site FieldSite) {
	c.printf("\tldflda %s on %s", site.Field, site.Object)
	if c.Inner != nil {
		c.Inner.LoadFieldAddr(site)
	}
}

func (c *TraceCoder) LoadStaticField(site FieldSite) {
	c.printf("\tldsfld %s", site.Field)
	if c.Inner != nil {
		c.Inner.LoadStaticField(site)
	}
}

func (c *TraceCoder) StoreStaticField(site FieldSite, from EngineType) {
	c.printf("\tstsfld %s <- %s", site.Field, from)
	if c.Inner != nil {
		c.Inner.StoreStaticField(site, from)
	}
}

func (c *TraceCoder) LoadStaticFieldAddr(site FieldSite) {
	c.printf("\tldsflda %s", site.Field)
	if c.Inner != nil {
		c.Inner.LoadStaticFieldAddr(site)
	}
}

func (c *TraceCoder) Box(site TypeSite, from EngineType) {
	c.printf("\tbox %s <- %s", site.Type, from)
	if c.Inner != nil {
		c.Inner.Box(site, from)
	}
}

func (c *TraceCoder) Unbox(site TypeSite, toValue bool) {
	if toValue {
		c.printf("\tunbox.any %s", site.Type)
	} else {
		c.printf("\tunbox %s", site.Type)
	}
	if c.Inner != nil {
		c.Inner.Unbox(site, toValue)
	}
}

func (c *TraceCoder) CastClass(site TypeSite, throws bool) {
	if throws {
		c.printf("\tcastclass %s", site.Type)
	} else {
		c.printf("\tisinst %s", site.Type)
	}
	if c.Inner != nil {
		c.Inner.CastClass(site, throws)
	}
}

func (c *TraceCoder) InitObject(site TypeSite) {
	c.printf("\tinitobj %s", site.Type)
	if c.Inner != nil {
		c.Inner.InitObject(site)
	}
}

func (c *TraceCoder) CopyObject(op cil.Opcode, site TypeSite) {
	c.printf("\t%s %s", op, site.Type)
	if c.Inner != nil {
		c.Inner.CopyObject(op, site)
	}
}

func (c *TraceCoder) SizeOf(site TypeSite) {
	c.printf("\tsizeof %s", site.Type)
	if c.Inner != nil {
		c.Inner.SizeOf(site)
	}
}
