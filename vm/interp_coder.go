package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// CompiledCode
// ---------------------------------------------------------------------------

// callTarget is a call instruction resolved at conversion time.
type callTarget struct {
	method    *metadata.Method
	owner     *ClassPrivate
	virtual   bool
	nargs     int
	hasReturn bool
	internal  InternalFunc
}

// fieldTarget is a field instruction resolved at conversion time.
type fieldTarget struct {
	field  *metadata.Field
	owner  *ClassPrivate
	slot   int
	static bool
}

// typeTarget is a type operand resolved at conversion time. class is nil
// for pointer types.
type typeTarget struct {
	typ   *metadata.Type
	class *metadata.Class
	size  int
}

// CompiledCode is what the interpreter coder records for one verified
// method: the raw code plus everything its tokens resolve to.
type CompiledCode struct {
	Method   *metadata.Method
	Code     []byte
	MaxStack int
	Handlers []metadata.ExceptionClause
	Locals   []*metadata.Type
	Args     []*metadata.Type

	// Requires lists the classes whose static constructors were owed
	// when the method was converted.
	Requires []*ClassPrivate

	// Page and Footprint locate the method in the code cache.
	Page      int
	Footprint int

	localZero []Value
	methods   map[uint32]*callTarget
	fields    map[uint32]*fieldTarget
	types     map[uint32]*typeTarget
	strings   map[uint32]string

	ready atomic.Bool
}

// ---------------------------------------------------------------------------
// Code cache
// ---------------------------------------------------------------------------

// Per-entry costs charged against a cache page.
const (
	methodOverhead = 64
	entryCost      = 16
)

// codeCache hands out space from fixed-size pages. A method that does
// not fit the current page is restarted on a fresh one.
type codeCache struct {
	pageSize int
	pages    []int // bytes used per page
}

func (c *codeCache) current() int { return len(c.pages) - 1 }

func (c *codeCache) free() int {
	if len(c.pages) == 0 {
		return 0
	}
	return c.pageSize - c.pages[c.current()]
}

func (c *codeCache) newPage() { c.pages = append(c.pages, 0) }

// CacheStats describes code cache use.
type CacheStats struct {
	Pages    int
	PageSize int
	Used     int
}

// ---------------------------------------------------------------------------
// InterpreterCoder
// ---------------------------------------------------------------------------

// InterpreterCoder is the process coder for interpreted execution. It
// resolves every token a method uses, lays out the classes involved,
// queues owed static constructors and accounts the method against the
// paged code cache. Hooks run under the metadata write lock.
type InterpreterCoder struct {
	process *Process
	cache   codeCache

	cc      *CompiledCode
	entries int
	err     error
	full    bool
	retried bool
	last    *CompiledCode
}

// NewInterpreterCoder creates the coder for p with cache pages of
// pageSize bytes.
func NewInterpreterCoder(p *Process, pageSize int) *InterpreterCoder {
	c := &InterpreterCoder{process: p, cache: codeCache{pageSize: pageSize}}
	c.cache.newPage()
	return c
}

// Compiled returns the method recorded by the last successful Finish.
func (c *InterpreterCoder) Compiled() *CompiledCode { return c.last }

// Stats reports code cache use.
func (c *InterpreterCoder) Stats() CacheStats {
	s := CacheStats{Pages: len(c.cache.pages), PageSize: c.cache.pageSize}
	for _, used := range c.cache.pages {
		s.Used += used
	}
	return s
}

func (c *InterpreterCoder) Setup(method *metadata.Method, body *metadata.MethodBody) error {
	p := c.process
	cc := &CompiledCode{
		Method:   method,
		Code:     body.Code,
		MaxStack: body.MaxStack,
		Handlers: body.Handlers,
		Locals:   body.Locals,
		methods:  make(map[uint32]*callTarget),
		fields:   make(map[uint32]*fieldTarget),
		types:    make(map[uint32]*typeTarget),
		strings:  make(map[uint32]string),
	}
	cc.Args = make([]*metadata.Type, method.NumArgs())
	for i := range cc.Args {
		cc.Args[i] = method.ArgType(i)
	}
	cc.localZero = make([]Value, len(body.Locals))
	for i, t := range body.Locals {
		cc.localZero[i] = p.zeroLocked(t)
	}
	c.cc = cc
	c.entries = len(body.Locals) + len(body.Handlers)
	c.err = nil
	c.full = false
	c.require(p.cctors.SetCurrentMethod(method))
	return nil
}

func (c *InterpreterCoder) require(cp *ClassPrivate) {
	if cp == nil {
		return
	}
	for _, have := range c.cc.Requires {
		if have == cp {
			return
		}
	}
	c.cc.Requires = append(c.cc.Requires, cp)
}

func (c *InterpreterCoder) Finish() error {
	if c.err != nil {
		return c.err
	}
	need := methodOverhead + len(c.cc.Code) + entryCost*c.entries
	if need > c.cache.free() {
		c.full = true
		return fmt.Errorf("%w: %s needs %d bytes", ErrCacheFull, c.cc.Method.FullName(), need)
	}
	page := c.cache.current()
	c.cache.pages[page] += need
	c.cc.Page = page
	c.cc.Footprint = need
	c.last = c.cc
	c.retried = false
	return nil
}

// Restart opens a fresh page once per method. A method larger than a
// whole page fails on the second attempt.
func (c *InterpreterCoder) Restart() bool {
	if !c.full {
		return false
	}
	if c.retried {
		c.retried = false
		return false
	}
	c.retried = true
	c.cache.newPage()
	c.process.log.Infof("code cache page %d opened", c.cache.current())
	return true
}

func (c *InterpreterCoder) Destroy() {
	c.cache.pages = nil
	c.cc = nil
	c.last = nil
}

func (c *InterpreterCoder) note() { c.entries++ }

func (c *InterpreterCoder) Label(offset int)       { c.note() }
func (c *InterpreterCoder) StackItem(StackItem)     {}
func (c *InterpreterCoder) Constant(cil.Instruction) {}

func (c *InterpreterCoder) LoadString(token uint32, s string) {
	c.cc.strings[token] = s
	c.note()
}

func (c *InterpreterCoder) LoadNull()                                   {}
func (c *InterpreterCoder) Binary(cil.Opcode, EngineType, EngineType)    {}
func (c *InterpreterCoder) BinaryPtr(cil.Opcode, EngineType, EngineType) {}
func (c *InterpreterCoder) Shift(cil.Opcode, EngineType, EngineType)     {}
func (c *InterpreterCoder) Unary(cil.Opcode, EngineType)                 {}
func (c *InterpreterCoder) Compare(cil.Opcode, EngineType, EngineType)   {}
func (c *InterpreterCoder) Conv(cil.Opcode, EngineType)                  {}

func (c *InterpreterCoder) LoadArg(int, *metadata.Type)              {}
func (c *InterpreterCoder) StoreArg(int, EngineType, *metadata.Type) {}
func (c *InterpreterCoder) AddressOfArg(int)                         {}
func (c *InterpreterCoder) LoadLocal(int, *metadata.Type)            {}
func (c *InterpreterCoder) StoreLocal(int, EngineType, *metadata.Type) {}
func (c *InterpreterCoder) AddressOfLocal(int)                         {}
func (c *InterpreterCoder) Dup(StackItem)                              {}
func (c *InterpreterCoder) Pop(StackItem)                              {}

func (c *InterpreterCoder) Branch(cil.Opcode, int, EngineType, EngineType) { c.note() }
func (c *InterpreterCoder) Switch(targets []int)                          { c.entries += len(targets) }
func (c *InterpreterCoder) Leave(int)                                     { c.note() }
func (c *InterpreterCoder) EndFinally()                                   {}
func (c *InterpreterCoder) Throw(bool)                                    {}

func (c *InterpreterCoder) ArrayAccess(op cil.Opcode, index EngineType, elem TypeSite) {
	if elem.Token != 0 {
		c.typeOperand(elem)
	}
}

func (c *InterpreterCoder) ArrayLength() {}

func (c *InterpreterCoder) NewArray(elem TypeSite, length EngineType) {
	c.typeOperand(elem)
	c.process.layoutLocked(c.process.corlib.ArrayClass(elem.Type))
}

func (c *InterpreterCoder) PtrAccess(cil.Opcode, *metadata.Type) {}

func (c *InterpreterCoder) callOperand(site CallSite) *callTarget {
	p := c.process
	m := site.Method
	target := &callTarget{
		method:    m,
		owner:     p.layoutLocked(m.Owner),
		virtual:   site.Virtual,
		nargs:     m.NumArgs(),
		hasReturn: m.Signature.Return.Kind != metadata.ElemVoid,
	}
	if m.Has(metadata.MethodInternalCall) {
		target.internal = p.internals.Lookup(m)
		if target.internal == nil {
			c.err = fmt.Errorf("%w: no internal implementation of %s", ErrMissingMethod, m.FullName())
		}
	}
	c.cc.methods[site.Token] = target
	c.note()
	c.require(p.cctors.OnCallMethod(m))
	return target
}

func (c *InterpreterCoder) CallMethod(site CallSite) { c.callOperand(site) }
func (c *InterpreterCoder) CallCtor(site CallSite)   { c.callOperand(site) }

func (c *InterpreterCoder) ReturnInsn(EngineType, *metadata.Type) {}

func (c *InterpreterCoder) fieldOperand(site FieldSite) {
	p := c.process
	f := site.Field
	owner := p.layoutLocked(f.Owner)
	target := &fieldTarget{field: f, owner: owner, static: f.IsStatic()}
	if !target.static {
		target.slot, _ = owner.fieldSlot(f)
	}
	c.cc.fields[site.Token] = target
	c.note()
	if target.static {
		c.require(p.cctors.OnStaticFieldAccess(f))
	}
}

func (c *InterpreterCoder) LoadField(site FieldSite)                  { c.fieldOperand(site) }
func (c *InterpreterCoder) StoreField(site FieldSite, from EngineType) { c.fieldOperand(site) }
func (c *InterpreterCoder) LoadFieldAddr(site FieldSite)              { c.fieldOperand(site) }
func (c *InterpreterCoder) LoadStaticField(site FieldSite)            { c.fieldOperand(site) }
func (c *InterpreterCoder) StoreStaticField(site FieldSite, from EngineType) {
	c.fieldOperand(site)
}
func (c *InterpreterCoder) LoadStaticFieldAddr(site FieldSite) { c.fieldOperand(site) }

func (c *InterpreterCoder) typeOperand(site TypeSite) *typeTarget {
	p := c.process
	target := &typeTarget{typ: site.Type, class: site.Class}
	if site.Class != nil {
		p.layoutLocked(site.Class)
	}
	if site.Type.Kind != metadata.ElemPtr && site.Type.Kind != metadata.ElemByRef {
		target.size = p.sizeLocked(site.Type)
	} else {
		target.size = 8
	}
	c.cc.types[site.Token] = target
	c.note()
	return target
}

func (c *InterpreterCoder) Box(site TypeSite, from EngineType)    { c.typeOperand(site) }
func (c *InterpreterCoder) Unbox(site TypeSite, toValue bool)     { c.typeOperand(site) }
func (c *InterpreterCoder) CastClass(site TypeSite, throws bool)  { c.typeOperand(site) }
func (c *InterpreterCoder) InitObject(site TypeSite)              { c.typeOperand(site) }
func (c *InterpreterCoder) CopyObject(op cil.Opcode, site TypeSite) { c.typeOperand(site) }
func (c *InterpreterCoder) SizeOf(site TypeSite)                  { c.typeOperand(site) }
