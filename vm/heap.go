package vm

import (
	"fmt"
	"runtime"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Collector interface
// ---------------------------------------------------------------------------

// Collector is the garbage collector the engine allocates through. The
// engine decides when finalizers may run; the collector decides when
// objects die. vm/gc provides the default implementation.
type Collector interface {
	Alloc(size int) error
	AllocAtomic(size int) error
	Free(size int)
	RegisterFinalizer(obj any, fn func(any))
	DisableFinalizers()
	EnableFinalizers()
	InvokeFinalizers()
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// prepareClass lays out c and runs its static constructor unless the
// class is BeforeFieldInit. It reports false with an exception pending
// when the constructor failed.
func (t *Thread) prepareClass(c *metadata.Class) (*ClassPrivate, bool) {
	p := t.process
	cp := p.ClassPrivate(c)
	if cp.Initialized() || c.Has(metadata.ClassBeforeFieldInit) {
		return cp, true
	}
	p.lockMetadata()
	p.cctors.QueueClass(cp)
	if !p.cctors.RunCCtors(t) {
		return nil, false
	}
	if !cp.Initialized() && !p.cctors.RunCCtor(t, cp) {
		return nil, false
	}
	return cp, true
}

// maxObjectSize bounds a single allocation. Anything larger is refused
// before the collector or the Go heap is asked for it.
const maxObjectSize = 1<<31 - 1

// charge reserves size payload bytes plus the header with the collector.
// It returns the charged total, or false with OutOfMemoryException
// pending.
func (t *Thread) charge(size int64, atomic bool) (int, bool) {
	total := size + headerSize
	if size < 0 || total > maxObjectSize {
		t.ThrowOutOfMemory()
		return 0, false
	}
	p := t.process
	var err error
	if atomic {
		err = p.collector.AllocAtomic(int(total))
	} else {
		err = p.collector.Alloc(int(total))
	}
	if err != nil {
		t.ThrowOutOfMemory()
		return 0, false
	}
	return int(total), true
}

// stamp builds an object whose bytes were already charged and stamps the
// header.
func (t *Thread) stamp(cp *ClassPrivate, total int, fields []Value, data []byte) *Object {
	p := t.process
	obj := &Object{fields: fields, data: data}
	obj.class = cp
	runtime.AddCleanup(obj, p.collector.Free, total)
	if cp.Finalizer != nil {
		p.collector.RegisterFinalizer(obj, p.finalize)
	}
	return obj
}

// newObject charges the collector and stamps the header.
func (t *Thread) newObject(cp *ClassPrivate, size int, atomic bool, fields []Value, data []byte) *Object {
	total, ok := t.charge(int64(size), atomic)
	if !ok {
		return nil
	}
	return t.stamp(cp, total, fields, data)
}

// Alloc allocates an instance of class with size payload bytes charged.
// It returns nil with an exception pending on failure.
func (t *Thread) Alloc(class *metadata.Class, size int) *Object {
	cp, ok := t.prepareClass(class)
	if !ok {
		return nil
	}
	return t.newObject(cp, size, false, cp.newFields(), nil)
}

// AllocAtomic allocates size raw payload bytes for an instance of a class
// that holds no references.
func (t *Thread) AllocAtomic(class *metadata.Class, size int) *Object {
	if class.HasReferenceFields() {
		panic(fmt.Sprintf("vm: atomic allocation of %s, which holds references", class.FullName()))
	}
	cp, ok := t.prepareClass(class)
	if !ok {
		return nil
	}
	total, ok := t.charge(int64(size), true)
	if !ok {
		return nil
	}
	return t.stamp(cp, total, nil, make([]byte, size))
}

// AllocObject allocates an instance sized from the class layout.
func (t *Thread) AllocObject(class *metadata.Class) *Object {
	cp, ok := t.prepareClass(class)
	if !ok {
		return nil
	}
	return t.newObject(cp, cp.InstanceSize, false, cp.newFields(), nil)
}

// NewArray allocates a zeroed single-dimension array. The elements are
// only built once the collector accepted the charge.
func (t *Thread) NewArray(elem *metadata.Type, n int) *Object {
	if n < 0 {
		t.ThrowSystem("System.OverflowException", ResNegativeArrayLen)
		return nil
	}
	p := t.process
	cp := p.ClassPrivate(p.corlib.ArrayClass(elem))
	p.lockMetadata()
	zero := p.zeroLocked(elem)
	elemSize := int64(p.sizeLocked(elem))
	p.unlockMetadata()
	if elemSize > 0 && int64(n) > maxObjectSize/elemSize {
		t.ThrowOutOfMemory()
		return nil
	}
	total, ok := t.charge(elemSize*int64(n), elem.Kind.IsPrimitive())
	if !ok {
		return nil
	}
	elems := make([]Value, n)
	for i := range elems {
		elems[i] = copyValue(zero)
	}
	return t.stamp(cp, total, elems, nil)
}

// NewString allocates a string object.
func (t *Thread) NewString(s string) *Object {
	p := t.process
	cp := p.ClassPrivate(p.corlib.String)
	data := encodeUTF16(s)
	return t.newObject(cp, len(data), true, nil, data)
}

// Intern returns the process-wide string object for s.
func (t *Thread) Intern(s string) *Object {
	return t.process.interned.intern(s, func() *Object { return t.NewString(s) })
}

// finalize runs an object's Finalize override on the finalizer thread.
func (p *Process) finalize(o any) {
	obj := o.(*Object)
	t := p.finalizerThread()
	if _, ok := t.Call(obj.class.Finalizer, ObjectValue(obj)); !ok {
		p.log.Warningf("finalizer of %s threw %s", obj.class.Class.FullName(), t.Exception())
		t.ClearException()
	}
}
