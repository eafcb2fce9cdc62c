package vm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// CallFrame
// ---------------------------------------------------------------------------

// CallFrame is one managed method activation. Every position is an index
// into the thread's value stack so frames survive stack growth.
type CallFrame struct {
	Method *metadata.Method
	Code   *CompiledCode

	PC   int // next instruction
	Insn int // instruction being executed

	Base      int // first argument
	Locals    int // first local
	StackBase int // first evaluation stack slot

	// ExceptHeight is the continuation stack height on entry.
	ExceptHeight int

	// result holds the object a newobj frame hands back on return.
	result []Value
}

// ---------------------------------------------------------------------------
// Thread
// ---------------------------------------------------------------------------

// Thread is one managed thread of a process. A thread is not safe for
// concurrent use; only Abort may be called from another goroutine.
type Thread struct {
	ID      uuid.UUID
	process *Process
	log     commonlog.Logger

	stack []Value
	sp    int

	frames    []*CallFrame
	fp        int
	maxFrames int

	thrown   *Object
	aborting atomic.Bool

	conts         []continuation
	threadStatics map[*ClassPrivate][]Value
	closed        bool
}

func newThread(p *Process) *Thread {
	t := &Thread{
		ID:            uuid.New(),
		process:       p,
		log:           p.log,
		stack:         make([]Value, p.options.StackSize),
		frames:        make([]*CallFrame, p.options.FrameStackSize),
		fp:            -1,
		maxFrames:     p.options.MaxFrames,
		threadStatics: make(map[*ClassPrivate][]Value),
	}
	return t
}

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.process }

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

// ensure makes room for n more values, doubling the stack as needed.
func (t *Thread) ensure(n int) {
	need := t.sp + n
	if need <= len(t.stack) {
		return
	}
	size := len(t.stack) * 2
	if size < need {
		size = need
	}
	grown := make([]Value, size)
	copy(grown, t.stack[:t.sp])
	t.stack = grown
}

func (t *Thread) push(v Value) {
	if t.sp >= len(t.stack) {
		t.ensure(1)
	}
	t.stack[t.sp] = v
	t.sp++
}

func (t *Thread) pop() Value {
	if t.sp <= 0 {
		panic("vm: stack underflow")
	}
	t.sp--
	v := t.stack[t.sp]
	t.stack[t.sp] = Value{}
	return v
}

func (t *Thread) top() Value {
	if t.sp <= 0 {
		panic("vm: stack underflow")
	}
	return t.stack[t.sp-1]
}

// truncate drops everything above sp.
func (t *Thread) truncate(sp int) {
	clear(t.stack[sp:t.sp])
	t.sp = sp
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// frame returns the innermost frame.
func (t *Thread) frame() *CallFrame { return t.frames[t.fp] }

// pushFrame activates cc with its arguments already on the stack. It
// reports false with StackOverflowException pending when the frame limit
// is reached.
func (t *Thread) pushFrame(cc *CompiledCode) bool {
	if t.maxFrames > 0 && t.fp+1 >= t.maxFrames {
		t.ThrowSystem("System.StackOverflowException", ResStackOverflow)
		return false
	}
	t.fp++
	if t.fp >= len(t.frames) {
		grown := make([]*CallFrame, len(t.frames)*2+1)
		copy(grown, t.frames)
		t.frames = grown
	}
	base := t.sp - len(cc.Args)
	for i, typ := range cc.Args {
		t.stack[base+i] = normalize(t.stack[base+i], typ)
	}
	locals := t.sp
	t.ensure(len(cc.localZero) + cc.MaxStack)
	for _, z := range cc.localZero {
		t.stack[t.sp] = copyValue(z)
		t.sp++
	}
	f := t.frames[t.fp]
	if f == nil {
		f = new(CallFrame)
		t.frames[t.fp] = f
	}
	*f = CallFrame{
		Method:       cc.Method,
		Code:         cc,
		Base:         base,
		Locals:       locals,
		StackBase:    t.sp,
		ExceptHeight: len(t.conts),
	}
	return true
}

// popFrame discards the innermost frame with its arguments, locals and
// continuations.
func (t *Thread) popFrame() *CallFrame {
	f := t.frames[t.fp]
	t.conts = t.conts[:f.ExceptHeight]
	t.truncate(f.Base)
	t.fp--
	return f
}

// Depth returns the number of active managed frames.
func (t *Thread) Depth() int { return t.fp + 1 }

// StackMethod returns the method n frames below the innermost one, or
// nil.
func (t *Thread) StackMethod(n int) *metadata.Method {
	i := t.fp - n
	if i < 0 || n < 0 {
		return nil
	}
	return t.frames[i].Method
}

// CallerModule returns the module of the innermost managed method.
func (t *Thread) CallerModule() *metadata.Module {
	if m := t.StackMethod(0); m != nil {
		return m.Owner.Module
	}
	return nil
}

// StackTrace renders the active frames innermost first.
func (t *Thread) StackTrace() string {
	var b strings.Builder
	for i := t.fp; i >= 0; i-- {
		f := t.frames[i]
		fmt.Fprintf(&b, "   at %s IL_%04x\n", f.Method.FullName(), f.Insn)
	}
	return b.String()
}

// threadStaticBlock returns this thread's copy of cp's thread-static
// fields.
func (t *Thread) threadStaticBlock(cp *ClassPrivate) []Value {
	if block, ok := t.threadStatics[cp]; ok {
		return block
	}
	block := make([]Value, len(cp.threadZero))
	for i, z := range cp.threadZero {
		block[i] = copyValue(z)
	}
	t.threadStatics[cp] = block
	return block
}

// ---------------------------------------------------------------------------
// Calling into managed code
// ---------------------------------------------------------------------------

// Call runs m to completion on t. It reports false with the exception
// pending when m throws.
func (t *Thread) Call(m *metadata.Method, args ...Value) (Value, bool) {
	if len(args) != m.NumArgs() {
		panic(fmt.Sprintf("vm: %s takes %d arguments, got %d", m.FullName(), m.NumArgs(), len(args)))
	}
	sp := t.sp
	t.ensure(len(args))
	for i, a := range args {
		t.push(normalize(copyValue(a), m.ArgType(i)))
	}
	if !t.invoke(m) {
		t.truncate(sp)
		return Value{}, false
	}
	var ret Value
	if m.Signature.Return.Kind != metadata.ElemVoid {
		ret = t.pop()
	}
	t.truncate(sp)
	return ret, true
}

// invoke calls m with its arguments on the stack and runs it to
// completion, leaving any return value in their place.
func (t *Thread) invoke(m *metadata.Method) bool {
	if pr := t.process.profiler; pr != nil {
		pr.Record(m)
	}
	if m.Has(metadata.MethodInternalCall) {
		fn := t.process.internals.Lookup(m)
		if fn == nil {
			t.ThrowSystem("System.MissingMethodException", ResMissingMethod, m.FullName())
			return false
		}
		return t.callInternal(fn, m)
	}
	cc, ok := t.process.ConvertMethod(t, m)
	if !ok {
		return false
	}
	entry := t.fp + 1
	if !t.pushFrame(cc) {
		return false
	}
	return t.run(entry)
}

// callInternal runs fn, the implementation of m, on m's arguments at the
// top of the stack.
func (t *Thread) callInternal(fn InternalFunc, m *metadata.Method) bool {
	nargs := m.NumArgs()
	base := t.sp - nargs
	args := make([]Value, nargs)
	for i := range args {
		args[i] = normalize(t.stack[base+i], m.ArgType(i))
	}
	ret, ok := fn(t, args)
	t.truncate(base)
	if !ok {
		return false
	}
	if m.Signature.Return.Kind != metadata.ElemVoid {
		t.push(normalize(ret, m.Signature.Return))
	}
	return true
}

// Invoke runs m like Call and converts an escaping exception into a
// *ManagedError. Cancelling ctx aborts the thread at its next safe
// point.
func (t *Thread) Invoke(ctx context.Context, m *metadata.Method, args ...Value) (Value, error) {
	if t.closed {
		return Value{}, ErrThreadClosed
	}
	stop := context.AfterFunc(ctx, t.Abort)
	defer stop()
	if ctx.Err() != nil {
		t.Abort()
	}
	ret, ok := t.Call(m, args...)
	t.aborting.Store(false)
	if !ok {
		err := t.managedError(t.thrown)
		t.thrown = nil
		t.log.Debugf("thread %s: %s", t.ID, err.describe())
		return Value{}, err
	}
	return ret, nil
}

// Abort asks the thread to raise ThreadAbortException at its next safe
// point. The request stays raised until the current Invoke returns. A
// thread blocked in Monitor.Enter is woken to observe it.
func (t *Thread) Abort() {
	t.aborting.Store(true)
	t.process.monitors.wake()
}

// Aborting reports whether an abort has been requested.
func (t *Thread) Aborting() bool { return t.aborting.Load() }

// safePoint raises ThreadAbortException when an abort is requested. It
// reports false with the exception pending. Aborts wait while a finally
// or fault handler runs.
func (t *Thread) safePoint() bool {
	if !t.abortDue() {
		return true
	}
	t.ThrowAbort()
	return false
}

// abortDue reports whether an abort should be raised now. It must be
// called on t's own goroutine.
func (t *Thread) abortDue() bool {
	return t.aborting.Load() && t.thrown == nil && !t.inFinally()
}

// Close detaches t from its process and releases its monitors.
func (t *Thread) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.process.monitors.releaseAll(t)
	t.process.removeThread(t)
	t.log.Debugf("thread %s closed", t.ID)
}
