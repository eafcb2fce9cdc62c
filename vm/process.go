package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/vm/gc"
	"github.com/chazu/ilvm/vm/ledger"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Coder names accepted by Options.Coder.
const (
	CoderInterpreter = "interpreter"
	CoderTrace       = "trace"
)

// Process errors.
var (
	ErrUnknownCoder    = errors.New("vm: unknown coder")
	ErrDuplicateModule = errors.New("vm: module already loaded")
	ErrThreadClosed    = errors.New("vm: thread is closed")
	ErrMethodNotFound  = errors.New("vm: method not found")
)

// Options configures a process.
type Options struct {
	StackSize      int   // initial value stack slots per thread
	FrameStackSize int   // initial frame slots per thread
	MaxFrames      int   // frame limit before StackOverflowException; 0 is unlimited
	MaxHeap        int64 // collector limit in bytes; 0 is unlimited
	CachePage      int   // code cache page size in bytes
	Unsafe         bool  // admit unverifiable pointer arithmetic
	Profile        bool  // count method invocations

	Coder string    // CoderInterpreter or CoderTrace
	Trace io.Writer // hook listing for CoderTrace

	Stdout    io.Writer
	Collector Collector
	Ledger    *ledger.Ledger
	Language  language.Tag
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		StackSize:      1024,
		FrameStackSize: 64,
		MaxFrames:      10000,
		MaxHeap:        8 << 20,
		CachePage:      64 << 10,
		Coder:          CoderInterpreter,
		Stdout:         os.Stdout,
		Language:       language.English,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.StackSize <= 0 {
		o.StackSize = d.StackSize
	}
	if o.FrameStackSize <= 0 {
		o.FrameStackSize = d.FrameStackSize
	}
	if o.CachePage <= 0 {
		o.CachePage = d.CachePage
	}
	if o.Coder == "" {
		o.Coder = d.Coder
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	if o.Trace == nil {
		o.Trace = os.Stderr
	}
	if o.Language == language.Und {
		o.Language = d.Language
	}
}

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

// Process is one engine instance: loaded modules, class layouts,
// converted methods, the coder, the collector and the threads running
// managed code.
type Process struct {
	ID      uuid.UUID
	options Options
	log     commonlog.Logger

	corlib  *metadata.Corlib
	modules []*metadata.Module

	// metadata guards classes, code, the coder and the cctor queue.
	metadata sync.RWMutex
	classes  map[*metadata.Class]*ClassPrivate
	code     map[*metadata.Method]*CompiledCode
	verified map[*metadata.Method]*Verified

	coder     Coder
	interp    *InterpreterCoder
	verifier  *Verifier
	collector Collector
	cctors    *CCtorMgr
	internals *InternalRegistry
	monitors  *monitorTable
	ledger    *ledger.Ledger
	profiler  *Profiler

	stdoutMu sync.Mutex
	stdout   io.Writer
	printer  *message.Printer
	oom      *Object

	interned *internTable

	threadsMu sync.Mutex
	threads   map[uuid.UUID]*Thread
	finalizer *Thread

	conversions atomic.Int64
	failures    atomic.Int64
}

// NewProcess creates a process with corlib loaded.
func NewProcess(opts Options) (*Process, error) {
	opts.fill()
	p := &Process{
		ID:       uuid.New(),
		options:  opts,
		log:      commonlog.GetLogger("ilvm.vm"),
		corlib:   metadata.NewCorlib(),
		classes:  make(map[*metadata.Class]*ClassPrivate),
		code:     make(map[*metadata.Method]*CompiledCode),
		verified: make(map[*metadata.Method]*Verified),
		ledger:   opts.Ledger,
		stdout:   opts.Stdout,
		printer:  newMessagePrinter(opts.Language),
		interned: newInternTable(),
		threads:  make(map[uuid.UUID]*Thread),
		monitors: newMonitorTable(),
	}
	p.modules = []*metadata.Module{p.corlib.Module}
	p.collector = opts.Collector
	if p.collector == nil {
		p.collector = gc.New(opts.MaxHeap)
	}
	p.cctors = newCCtorMgr(p)
	p.internals = newInternalRegistry(p.corlib)
	p.verifier = NewVerifier(p.corlib, opts.Unsafe)
	p.interp = NewInterpreterCoder(p, opts.CachePage)
	switch opts.Coder {
	case CoderInterpreter:
		p.coder = p.interp
	case CoderTrace:
		p.coder = NewTraceCoder(opts.Trace, p.interp)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoder, opts.Coder)
	}
	if opts.Profile {
		p.profiler = NewProfiler()
		p.profiler.OnHot = func(m *metadata.Method, _ *MethodProfile) {
			p.log.Debugf("%s is hot", m.FullName())
		}
	}
	p.oom = p.preallocateOOM()
	p.log.Noticef("process %s started (coder %s, heap limit %d)", p.ID, opts.Coder, opts.MaxHeap)
	return p, nil
}

// preallocateOOM builds the OutOfMemoryException thrown when allocation
// fails. It bypasses the collector so it always exists.
func (p *Process) preallocateOOM() *Object {
	c := p.corlib
	cp := p.ClassPrivate(c.OutOfMemoryException)
	obj := &Object{fields: cp.newFields()}
	obj.class = cp
	msg := &Object{data: encodeUTF16(p.printer.Sprintf(ResOutOfMemory))}
	msg.class = p.ClassPrivate(c.String)
	if slot, ok := cp.fieldSlot(c.MessageField); ok {
		obj.fields[slot] = ObjectValue(msg)
	}
	return obj
}

// Corlib returns the well-known classes.
func (p *Process) Corlib() *metadata.Corlib { return p.corlib }

// Profiler returns the invocation profiler, or nil unless Options.Profile
// is set.
func (p *Process) Profiler() *Profiler { return p.profiler }

// Options returns the options the process was created with.
func (p *Process) Options() Options { return p.options }

// Internals returns the internal-call registry.
func (p *Process) Internals() *InternalRegistry { return p.internals }

// LoadModule makes m's classes available to the process.
func (p *Process) LoadModule(m *metadata.Module) error {
	p.lockMetadata()
	defer p.unlockMetadata()
	for _, have := range p.modules {
		if have.Name == m.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
	}
	p.modules = append(p.modules, m)
	p.log.Infof("loaded module %s: %d classes, %d method tokens", m.Name, len(m.Classes), len(m.Methods()))
	return nil
}

// Modules returns the loaded modules, corlib first.
func (p *Process) Modules() []*metadata.Module {
	p.metadata.RLock()
	defer p.metadata.RUnlock()
	return append([]*metadata.Module(nil), p.modules...)
}

// FindMethod resolves "Namespace.Class::Name" across loaded modules.
func (p *Process) FindMethod(qualified string) (*metadata.Method, error) {
	className, methodName, ok := strings.Cut(qualified, "::")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not Class::Method", ErrMethodNotFound, qualified)
	}
	for _, mod := range p.Modules() {
		if m := mod.FindMethod(className, methodName); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, qualified)
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// NewThread attaches a new managed thread.
func (p *Process) NewThread() *Thread {
	t := newThread(p)
	p.threadsMu.Lock()
	p.threads[t.ID] = t
	p.threadsMu.Unlock()
	p.log.Debugf("thread %s attached", t.ID)
	return t
}

func (p *Process) removeThread(t *Thread) {
	p.threadsMu.Lock()
	delete(p.threads, t.ID)
	p.threadsMu.Unlock()
}

// Threads returns the number of attached threads.
func (p *Process) Threads() int {
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()
	return len(p.threads)
}

// finalizerThread returns the thread finalizers run on. The collector
// never runs two finalizers at once.
func (p *Process) finalizerThread() *Thread {
	p.threadsMu.Lock()
	t := p.finalizer
	p.threadsMu.Unlock()
	if t == nil {
		t = p.NewThread()
		p.threadsMu.Lock()
		p.finalizer = t
		p.threadsMu.Unlock()
	}
	return t
}

// Invoke runs m on a fresh thread.
func (p *Process) Invoke(ctx context.Context, m *metadata.Method, args ...Value) (Value, error) {
	t := p.NewThread()
	defer t.Close()
	return t.Invoke(ctx, m, args...)
}

// Close detaches every thread and releases the coder.
func (p *Process) Close() error {
	p.threadsMu.Lock()
	threads := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	p.threadsMu.Unlock()
	for _, t := range threads {
		t.Close()
	}
	p.lockMetadata()
	p.coder.Destroy()
	p.unlockMetadata()
	p.log.Infof("process %s closed after %d conversions", p.ID, p.conversions.Load())
	return nil
}

// ---------------------------------------------------------------------------
// Metadata lock
// ---------------------------------------------------------------------------

// lockMetadata takes the metadata write lock with finalizers held off,
// since a finalizer could need the lock itself.
func (p *Process) lockMetadata() {
	p.metadata.Lock()
	p.collector.DisableFinalizers()
}

// unlockMetadata releases the write lock and runs finalizers that became
// due, unless a static constructor is in progress.
func (p *Process) unlockMetadata() {
	p.collector.EnableFinalizers()
	p.metadata.Unlock()
	if p.cctors.owner.Load() == nil {
		p.collector.InvokeFinalizers()
	}
}

// ---------------------------------------------------------------------------
// Method conversion
// ---------------------------------------------------------------------------

// ConvertMethod verifies and converts m on first use and makes sure the
// static constructors it depends on have run. It reports false with an
// exception pending on failure.
func (p *Process) ConvertMethod(t *Thread, m *metadata.Method) (*CompiledCode, bool) {
	p.metadata.RLock()
	cc := p.code[m]
	p.metadata.RUnlock()
	if cc != nil {
		return cc, p.ensureInitialized(t, cc)
	}

	p.lockMetadata()
	if cc = p.code[m]; cc != nil {
		p.unlockMetadata()
		return cc, p.ensureInitialized(t, cc)
	}
	res, err := p.verifier.Verify(p.coder, m)
	p.cctors.SetCurrentMethod(nil)
	if err != nil {
		p.cctors.takeQueue()
		p.unlockMetadata()
		p.failures.Add(1)
		p.record(m, nil, err)
		p.throwConversion(t, m, err)
		return nil, false
	}
	cc = p.interp.Compiled()
	p.code[m] = cc
	p.verified[m] = res
	p.conversions.Add(1)
	p.log.Debugf("converted %s: %d bytes on page %d", m.FullName(), cc.Footprint, cc.Page)
	ok := p.cctors.RunCCtors(t)
	p.record(m, res, nil)
	if !ok {
		return nil, false
	}
	return cc, p.ensureInitialized(t, cc)
}

// ensureInitialized runs the static constructors cc was converted
// against that are still owed.
func (p *Process) ensureInitialized(t *Thread, cc *CompiledCode) bool {
	if cc.ready.Load() {
		return true
	}
	done := true
	for _, cp := range cc.Requires {
		if !p.cctors.RunCCtor(t, cp) {
			return false
		}
		if !cp.Initialized() {
			done = false
		}
	}
	if done {
		cc.ready.Store(true)
	}
	return true
}

// throwConversion maps a conversion failure to a managed exception.
func (p *Process) throwConversion(t *Thread, m *metadata.Method, err error) {
	switch {
	case errors.Is(err, ErrCacheFull):
		t.ThrowOutOfMemory()
	case errors.Is(err, ErrMissingMethod), errors.Is(err, ErrMissingType):
		t.ThrowSystem("System.MissingMethodException", ResMissingMethod, err.Error())
	case errors.Is(err, ErrMissingField):
		t.ThrowSystem("System.MissingFieldException", ResMissingField, err.Error())
	case errors.Is(err, ErrUnsupported):
		t.ThrowSystem("System.InvalidProgramException", ResInvalidProgram, err.Error())
	case errors.Is(err, ErrSecurity):
		t.ThrowSystem("System.Security.SecurityException", ResSecurity, err.Error())
	default:
		t.ThrowSystem("System.Security.VerificationException", ResVerification, err.Error())
	}
}

// Verify verifies m without running it, converting it as a side effect.
func (p *Process) Verify(m *metadata.Method) (*Verified, error) {
	p.lockMetadata()
	if res, ok := p.verified[m]; ok {
		p.unlockMetadata()
		return res, nil
	}
	res, err := p.verifier.Verify(p.coder, m)
	p.cctors.SetCurrentMethod(nil)
	if err == nil {
		p.code[m] = p.interp.Compiled()
		p.verified[m] = res
		p.conversions.Add(1)
	} else {
		p.failures.Add(1)
	}
	// Constructors owed by a method that is only verified run when it is
	// first called.
	p.cctors.takeQueue()
	p.unlockMetadata()
	p.record(m, res, err)
	return res, err
}

// JumpTargets returns the stack shapes recorded when m was verified.
func (p *Process) JumpTargets(m *metadata.Method) []JumpTarget {
	p.metadata.RLock()
	defer p.metadata.RUnlock()
	if res, ok := p.verified[m]; ok {
		return res.Targets
	}
	return nil
}

// record appends the outcome of a verification to the ledger.
func (p *Process) record(m *metadata.Method, res *Verified, err error) {
	if p.ledger == nil {
		return
	}
	e := ledger.Entry{Method: m.FullName(), OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if res != nil {
		e.Restarts = res.Restarts
		for _, jt := range res.Targets {
			target := ledger.Target{Offset: jt.Offset}
			for _, item := range jt.Stack {
				target.Stack = append(target.Stack, item.String())
			}
			e.Targets = append(e.Targets, target)
		}
	}
	changed, lerr := p.ledger.Record(e)
	if lerr != nil {
		p.log.Errorf("ledger: %v", lerr)
		return
	}
	if changed {
		p.log.Warningf("%s verified to different jump target shapes than recorded", m.FullName())
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// Stats summarizes process activity.
type Stats struct {
	Threads     int
	Classes     int
	Methods     int
	Conversions int64
	Failures    int64
	CCtorRuns   int64
	Cache       CacheStats
}

// Stats returns a snapshot of process activity.
func (p *Process) Stats() Stats {
	p.metadata.RLock()
	s := Stats{
		Classes: len(p.classes),
		Methods: len(p.code),
		Cache:   p.interp.Stats(),
	}
	p.metadata.RUnlock()
	s.Threads = p.Threads()
	s.Conversions = p.conversions.Load()
	s.Failures = p.failures.Load()
	s.CCtorRuns = p.cctors.Runs()
	return s
}

// Write sends managed console output to the process's writer.
func (p *Process) Write(b []byte) (int, error) {
	p.stdoutMu.Lock()
	defer p.stdoutMu.Unlock()
	return p.stdout.Write(b)
}
