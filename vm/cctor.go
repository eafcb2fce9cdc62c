package vm

import (
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// CCtorMgr: static constructor ordering and locking
// ---------------------------------------------------------------------------

// classEntry is one queued class. Entries come from the manager's pool
// and are returned to it when the queue is drained.
type classEntry struct {
	class *ClassPrivate
	next  *classEntry
}

// CCtorMgr queues classes whose static constructors are owed and runs
// them at most once each.
//
// Queue mutation happens while the process metadata write lock is held.
// Running constructors takes the manager lock, which records its owner
// so that a constructor that triggers more constructors on the same
// thread does not deadlock.
type CCtorMgr struct {
	process *Process
	log     commonlog.Logger

	first, last *classEntry
	count       int
	pool        sync.Pool

	// Method being converted, and what kind of method it is.
	current             *metadata.Method
	isConstructor       bool
	isStaticConstructor bool

	lock  sync.Mutex
	owner atomic.Pointer[Thread]

	runs atomic.Int64
}

func newCCtorMgr(p *Process) *CCtorMgr {
	m := &CCtorMgr{process: p, log: commonlog.GetLogger("ilvm.cctor")}
	m.pool.New = func() any { return new(classEntry) }
	return m
}

// Runs returns how many static constructors have been executed.
func (m *CCtorMgr) Runs() int64 { return m.runs.Load() }

// Queued returns the number of classes waiting in the queue. The caller
// must hold the metadata write lock, which guards the queue.
func (m *CCtorMgr) Queued() int { return m.count }

// findOrAddClass returns the entry for cp, appending one if the class is
// not queued yet.
func (m *CCtorMgr) findOrAddClass(cp *ClassPrivate) *classEntry {
	for e := m.first; e != nil; e = e.next {
		if e.class == cp {
			return e
		}
	}
	e := m.pool.Get().(*classEntry)
	e.class, e.next = cp, nil
	if m.last == nil {
		m.first = e
	} else {
		m.last.next = e
	}
	m.last = e
	m.count++
	return e
}

// QueueClass queues the static constructor of cp. Classes without one
// are marked done immediately. It reports whether the class still owes
// its constructor.
func (m *CCtorMgr) QueueClass(cp *ClassPrivate) bool {
	if cp.state.Load()&cctorOnce != 0 {
		return false
	}
	if cp.Class.StaticConstructor() == nil {
		cp.state.Or(cctorOnce)
		return false
	}
	m.findOrAddClass(cp)
	return true
}

// SetCurrentMethod records the method being converted. Converting a
// static method or a constructor queues its own class unless the class
// is BeforeFieldInit or the method is the class's static constructor.
// The queued class, if any, is returned.
func (m *CCtorMgr) SetCurrentMethod(method *metadata.Method) *ClassPrivate {
	m.current = method
	m.isConstructor = false
	m.isStaticConstructor = false
	if method == nil {
		return nil
	}
	switch {
	case method.IsStaticConstructor():
		m.isStaticConstructor = true
		return nil
	case method.IsConstructor():
		m.isConstructor = true
	case !method.IsStatic():
		return nil
	}
	owner := method.Owner
	if owner.Has(metadata.ClassBeforeFieldInit) {
		return nil
	}
	return m.queued(m.process.layoutLocked(owner))
}

func (m *CCtorMgr) queued(cp *ClassPrivate) *ClassPrivate {
	if m.QueueClass(cp) {
		return cp
	}
	return nil
}

// ownerIsRunning reports whether the method being converted is the
// static constructor of class.
func (m *CCtorMgr) ownerIsRunning(class *metadata.Class) bool {
	return m.isStaticConstructor && m.current != nil && m.current.Owner == class
}

// OnCallMethod is told about every call the converted method makes.
// Calls to static methods and constructors queue the callee's class,
// which is returned.
func (m *CCtorMgr) OnCallMethod(method *metadata.Method) *ClassPrivate {
	owner := method.Owner
	cp := m.process.layoutLocked(owner)
	if cp.state.Load()&cctorOnce != 0 || owner.Has(metadata.ClassBeforeFieldInit) {
		return nil
	}
	if !method.IsStatic() && !method.IsConstructor() {
		return nil
	}
	if m.ownerIsRunning(owner) {
		return nil
	}
	return m.queued(cp)
}

// OnStaticFieldAccess is told about every static field the converted
// method touches. BeforeFieldInit does not exempt field access.
func (m *CCtorMgr) OnStaticFieldAccess(field *metadata.Field) *ClassPrivate {
	owner := field.Owner
	cp := m.process.layoutLocked(owner)
	if cp.state.Load()&cctorOnce != 0 {
		return nil
	}
	if m.ownerIsRunning(owner) {
		return nil
	}
	return m.queued(cp)
}

// takeQueue snapshots the queue in FIFO order and clears it.
func (m *CCtorMgr) takeQueue() []*ClassPrivate {
	classes := make([]*ClassPrivate, 0, m.count)
	for e := m.first; e != nil; {
		next := e.next
		classes = append(classes, e.class)
		e.class, e.next = nil, nil
		m.pool.Put(e)
		e = next
	}
	m.first, m.last, m.count = nil, nil, 0
	return classes
}

// acquire takes the manager lock unless t already holds it, and returns
// the matching release.
func (m *CCtorMgr) acquire(t *Thread) func() {
	if m.owner.Load() == t {
		return func() {}
	}
	m.lock.Lock()
	m.owner.Store(t)
	return func() {
		m.owner.Store(nil)
		m.lock.Unlock()
	}
}

// runOne executes the static constructor of cp unless it already ran or
// is running. The caller holds the manager lock. It reports false with
// the constructor's exception pending.
func (m *CCtorMgr) runOne(t *Thread, cp *ClassPrivate) bool {
	if cp.state.Load()&(cctorRunning|cctorOnce) != 0 {
		return true
	}
	p := m.process
	p.metadata.RLock()
	cctor := cp.Class.StaticConstructor()
	p.metadata.RUnlock()
	if cctor != nil {
		cp.state.Or(cctorRunning)
		m.log.Debugf("running %s", cctor.FullName())
		m.runs.Add(1)
		if _, ok := t.Call(cctor); !ok {
			cp.state.And(^cctorRunning)
			return false
		}
	}
	cp.state.Or(cctorOnce)
	return true
}

// RunCCtor runs the static constructor of one class now. Failure leaves
// a TypeInitializationException pending.
func (m *CCtorMgr) RunCCtor(t *Thread, cp *ClassPrivate) bool {
	if cp.state.Load()&cctorOnce != 0 {
		return true
	}
	release := m.acquire(t)
	ok := m.runOne(t, cp)
	release()
	if !ok {
		t.ThrowTypeInitialization(cp.Class)
	}
	return ok
}

// RunCCtors drains the queue. It is called with the metadata write lock
// held and always releases it: the lock is dropped, with finalizers
// re-enabled, before any constructor runs.
func (m *CCtorMgr) RunCCtors(t *Thread) bool {
	p := m.process
	if m.first == nil {
		p.unlockMetadata()
		return true
	}
	classes := m.takeQueue()
	p.unlockMetadata()

	release := m.acquire(t)
	ok := true
	var failed *ClassPrivate
	for _, cp := range classes {
		if !m.runOne(t, cp) {
			ok, failed = false, cp
			break
		}
	}
	release()
	if !ok {
		t.ThrowTypeInitialization(failed.Class)
	}
	return ok
}
