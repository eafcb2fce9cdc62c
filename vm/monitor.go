package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Monitors: System.Threading.Monitor support
// ---------------------------------------------------------------------------

// monitor is the lock associated with one object. It is reentrant for
// its owner thread.
type monitor struct {
	owner   *Thread
	count   int
	waiters int
	cond    *sync.Cond
}

// monitorTable maps object lock words to monitors. Entries exist only
// while a monitor is held or waited on.
type monitorTable struct {
	mu       sync.Mutex
	monitors map[uint32]*monitor
}

func newMonitorTable() *monitorTable {
	return &monitorTable{monitors: make(map[uint32]*monitor)}
}

// enter blocks until t owns obj's monitor. It reports false, without the
// monitor, when an abort of t is requested while it waits.
func (mt *monitorTable) enter(t *Thread, obj *Object) bool {
	key := uint32(obj.HashCode())
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mon := mt.monitors[key]
	if mon == nil {
		mon = &monitor{cond: sync.NewCond(&mt.mu)}
		mt.monitors[key] = mon
	}
	for mon.owner != nil && mon.owner != t {
		if t.abortDue() {
			return false
		}
		mon.waiters++
		mon.cond.Wait()
		mon.waiters--
	}
	mon.owner = t
	mon.count++
	return true
}

// wake rouses every waiter so it can observe an abort request.
func (mt *monitorTable) wake() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for _, mon := range mt.monitors {
		if mon.waiters > 0 {
			mon.cond.Broadcast()
		}
	}
}

// tryEnter takes obj's monitor if it is free or already t's.
func (mt *monitorTable) tryEnter(t *Thread, obj *Object) bool {
	key := uint32(obj.HashCode())
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mon := mt.monitors[key]
	if mon == nil {
		mon = &monitor{cond: sync.NewCond(&mt.mu)}
		mt.monitors[key] = mon
	}
	if mon.owner != nil && mon.owner != t {
		return false
	}
	mon.owner = t
	mon.count++
	return true
}

// exit releases one level of t's hold on obj's monitor. It reports false
// when t does not own the monitor.
func (mt *monitorTable) exit(t *Thread, obj *Object) bool {
	key := uint32(obj.HashCode())
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mon := mt.monitors[key]
	if mon == nil || mon.owner != t {
		return false
	}
	mon.count--
	if mon.count == 0 {
		mt.release(key, mon)
	}
	return true
}

func (mt *monitorTable) release(key uint32, mon *monitor) {
	mon.owner = nil
	mon.count = 0
	if mon.waiters > 0 {
		mon.cond.Broadcast()
		return
	}
	delete(mt.monitors, key)
}

// releaseAll drops every monitor t holds.
func (mt *monitorTable) releaseAll(t *Thread) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for key, mon := range mt.monitors {
		if mon.owner == t {
			mt.release(key, mon)
		}
	}
}

// held reports how many times t has entered obj's monitor.
func (mt *monitorTable) held(t *Thread, obj *Object) int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mon := mt.monitors[uint32(obj.HashCode())]
	if mon == nil || mon.owner != t {
		return 0
	}
	return mon.count
}
