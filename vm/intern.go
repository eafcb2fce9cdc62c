package vm

import "sync"

// ---------------------------------------------------------------------------
// internTable: the process string intern pool
// ---------------------------------------------------------------------------

// internTable maps literal text to the one string object ldstr yields for
// it. Objects stay reachable for the life of the process.
type internTable struct {
	mu     sync.RWMutex
	byText map[string]*Object
}

func newInternTable() *internTable {
	return &internTable{byText: make(map[string]*Object)}
}

// intern returns the object for s, calling create on first use. A nil
// result from create (allocation failed) is not cached.
func (it *internTable) intern(s string, create func() *Object) *Object {
	// Fast path: read-only lookup
	it.mu.RLock()
	if obj, ok := it.byText[s]; ok {
		it.mu.RUnlock()
		return obj
	}
	it.mu.RUnlock()

	it.mu.Lock()
	defer it.mu.Unlock()

	// Double-check after acquiring write lock
	if obj, ok := it.byText[s]; ok {
		return obj
	}
	obj := create()
	if obj != nil {
		it.byText[s] = obj
	}
	return obj
}

// lookup returns the interned object for s, if any.
func (it *internTable) lookup(s string) (*Object, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	obj, ok := it.byText[s]
	return obj, ok
}

// Len returns the number of interned strings.
func (it *internTable) Len() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.byText)
}
