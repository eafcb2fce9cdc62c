// Package gc adapts the Go runtime collector to the engine's allocation
// and finalization interface.
//
// The Go runtime owns reclamation. Heap adds what the engine needs on
// top of it: an accounted heap limit so allocation failure can surface as
// OutOfMemoryException, and a finalizer queue with a gate that the engine
// closes while class layout is in progress.
package gc

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// ErrOutOfMemory is returned when an allocation would exceed the limit.
var ErrOutOfMemory = errors.New("gc: heap limit exceeded")

// Stats is a snapshot of heap accounting.
type Stats struct {
	Used      int64
	Max       int64
	Allocs    int64
	Atomic    int64
	Freed     int64
	Finalized int64
	Pending   int
}

// Heap is the default collector.
type Heap struct {
	max       int64
	used      atomic.Int64
	allocs    atomic.Int64
	atomic    atomic.Int64
	freed     atomic.Int64
	finalized atomic.Int64

	mu       sync.Mutex
	disabled int
	queue    []func()
	running  bool

	log commonlog.Logger
}

// New creates a heap. A max of zero or less means unlimited.
func New(max int64) *Heap {
	return &Heap{max: max, log: commonlog.GetLogger("ilvm.gc")}
}

func (h *Heap) reserve(size int) error {
	n := int64(size)
	for {
		used := h.used.Load()
		if h.max > 0 && used+n > h.max {
			runtime.GC()
			if used = h.used.Load(); used+n > h.max {
				h.log.Warningf("allocation of %d bytes refused: %d of %d in use", size, used, h.max)
				return ErrOutOfMemory
			}
		}
		if h.used.CompareAndSwap(used, used+n) {
			h.allocs.Add(1)
			return nil
		}
	}
}

// Alloc accounts for an allocation that may hold references.
func (h *Heap) Alloc(size int) error {
	return h.reserve(size)
}

// AllocAtomic accounts for an allocation that holds no references.
func (h *Heap) AllocAtomic(size int) error {
	if err := h.reserve(size); err != nil {
		return err
	}
	h.atomic.Add(1)
	return nil
}

// Free returns size bytes to the limit. It is called from runtime
// cleanups once an object is unreachable.
func (h *Heap) Free(size int) {
	h.used.Add(-int64(size))
	h.freed.Add(1)
}

// RegisterFinalizer queues fn(obj) once obj becomes unreachable. obj
// must be a pointer to the start of an allocation, and fn must not
// capture it.
func (h *Heap) RegisterFinalizer(obj any, fn func(any)) {
	runtime.SetFinalizer(obj, func(o any) {
		h.mu.Lock()
		h.queue = append(h.queue, func() { fn(o) })
		h.mu.Unlock()
	})
}

// DisableFinalizers closes the gate. Calls nest.
func (h *Heap) DisableFinalizers() {
	h.mu.Lock()
	h.disabled++
	h.mu.Unlock()
}

// EnableFinalizers reopens the gate closed by DisableFinalizers.
func (h *Heap) EnableFinalizers() {
	h.mu.Lock()
	if h.disabled > 0 {
		h.disabled--
	}
	h.mu.Unlock()
}

// InvokeFinalizers runs queued finalizers if the gate is open. Finalizers
// that queue further work are drained in the same call; a nested call
// from inside a finalizer returns immediately.
func (h *Heap) InvokeFinalizers() {
	h.mu.Lock()
	if h.disabled > 0 || h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	for len(h.queue) > 0 && h.disabled == 0 {
		batch := h.queue
		h.queue = nil
		h.mu.Unlock()
		for _, fn := range batch {
			fn()
			h.finalized.Add(1)
		}
		h.mu.Lock()
	}
	h.running = false
	h.mu.Unlock()
}

// Stats returns current accounting.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	pending := len(h.queue)
	h.mu.Unlock()
	return Stats{
		Used:      h.used.Load(),
		Max:       h.max,
		Allocs:    h.allocs.Load(),
		Atomic:    h.atomic.Load(),
		Freed:     h.freed.Load(),
		Finalized: h.finalized.Load(),
		Pending:   pending,
	}
}
