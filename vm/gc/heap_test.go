package gc

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestHeapLimit(t *testing.T) {
	h := New(100)
	if err := h.Alloc(60); err != nil {
		t.Fatalf("Alloc(60) = %v", err)
	}
	if err := h.AllocAtomic(60); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("AllocAtomic(60) = %v, want ErrOutOfMemory", err)
	}
	h.Free(60)
	if err := h.AllocAtomic(60); err != nil {
		t.Errorf("AllocAtomic after Free = %v", err)
	}
	s := h.Stats()
	if s.Used != 60 {
		t.Errorf("Used = %d, want 60", s.Used)
	}
	if s.Allocs != 2 || s.Atomic != 1 {
		t.Errorf("Allocs, Atomic = %d, %d, want 2, 1", s.Allocs, s.Atomic)
	}
}

func TestHeapUnlimited(t *testing.T) {
	h := New(0)
	for i := 0; i < 100; i++ {
		if err := h.Alloc(1 << 20); err != nil {
			t.Fatalf("Alloc = %v", err)
		}
	}
}

func TestFinalizerGate(t *testing.T) {
	h := New(0)
	ran := 0
	h.queue = append(h.queue, func() { ran++ }, func() { ran++ })

	h.DisableFinalizers()
	h.InvokeFinalizers()
	if ran != 0 {
		t.Errorf("ran = %d with gate closed, want 0", ran)
	}

	h.DisableFinalizers()
	h.EnableFinalizers()
	h.InvokeFinalizers()
	if ran != 0 {
		t.Errorf("ran = %d with nested gate closed, want 0", ran)
	}

	h.EnableFinalizers()
	h.InvokeFinalizers()
	if ran != 2 {
		t.Errorf("ran = %d, want 2", ran)
	}
	if s := h.Stats(); s.Finalized != 2 || s.Pending != 0 {
		t.Errorf("Finalized, Pending = %d, %d, want 2, 0", s.Finalized, s.Pending)
	}
}

func TestFinalizerReentry(t *testing.T) {
	h := New(0)
	order := []int{}
	h.queue = append(h.queue, func() {
		order = append(order, 1)
		h.mu.Lock()
		h.queue = append(h.queue, func() { order = append(order, 2) })
		h.mu.Unlock()
		h.InvokeFinalizers() // nested call returns at once
	})
	h.InvokeFinalizers()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestRegisterFinalizer(t *testing.T) {
	h := New(0)
	type box struct{ n [64]byte }
	done := make(chan struct{}, 1)
	func() {
		b := &box{}
		h.RegisterFinalizer(b, func(any) { done <- struct{}{} })
	}()
	for i := 0; i < 20 && h.Stats().Pending == 0; i++ {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}
	h.InvokeFinalizers()
	select {
	case <-done:
	default:
		t.Skip("runtime did not collect the object in time")
	}
}
