package vm

import (
	"runtime"
	"testing"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// newIntArray builds a method returning the length of new int[n].
func newIntArray(tp *testProgram) *metadata.Method {
	b := cil.NewBuilder().
		Emit(cil.Ldarg0).EmitToken(cil.Newarr, tp.module.TypeToken(metadata.Int32)).
		Emit(cil.Ldlen).Emit(cil.ConvI4).Emit(cil.Ret)
	return tp.static("NewArray", metadata.Int32, []*metadata.Type{metadata.Int32}, b)
}

func TestHeapArrayOutOfMemory(t *testing.T) {
	tp := newTestProgram(t)
	m := newIntArray(tp)

	if v := tp.mustInvoke(t, m, Int32Value(1000)); v.Int32() != 1000 {
		t.Errorf("NewArray(1000) = %d, want 1000", v.Int32())
	}

	tests := []int32{10_000_000, 2_000_000_000}
	for _, n := range tests {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		me := tp.expectThrow(t, m, "System.OutOfMemoryException", Int32Value(n))
		runtime.ReadMemStats(&after)

		if me.Object != tp.p.oom {
			t.Errorf("NewArray(%d) threw a fresh exception, want the preallocated one", n)
		}
		if grew := after.TotalAlloc - before.TotalAlloc; grew > 32<<20 {
			t.Errorf("NewArray(%d) allocated %d bytes before failing", n, grew)
		}
	}
}

func TestHeapArrayUnlimited(t *testing.T) {
	tp := newTestProgram(t, func(o *Options) { o.MaxHeap = 0 })
	m := newIntArray(tp)

	// 2e9 int32 elements exceed the largest single object.
	me := tp.expectThrow(t, m, "System.OutOfMemoryException", Int32Value(2_000_000_000))
	if me.Object != tp.p.oom {
		t.Error("oversized array should throw the preallocated OutOfMemoryException")
	}
}

func TestHeapAllocAtomicLimit(t *testing.T) {
	tp := newTestProgram(t, func(o *Options) { o.MaxHeap = 64 << 10 })
	th := tp.p.NewThread()
	defer th.Close()

	raw := tp.module.DefineClass("Test", "Raw", tp.corlib().Object, 0)
	if obj := th.AllocAtomic(raw, 64); obj == nil {
		t.Fatalf("AllocAtomic(64) failed: %v", th.Exception())
	}
	if obj := th.AllocAtomic(raw, 1<<20); obj != nil || th.Exception() != tp.p.oom {
		t.Errorf("AllocAtomic(1MiB) = %v, exception %v, want nil and OutOfMemory", obj, th.Exception())
	}
}
