package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// spin builds a method that loops forever.
func spin(tp *testProgram) *metadata.Method {
	b := cil.NewBuilder()
	loop := b.NewLabel()
	b.Mark(loop).Emit(cil.Nop).EmitBranch(cil.BrS, loop)
	return tp.static("Spin", metadata.Void, nil, b)
}

func TestThreadAbortCancelledContext(t *testing.T) {
	tp := newTestProgram(t)
	m := spin(tp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tp.p.Invoke(ctx, m)
	if got := managedClass(err); got != "System.Threading.ThreadAbortException" {
		t.Fatalf("Invoke error = %v, want ThreadAbortException", err)
	}
}

func TestThreadAbortTimeout(t *testing.T) {
	tp := newTestProgram(t)
	m := spin(tp)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tp.p.Invoke(ctx, m)
	if got := managedClass(err); got != "System.Threading.ThreadAbortException" {
		t.Fatalf("Invoke error = %v, want ThreadAbortException", err)
	}
}

func TestThreadAbortWaitsForFinally(t *testing.T) {
	tp := newTestProgram(t)

	// try { } finally { for (i = 0; i < 1000; i++) {} WriteLine("cleanup") }
	b := cil.NewBuilder()
	end, loop := b.NewLabel(), b.NewLabel()
	try := region{start: b.Len()}
	b.EmitBranch(cil.LeaveS, end)
	try.end = b.Len()
	handler := region{start: b.Len()}
	b.Mark(loop).
		Emit(cil.Ldloc0).Emit(cil.LdcI41).Emit(cil.Add).Emit(cil.Stloc0).
		Emit(cil.Ldloc0).EmitInt32(cil.LdcI4, 1000).EmitBranch(cil.BltS, loop)
	b.EmitToken(cil.Ldstr, tp.module.StringToken("cleanup")).
		EmitToken(cil.Call, tp.writeLine(metadata.String)).
		Emit(cil.Endfinally)
	handler.end = b.Len()
	b.Mark(end).Emit(cil.Ret)

	m := tp.static("Guarded", metadata.Void, nil, b, metadata.Int32)
	m.Body.Handlers = []metadata.ExceptionClause{finallyClause(try, handler)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tp.p.Invoke(ctx, m)
	if got := managedClass(err); got != "System.Threading.ThreadAbortException" {
		t.Fatalf("Invoke error = %v, want ThreadAbortException", err)
	}
	if got := tp.out.String(); got != "cleanup\n" {
		t.Errorf("output = %q, want the finally handler to complete", got)
	}
}

func TestThreadAbortIsNotSticky(t *testing.T) {
	tp := newTestProgram(t)
	m := tp.static("Five", metadata.Int32, nil, cil.NewBuilder().LoadInt(5).Emit(cil.Ret))
	th := tp.p.NewThread()
	defer th.Close()

	th.Abort()
	if !th.Aborting() {
		t.Fatal("Aborting() = false after Abort")
	}
	// No safe point is reached, so the call completes.
	v, err := th.Invoke(context.Background(), m)
	if err != nil || v.Int32() != 5 {
		t.Fatalf("Invoke = %v, %v, want 5", v, err)
	}
	if th.Aborting() {
		t.Error("abort request survived Invoke")
	}
}

func TestThreadClosed(t *testing.T) {
	tp := newTestProgram(t)
	m := tp.static("Five", metadata.Int32, nil, cil.NewBuilder().LoadInt(5).Emit(cil.Ret))

	before := tp.p.Threads()
	th := tp.p.NewThread()
	if tp.p.Threads() != before+1 {
		t.Errorf("Threads() = %d, want %d", tp.p.Threads(), before+1)
	}
	th.Close()
	if tp.p.Threads() != before {
		t.Errorf("Threads() after Close = %d, want %d", tp.p.Threads(), before)
	}
	if _, err := th.Invoke(context.Background(), m); !errors.Is(err, ErrThreadClosed) {
		t.Errorf("Invoke on closed thread = %v, want %v", err, ErrThreadClosed)
	}
}

func TestThreadCallDepth(t *testing.T) {
	tp := newTestProgram(t)
	th := tp.p.NewThread()
	defer th.Close()

	var seen int
	probe := tp.class.AddMethod("Probe", metadata.MethodStatic|metadata.MethodInternalCall,
		metadata.NewSignature(metadata.Void), nil)
	tp.p.Internals().RegisterMethod(probe, func(t *Thread, _ []Value) (Value, bool) {
		seen = t.Depth()
		return Value{}, true
	})
	inner := tp.static("Inner", metadata.Void, nil,
		cil.NewBuilder().EmitToken(cil.Call, tp.token(probe)).Emit(cil.Ret))
	outer := tp.static("Outer", metadata.Void, nil,
		cil.NewBuilder().EmitToken(cil.Call, tp.token(inner)).Emit(cil.Ret))

	if _, err := th.Invoke(context.Background(), outer); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if seen != 2 {
		t.Errorf("Depth inside Inner = %d, want 2", seen)
	}
	if th.Depth() != 0 {
		t.Errorf("Depth after return = %d, want 0", th.Depth())
	}
}
