package vm

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// counterClass defines Test.Counter with a static value field and a
// static constructor that prints "init" and sets value to 41. attrs are
// the class attributes.
func counterClass(tp *testProgram, attrs metadata.ClassAttrs) (*metadata.Class, *metadata.Field) {
	counter := tp.module.DefineClass("Test", "Counter", tp.corlib().Object, attrs)
	value := counter.AddField("value", metadata.Int32, metadata.FieldStatic)
	b := cil.NewBuilder().
		EmitToken(cil.Ldstr, tp.module.StringToken("init")).
		EmitToken(cil.Call, tp.writeLine(metadata.String)).
		LoadInt(41).EmitToken(cil.Stsfld, tp.module.FieldToken(value)).
		Emit(cil.Ret)
	counter.AddStaticConstructor(metadata.NewBody(2, b.Bytes()))
	return counter, value
}

// readValue returns a Test.Program method that returns Counter.value + 1.
func readValue(tp *testProgram, name string, value *metadata.Field) *metadata.Method {
	b := cil.NewBuilder().
		EmitToken(cil.Ldsfld, tp.module.FieldToken(value)).
		Emit(cil.LdcI41).Emit(cil.Add).Emit(cil.Ret)
	return tp.static(name, metadata.Int32, nil, b)
}

func TestCCtorRunsOnce(t *testing.T) {
	tp := newTestProgram(t)
	_, value := counterClass(tp, 0)
	a := readValue(tp, "A", value)
	b := readValue(tp, "B", value)

	for _, m := range []*metadata.Method{a, b, a} {
		if v := tp.mustInvoke(t, m); v.Int32() != 42 {
			t.Errorf("%s() = %d, want 42", m.Name, v.Int32())
		}
	}
	if got := tp.out.String(); got != "init\n" {
		t.Errorf("output = %q, want a single init", got)
	}
	if runs := tp.p.Stats().CCtorRuns; runs != 1 {
		t.Errorf("CCtorRuns = %d, want 1", runs)
	}
}

func TestCCtorRunsBeforeCaller(t *testing.T) {
	tp := newTestProgram(t)
	_, value := counterClass(tp, 0)

	// WriteLine("main"); return Counter.value
	b := cil.NewBuilder().
		EmitToken(cil.Ldstr, tp.module.StringToken("main")).
		EmitToken(cil.Call, tp.writeLine(metadata.String)).
		EmitToken(cil.Ldsfld, tp.module.FieldToken(value)).
		Emit(cil.Ret)
	m := tp.static("Main", metadata.Int32, nil, b)

	if v := tp.mustInvoke(t, m); v.Int32() != 41 {
		t.Errorf("Main() = %d, want 41", v.Int32())
	}
	if got, want := tp.out.String(), "init\nmain\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCCtorQueueCollapses(t *testing.T) {
	tp := newTestProgram(t)
	counter, _ := counterClass(tp, 0)
	get := counter.AddMethod("Get", metadata.MethodStatic, metadata.NewSignature(metadata.Int32),
		metadata.NewBody(1, cil.NewBuilder().Emit(cil.LdcI40).Emit(cil.Ret).Bytes()))
	th := tp.p.NewThread()
	defer th.Close()
	mgr := tp.p.cctors

	tp.p.lockMetadata()
	first := mgr.OnCallMethod(get)
	second := mgr.OnCallMethod(get)
	queued := mgr.Queued()
	entry := mgr.first
	again := mgr.findOrAddClass(first)
	if !mgr.RunCCtors(th) {
		t.Fatalf("RunCCtors failed: %v", th.Exception())
	}

	if first == nil || first != second {
		t.Errorf("OnCallMethod = %v then %v, want the same class twice", first, second)
	}
	if queued != 1 {
		t.Errorf("Queued() = %d, want 1", queued)
	}
	if again != entry {
		t.Error("findOrAddClass appended a second entry for a queued class")
	}
	if runs := mgr.Runs(); runs != 1 {
		t.Errorf("Runs() = %d, want 1", runs)
	}
	if got := tp.out.String(); got != "init\n" {
		t.Errorf("output = %q, want a single init", got)
	}

	tp.p.lockMetadata()
	done := mgr.OnCallMethod(get)
	tp.p.unlockMetadata()
	if done != nil {
		t.Error("OnCallMethod queued a class whose constructor already ran")
	}
}

func TestCCtorBeforeFieldInit(t *testing.T) {
	tp := newTestProgram(t)
	counter, value := counterClass(tp, metadata.ClassBeforeFieldInit)
	ping := counter.AddMethod("Ping", metadata.MethodStatic, metadata.NewSignature(metadata.Int32),
		metadata.NewBody(1, cil.NewBuilder().LoadInt(7).Emit(cil.Ret).Bytes()))

	call := tp.static("CallPing", metadata.Int32, nil,
		cil.NewBuilder().EmitToken(cil.Call, tp.token(ping)).Emit(cil.Ret))
	if v := tp.mustInvoke(t, call); v.Int32() != 7 {
		t.Errorf("CallPing() = %d, want 7", v.Int32())
	}
	if tp.out.Len() != 0 {
		t.Errorf("calling a method ran the constructor: %q", tp.out.String())
	}

	if v := tp.mustInvoke(t, readValue(tp, "Read", value)); v.Int32() != 42 {
		t.Errorf("Read() = %d, want 42", v.Int32())
	}
	if got := tp.out.String(); got != "init\n" {
		t.Errorf("output = %q, want field access to run the constructor", got)
	}
}

func TestCCtorConcurrentCallers(t *testing.T) {
	tp := newTestProgram(t)
	_, value := counterClass(tp, 0)
	m := readValue(tp, "Read", value)

	g, ctx := errgroup.WithContext(context.Background())
	results := make([]int32, 16)
	for i := range results {
		g.Go(func() error {
			v, err := tp.p.Invoke(ctx, m)
			if err != nil {
				return err
			}
			results[i] = v.Int32()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("caller %d saw %d, want 42", i, v)
		}
	}
	if runs := tp.p.Stats().CCtorRuns; runs != 1 {
		t.Errorf("CCtorRuns = %d, want 1", runs)
	}
}

func TestCCtorSelfReentrant(t *testing.T) {
	tp := newTestProgram(t)
	c := tp.corlib()

	// class Node { static int depth; static Node() { depth = Helper() + 1 } static int Helper() { return depth } }
	node := tp.module.DefineClass("Test", "Node", c.Object, 0)
	depth := node.AddField("depth", metadata.Int32, metadata.FieldStatic)
	helper := node.AddMethod("Helper", metadata.MethodStatic, metadata.NewSignature(metadata.Int32),
		metadata.NewBody(1, cil.NewBuilder().EmitToken(cil.Ldsfld, tp.module.FieldToken(depth)).Emit(cil.Ret).Bytes()))
	cb := cil.NewBuilder().
		EmitToken(cil.Call, tp.token(helper)).Emit(cil.LdcI41).Emit(cil.Add).
		EmitToken(cil.Stsfld, tp.module.FieldToken(depth)).Emit(cil.Ret)
	node.AddStaticConstructor(metadata.NewBody(2, cb.Bytes()))

	m := tp.static("Depth", metadata.Int32, nil,
		cil.NewBuilder().EmitToken(cil.Call, tp.token(helper)).Emit(cil.Ret))
	if v := tp.mustInvoke(t, m); v.Int32() != 1 {
		t.Errorf("Depth() = %d, want 1", v.Int32())
	}
}

func TestCCtorFailure(t *testing.T) {
	tp := newTestProgram(t)
	c := tp.corlib()

	broken := tp.module.DefineClass("Test", "Broken", c.Object, 0)
	field := broken.AddField("x", metadata.Int32, metadata.FieldStatic)
	cb := cil.NewBuilder().
		EmitToken(cil.Ldstr, tp.module.StringToken("bad config")).
		EmitToken(cil.Newobj, tp.ctor(c.Exception, 1)).
		Emit(cil.Throw)
	broken.AddStaticConstructor(metadata.NewBody(2, cb.Bytes()))
	m := readValue(tp, "Read", field)

	me := tp.expectThrow(t, m, "System.TypeInitializationException")
	if me.Inner == nil || me.Inner.Class != "System.Exception" || me.Inner.Message != "bad config" {
		t.Fatalf("Inner = %v, want System.Exception: bad config", me.Inner)
	}
	if !errors.Is(me, &ManagedError{Class: "System.Exception"}) {
		t.Errorf("errors.Is does not reach the inner exception of %v", me)
	}
}
