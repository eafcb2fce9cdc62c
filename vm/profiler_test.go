package vm

import (
	"sync"
	"testing"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

func TestProfilerRecord(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 5
	m := &metadata.Method{Name: "test"}

	if p.Record(m) {
		t.Error("method should not be hot after 1 invocation")
	}
	profile := p.Profile(m)
	if profile == nil {
		t.Fatal("profile should exist after invocation")
	}
	if n := profile.Invocations.Load(); n != 1 {
		t.Errorf("invocations = %d, want 1", n)
	}

	var becameHot bool
	for i := 0; i < 4; i++ {
		becameHot = p.Record(m)
	}
	if !becameHot || !profile.IsHot() {
		t.Error("method should become hot at the threshold")
	}
	if p.Record(m) {
		t.Error("hot should not re-trigger")
	}
	if p.Record(nil) {
		t.Error("Record(nil) should be a no-op")
	}
}

func TestProfilerOnHot(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3
	var hot []*metadata.Method
	p.OnHot = func(m *metadata.Method, _ *MethodProfile) { hot = append(hot, m) }

	a, b := &metadata.Method{Name: "a"}, &metadata.Method{Name: "b"}
	for i := 0; i < 10; i++ {
		p.Record(a)
	}
	p.Record(b)

	if len(hot) != 1 || hot[0] != a {
		t.Errorf("OnHot calls = %v, want [a]", hot)
	}
	if got := p.HotMethods(); len(got) != 1 || got[0] != a {
		t.Errorf("HotMethods() = %v, want [a]", got)
	}
}

func TestProfilerStatsAndTop(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 4
	ms := []*metadata.Method{{Name: "one"}, {Name: "two"}, {Name: "three"}}
	for i, m := range ms {
		for j := 0; j <= i*2; j++ {
			p.Record(m)
		}
	}

	stats := p.Stats()
	if stats.Methods != 3 || stats.Invocations != 1+3+5 || stats.HotMethods != 1 {
		t.Errorf("Stats() = %+v, want 3 methods, 9 invocations, 1 hot", stats)
	}

	top := p.TopMethods(2)
	if len(top) != 2 || top[0].Method != ms[2] || top[0].Count != 5 || top[1].Method != ms[1] {
		t.Errorf("TopMethods(2) = %+v", top)
	}
	if all := p.TopMethods(10); len(all) != 3 {
		t.Errorf("TopMethods(10) has %d entries, want 3", len(all))
	}

	p.Reset()
	if s := p.Stats(); s.Methods != 0 || s.HotMethods != 0 {
		t.Errorf("Stats() after Reset = %+v", s)
	}
}

func TestProfilerConcurrent(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1000
	m := &metadata.Method{Name: "shared"}
	hot := 0
	var mu sync.Mutex
	p.OnHot = func(*metadata.Method, *MethodProfile) {
		mu.Lock()
		hot++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.Record(m)
			}
		}()
	}
	wg.Wait()

	if n := p.Profile(m).Invocations.Load(); n != 2000 {
		t.Errorf("invocations = %d, want 2000", n)
	}
	if hot != 1 {
		t.Errorf("OnHot fired %d times, want 1", hot)
	}
}

// ---------------------------------------------------------------------------
// Process integration
// ---------------------------------------------------------------------------

func TestProcessProfile(t *testing.T) {
	tp := newTestProgram(t, func(o *Options) { o.Profile = true })
	inc := tp.static("Inc", metadata.Int32, []*metadata.Type{metadata.Int32},
		cil.NewBuilder().Emit(cil.Ldarg0).Emit(cil.LdcI41).Emit(cil.Add).Emit(cil.Ret))

	// for (i = 0; i < 10; i = Inc(i)) ;
	b := cil.NewBuilder()
	loop, done := b.NewLabel(), b.NewLabel()
	b.Emit(cil.LdcI40).Emit(cil.Stloc0).
		Mark(loop).Emit(cil.Ldloc0).LoadInt(10).EmitBranch(cil.BgeS, done).
		Emit(cil.Ldloc0).EmitToken(cil.Call, tp.token(inc)).Emit(cil.Stloc0).
		EmitBranch(cil.BrS, loop).
		Mark(done).Emit(cil.Ldloc0).Emit(cil.Ret)
	main := tp.static("Main", metadata.Int32, nil, b, metadata.Int32)

	if v := tp.mustInvoke(t, main); v.Int32() != 10 {
		t.Fatalf("Main() = %d, want 10", v.Int32())
	}
	pr := tp.p.Profiler()
	if pr == nil {
		t.Fatal("Profiler() = nil with Options.Profile set")
	}
	top := pr.TopMethods(1)
	if len(top) != 1 || top[0].Method != inc || top[0].Count != 10 {
		t.Errorf("TopMethods(1) = %+v, want Inc x10", top)
	}
	if n := pr.Profile(main).Invocations.Load(); n != 1 {
		t.Errorf("Main invocations = %d, want 1", n)
	}

	if newTestProgram(t).p.Profiler() != nil {
		t.Error("Profiler() should be nil by default")
	}
}
