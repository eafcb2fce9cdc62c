package vm

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/ilvm/metadata"
)

// Profiler counts method invocations so hot code can be reported. It is
// enabled with Options.Profile; a disabled process has no profiler and
// pays nothing on calls.

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	Invocations atomic.Uint64
	hot         atomic.Bool
}

// IsHot reports whether the method crossed the hot threshold.
func (mp *MethodProfile) IsHot() bool { return mp.hot.Load() }

// Profiler manages profiling for all methods invoked in a process.
type Profiler struct {
	profiles sync.Map // *metadata.Method -> *MethodProfile

	// HotThreshold is the invocation count at which a method becomes hot.
	HotThreshold uint64

	// OnHot is called once per method, on the invoking thread.
	OnHot func(m *metadata.Method, profile *MethodProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// Record increments the invocation count for m. It returns true if this
// invocation made m hot.
func (p *Profiler) Record(m *metadata.Method) bool {
	if m == nil {
		return false
	}
	v, ok := p.profiles.Load(m)
	if !ok {
		v, _ = p.profiles.LoadOrStore(m, &MethodProfile{})
	}
	profile := v.(*MethodProfile)
	if profile.Invocations.Add(1) < p.HotThreshold || !profile.hot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(m, profile)
	}
	return true
}

// Profile returns the profile for m, or nil if it was never invoked.
func (p *Profiler) Profile(m *metadata.Method) *MethodProfile {
	if v, ok := p.profiles.Load(m); ok {
		return v.(*MethodProfile)
	}
	return nil
}

// ProfilerStats is an aggregate over every profiled method.
type ProfilerStats struct {
	Methods     int
	HotMethods  int
	Invocations uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(_, value any) bool {
		profile := value.(*MethodProfile)
		stats.Methods++
		stats.Invocations += profile.Invocations.Load()
		return true
	})
	stats.HotMethods = int(p.hotCount.Load())
	return stats
}

// MethodCount pairs a method with its invocation count.
type MethodCount struct {
	Method *metadata.Method
	Count  uint64
}

// TopMethods returns the n most frequently invoked methods, busiest first.
// Ties are broken by full name so the order is stable.
func (p *Profiler) TopMethods(n int) []MethodCount {
	var all []MethodCount
	p.profiles.Range(func(key, value any) bool {
		all = append(all, MethodCount{key.(*metadata.Method), value.(*MethodProfile).Invocations.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Method.FullName() < all[j].Method.FullName()
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// HotMethods returns every method past the threshold.
func (p *Profiler) HotMethods() []*metadata.Method {
	var hot []*metadata.Method
	p.profiles.Range(func(key, value any) bool {
		if value.(*MethodProfile).IsHot() {
			hot = append(hot, key.(*metadata.Method))
		}
		return true
	})
	return hot
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, _ any) bool {
		p.profiles.Delete(key)
		return true
	})
	p.hotCount.Store(0)
}
