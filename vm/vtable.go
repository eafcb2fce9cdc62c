package vm

import (
	"sync"

	"github.com/chazu/ilvm/metadata"
)

// VTable holds the virtual dispatch table for a class.
//
// Slots are inherited from the parent table; a virtual method overrides
// the parent slot with the same name and signature unless it is marked
// NewSlot. Interface methods are resolved by walking the class chain and
// cached per table.
type VTable struct {
	parent  *VTable
	class   *metadata.Class
	methods []*metadata.Method
	slots   map[*metadata.Method]int
	ifaces  sync.Map // *metadata.Method -> *metadata.Method
}

func newVTable(c *metadata.Class, parent *VTable) *VTable {
	vt := &VTable{parent: parent, class: c, slots: make(map[*metadata.Method]int)}
	if parent != nil {
		vt.methods = append(vt.methods, parent.methods...)
		for m, slot := range parent.slots {
			vt.slots[m] = slot
		}
	}
	for _, m := range c.Methods {
		if m.IsStatic() || !m.Has(metadata.MethodVirtual) {
			continue
		}
		slot := -1
		if !m.Has(metadata.MethodNewSlot) {
			slot = vt.findSlot(m)
		}
		if slot < 0 {
			slot = len(vt.methods)
			vt.methods = append(vt.methods, m)
		} else {
			vt.methods[slot] = m
		}
		vt.slots[m] = slot
	}
	return vt
}

// findSlot returns the inherited slot m overrides, or -1.
func (vt *VTable) findSlot(m *metadata.Method) int {
	for slot := len(vt.methods) - 1; slot >= 0; slot-- {
		cand := vt.methods[slot]
		if cand.Name == m.Name && cand.Signature.Equal(m.Signature) {
			return slot
		}
	}
	return -1
}

// Len returns the number of slots.
func (vt *VTable) Len() int { return len(vt.methods) }

// Lookup resolves a virtual or interface call of m on an instance whose
// class owns this table.
func (vt *VTable) Lookup(m *metadata.Method) *metadata.Method {
	if slot, ok := vt.slots[m]; ok {
		return vt.methods[slot]
	}
	if cached, ok := vt.ifaces.Load(m); ok {
		return cached.(*metadata.Method)
	}
	impl := m
	for k := vt.class; k != nil; k = k.Parent {
		if found := k.LookupMethod(m.Name, m.Signature); found != nil && !found.IsStatic() && !found.Has(metadata.MethodAbstract) {
			impl = found
			break
		}
	}
	vt.ifaces.Store(m, impl)
	return impl
}
