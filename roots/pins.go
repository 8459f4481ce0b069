package roots

import (
	"fmt"

	"github.com/yoglang/yoggc/object"
)

// Handle names a pinned object. Native code holds handles, never raw
// addresses: a moving collector may relocate the object and updates the
// slot the handle refers to.
type Handle struct {
	index int
	gen   uint32
}

// Valid reports whether h was returned by Pin. The zero Handle is invalid.
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("handle(%d.%d)", h.index, h.gen)
}

type pinSlot struct {
	ref  object.Ref
	gen  uint32
	used bool
}

// PinTable maps handles to root slots.
type PinTable struct {
	slots []pinSlot
	free  []int
	count int
}

// Pin records ref in a new slot and returns its handle.
func (p *PinTable) Pin(ref object.Ref) Handle {
	var i int
	if n := len(p.free); n > 0 {
		i = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		i = len(p.slots)
		p.slots = append(p.slots, pinSlot{})
	}
	s := &p.slots[i]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.ref, s.used = ref, true
	p.count++
	return Handle{index: i, gen: s.gen}
}

func (p *PinTable) slot(h Handle) *pinSlot {
	if h.index < 0 || h.index >= len(p.slots) {
		return nil
	}
	s := &p.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return s
}

// Unpin releases the slot of h. Unpinning a handle that is not pinned is a
// contract violation and panics.
func (p *PinTable) Unpin(h Handle) {
	s := p.slot(h)
	if s == nil {
		panic(fmt.Sprintf("roots: unpin of %v which is not pinned", h))
	}
	s.ref, s.used = object.Nil, false
	p.free = append(p.free, h.index)
	p.count--
}

// Get returns the current address of the object pinned by h.
func (p *PinTable) Get(h Handle) object.Ref {
	s := p.slot(h)
	if s == nil {
		panic(fmt.Sprintf("roots: use of %v which is not pinned", h))
	}
	return s.ref
}

// Count returns the number of live pins.
func (p *PinTable) Count() int { return p.count }

// ForEachRoot visits every pinned slot.
func (p *PinTable) ForEachRoot(fn func(slot *object.Ref)) {
	for i := range p.slots {
		if p.slots[i].used {
			fn(&p.slots[i].ref)
		}
	}
}
