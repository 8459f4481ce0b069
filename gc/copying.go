package gc

import (
	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// copying is a semispace collector. Objects are bump allocated in the
// active space; a collection copies the reachable ones to the other space
// with a Cheney scan, leaving forwarding addresses in the old headers.
type copying struct {
	h     *Heap
	space *arena.Region // active space, objects live in [Base, top)
	spare *arena.Region // the other semispace, poisoned
	top   object.Ref
	semi  uint64
}

func newCopying(h *Heap) (*copying, error) {
	semi := roundRegion(h.opts.InitHeapSize / 2)
	space, err := h.arenas.New(semi)
	if err != nil {
		return nil, err
	}
	return &copying{h: h, space: space, top: space.Base(), semi: semi}, nil
}

func (c *copying) fits(size uint64) bool {
	return uint64(c.space.End()-c.top) >= size
}

func (c *copying) alloc(size uint64, d *layout.Descriptor) object.Ref {
	if !c.fits(size) {
		c.collectFor(size)
		if !c.fits(size) {
			return object.Nil
		}
	}
	ref := c.top
	c.top += object.Ref(size)
	c.space.Zero(ref, size)
	initObject(c.space, ref, size, d)
	return ref
}

func (c *copying) collect() { c.collectFor(0) }

func (c *copying) stress() { c.collectFor(0) }

// collectFor collects, then grows the semispaces when less than a third of
// the space, or not enough for a request of need bytes, is free.
func (c *copying) collectFor(need uint64) {
	c.h.runCycle(false, func() { c.evacuate(c.semi) })
	live := uint64(c.top - c.space.Base())
	if free := c.semi - live; free >= need && free >= c.semi/3 {
		return
	}
	size := c.semi
	for size-live < need || size-live < size/3 {
		next, ok := nextSize(size, roundTo, c.h.opts.MaxHeapSize/2)
		if !ok {
			break
		}
		size = next
	}
	if size == c.semi {
		return
	}
	c.h.log.Info("Growing semispaces", "from", FormatSize(c.semi), "to", FormatSize(size))
	c.h.runCycle(false, func() { c.evacuate(size) })
	c.semi = c.space.Size()
}

// evacuate copies every reachable object into a fresh space of size bytes
// and makes it the active space. When no such space can be mapped nothing
// happens.
func (c *copying) evacuate(size uint64) {
	to := c.spare
	if to == nil || to.Size() != size {
		var err error
		if to, err = c.h.arenas.New(size); err != nil {
			c.h.log.Error("Cannot map semispace", "size", size, "err", err)
			return
		}
		if c.spare != nil {
			c.spare.Release()
			c.spare = nil
		}
	}
	from, end := c.space, c.top
	free := to.Base()

	forward := func(slot *object.Ref) {
		ref := *slot
		if ref == object.Nil || !from.Contains(ref) {
			return
		}
		hdr := from.Header(ref)
		if hdr.Flags&object.FlagForwarded != 0 {
			*slot = hdr.Forward
			return
		}
		to.CopyFrom(free, from, ref, hdr.Size)
		hdr.Flags |= object.FlagForwarded
		hdr.Forward = free
		from.SetHeader(ref, hdr)
		*slot = free
		free += object.Ref(hdr.Size)
	}

	c.h.roots.ForEachRoot(forward)
	c.h.setState(Relocating)
	for scan := to.Base(); scan < free; scan += object.Ref(to.Word(scan + object.WordSize)) {
		c.h.forEachSlot(to, scan, func(addr object.Ref) {
			v := object.Ref(to.Word(addr))
			forward(&v)
			to.SetWord(addr, uint64(v))
		})
	}

	for ref := from.Base(); ref < end; ref += object.Ref(from.Word(ref + object.WordSize)) {
		if from.Header(ref).Flags&object.FlagForwarded == 0 {
			c.h.reclaim(from, ref)
		}
	}
	from.Poison(from.Base(), from.Size())

	c.space, c.top = to, free
	if from.Size() == size {
		c.spare = from
	} else {
		from.Release()
	}
}

func (c *copying) regionOf(ref object.Ref) *arena.Region {
	if ref >= c.space.Base() && ref < c.top {
		return c.space
	}
	return nil
}

func (c *copying) usage() (sys, inUse uint64) {
	sys = 2 * c.semi
	return sys, uint64(c.top - c.space.Base())
}

func (c *copying) release() {
	c.space.Release()
	if c.spare != nil {
		c.spare.Release()
	}
}
