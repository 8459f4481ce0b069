package gc

import (
	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// compact is a mark-sweep-compact collector. Objects are bump allocated in
// one region; a collection marks the reachable objects and slides them to the
// front of the region in address order (Lisp 2 compaction):
//
//  1. mark from the roots
//  2. compute the new address of every marked object into its header
//  3. update the roots and every reference slot of the marked objects
//  4. move the objects
type compact struct {
	h      *Heap
	region *arena.Region
	top    object.Ref
	stack  []object.Ref
}

func newCompact(h *Heap) (*compact, error) {
	region, err := h.arenas.New(roundRegion(h.opts.InitHeapSize))
	if err != nil {
		return nil, err
	}
	return &compact{h: h, region: region, top: region.Base()}, nil
}

func (c *compact) fits(size uint64) bool {
	return uint64(c.region.End()-c.top) >= size
}

func (c *compact) alloc(size uint64, d *layout.Descriptor) object.Ref {
	if !c.fits(size) {
		c.collect()
		if !c.fits(size) && !c.grow(size) {
			return object.Nil
		}
	}
	ref := c.top
	c.top += object.Ref(size)
	c.region.Zero(ref, size)
	initObject(c.region, ref, size, d)
	return ref
}

func (c *compact) stress() { c.collect() }

func (c *compact) collect() {
	c.h.runCycle(false, func() {
		c.mark()
		c.h.setState(Relocating)
		c.computeForwarding()
		c.updateReferences()
		c.move()
	})
	if free := uint64(c.region.End() - c.top); free < c.region.Size()/3 {
		c.grow(c.region.Size()/3 - free)
	}
}

// grow enlarges the region in place so that need more bytes fit.
func (c *compact) grow(need uint64) bool {
	free := uint64(c.region.End() - c.top)
	size, ok := nextSize(c.region.Size(), need-min(need, free), c.h.opts.MaxHeapSize)
	if !ok {
		return false
	}
	from := c.region.Size()
	if err := c.region.Grow(size); err != nil {
		c.h.log.Error("Cannot grow heap", "size", size, "err", err)
		return false
	}
	c.h.log.Info("Grew heap", "from", FormatSize(from), "to", FormatSize(size))
	return true
}

func (c *compact) header(ref object.Ref) object.Header {
	return c.region.Header(ref)
}

func (c *compact) mark() {
	push := func(ref object.Ref) {
		if ref == object.Nil {
			return
		}
		hdr := c.header(ref)
		if hdr.Flags&object.FlagMarked != 0 {
			return
		}
		c.region.SetFlags(ref, hdr.Flags|object.FlagMarked)
		c.stack = append(c.stack, ref)
	}
	c.h.roots.ForEachRoot(func(slot *object.Ref) { push(*slot) })
	for len(c.stack) > 0 {
		ref := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		c.h.forEachSlot(c.region, ref, func(slot object.Ref) {
			push(object.Ref(c.region.Word(slot)))
		})
	}
}

// forEachObject walks the objects of the region in address order.
func (c *compact) forEachObject(fn func(ref object.Ref, hdr object.Header)) {
	for ref := c.region.Base(); ref < c.top; {
		hdr := c.header(ref)
		fn(ref, hdr)
		ref += object.Ref(hdr.Size)
	}
}

// computeForwarding assigns every marked object its address after
// compaction. Dead objects are reclaimed here, while their contents are
// still intact.
func (c *compact) computeForwarding() {
	free := c.region.Base()
	c.forEachObject(func(ref object.Ref, hdr object.Header) {
		if hdr.Flags&object.FlagMarked == 0 {
			c.h.reclaim(c.region, ref)
			return
		}
		hdr.Forward = free
		c.region.SetHeader(ref, hdr)
		free += object.Ref(hdr.Size)
	})
}

func (c *compact) forwarded(ref object.Ref) object.Ref {
	if ref == object.Nil {
		return ref
	}
	return c.header(ref).Forward
}

func (c *compact) updateReferences() {
	c.h.roots.ForEachRoot(func(slot *object.Ref) { *slot = c.forwarded(*slot) })
	c.forEachObject(func(ref object.Ref, hdr object.Header) {
		if hdr.Flags&object.FlagMarked == 0 {
			return
		}
		c.h.forEachSlot(c.region, ref, func(slot object.Ref) {
			c.region.SetWord(slot, uint64(c.forwarded(object.Ref(c.region.Word(slot)))))
		})
	})
}

// move slides the marked objects down. Destinations never pass their
// sources, so moving in address order never overwrites an object that has
// not moved yet.
func (c *compact) move() {
	free := c.region.Base()
	for ref := c.region.Base(); ref < c.top; {
		hdr := c.header(ref)
		next := ref + object.Ref(hdr.Size)
		if hdr.Flags&object.FlagMarked != 0 {
			dst := hdr.Forward
			c.region.Move(dst, ref, hdr.Size)
			hdr.Flags &^= object.FlagMarked
			hdr.Forward = object.Nil
			c.region.SetHeader(dst, hdr)
			free = dst + object.Ref(hdr.Size)
		}
		ref = next
	}
	c.region.Poison(free, uint64(c.top-free))
	c.top = free
}

func (c *compact) regionOf(ref object.Ref) *arena.Region {
	if ref >= c.region.Base() && ref < c.top {
		return c.region
	}
	return nil
}

func (c *compact) usage() (sys, inUse uint64) {
	return c.region.Size(), uint64(c.top - c.region.Base())
}

func (c *compact) release() {
	c.region.Release()
}
