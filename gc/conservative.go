package gc

import (
	"time"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/bdwgc"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// conservative hands allocation to the bdwgc library, which decides on its
// own when to collect. Root slots are exposed to it as plain words, and it
// scans objects without looking at their descriptors.
type conservative struct {
	h   *Heap
	lib *bdwgc.Collector
}

func newConservative(h *Heap) (*conservative, error) {
	cfg := bdwgc.DefaultConfig()
	if h.opts.BDW != nil {
		cfg = *h.opts.BDW
	}
	cfg.InitialHeapSize = h.opts.InitHeapSize
	cfg.MaxHeapSize = h.opts.MaxHeapSize
	lib, err := bdwgc.New(&h.arenas, cfg)
	if err != nil {
		return nil, err
	}
	c := &conservative{h: h, lib: lib}
	lib.AddRoots(func(yield func(uint64)) {
		h.roots.ForEachRoot(func(slot *object.Ref) { yield(uint64(*slot)) })
	})
	return c, nil
}

func (c *conservative) alloc(size uint64, d *layout.Descriptor) object.Ref {
	var digest uint16
	if c.h.opts.Verify {
		digest = c.h.digest()
	}
	start := time.Now()
	gcNo := c.lib.GCNo()

	var ref object.Ref
	if d.PointerFree() {
		ref = c.lib.MallocAtomic(size)
	} else {
		ref = c.lib.Malloc(size)
	}

	// Account for the collections the library ran on its own.
	for n := c.lib.GCNo(); gcNo < n; gcNo++ {
		c.h.endCycle(cycle{start: start, digest: digest})
		start = time.Now()
	}
	if ref == object.Nil {
		return ref
	}
	initObject(c.lib.Region(), ref, size, d)
	if d.Finalizer != nil {
		c.lib.RegisterFinalizer(ref, func(obj object.Ref) {
			c.h.reclaim(c.lib.Region(), obj)
		})
	}
	return ref
}

// collect is a no-op: collection timing belongs to the library.
func (c *conservative) collect() {}

func (c *conservative) stress() {
	c.h.runCycle(false, c.lib.Gcollect)
}

func (c *conservative) regionOf(ref object.Ref) *arena.Region {
	if c.lib.IsObject(ref) {
		return c.lib.Region()
	}
	return nil
}

func (c *conservative) usage() (sys, inUse uint64) {
	u := c.lib.HeapUsage()
	return u.HeapSize, u.HeapSize - u.FreeBytes
}

func (c *conservative) release() {
	c.lib.Region().Release()
}
