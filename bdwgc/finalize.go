package bdwgc

import (
	"cmp"
	"slices"

	"github.com/yoglang/yoggc/object"
)

// Finalizer is called with an object that became unreachable. The object and
// everything reachable from it stay valid until the finalizer returns; the
// memory is reclaimed by a later collection.
type Finalizer func(obj object.Ref)

type pendingFinalizer struct {
	obj object.Ref
	fn  Finalizer
}

// RegisterFinalizer sets the finalizer of obj, which must be the start of an
// object returned by Malloc (GC_register_finalizer). A nil fn removes the
// finalizer.
func (c *Collector) RegisterFinalizer(obj object.Ref, fn Finalizer) {
	if c.cfg.NoFinalization {
		return
	}
	if !c.heap.IsObject(obj) {
		panic("bdwgc: finalizer registered for a non-object")
	}
	if fn == nil {
		delete(c.finalizers, obj)
		return
	}
	c.finalizers[obj] = fn
}

// queueFinalizers runs after marking. Every registered object that was not
// marked gets its finalizer queued; the object and everything it references
// is marked so that the finalizer still sees valid memory.
func (c *Collector) queueFinalizers() {
	for obj, fn := range c.finalizers {
		if c.heap.IsMarked(obj) {
			continue
		}
		c.toFinalize = append(c.toFinalize, pendingFinalizer{obj: obj, fn: fn})
		delete(c.finalizers, obj)
	}
	slices.SortFunc(c.toFinalize, func(a, b pendingFinalizer) int {
		return cmp.Compare(a.obj, b.obj)
	})
	for _, p := range c.toFinalize {
		if c.heap.Mark(p.obj) {
			c.markStack = append(c.markStack, p.obj)
		}
	}
	c.drain()
}

// invokeFinalizers runs the queued finalizers (GC_invoke_finalizers) and
// returns how many ran.
func (c *Collector) invokeFinalizers() int {
	n := 0
	for len(c.toFinalize) > 0 {
		p := c.toFinalize[0]
		c.toFinalize = c.toFinalize[1:]
		p.fn(p.obj)
		n++
	}
	return n
}
