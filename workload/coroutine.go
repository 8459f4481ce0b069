package workload

import (
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// Suspend moves the frame slots into a heap Frame {parent, locals} whose
// parent is *parent, clears the slots and returns the frame. The result
// must be stored in a root before the next allocation.
func (e *Env) Suspend(parent *object.Ref, slots []object.Ref) object.Ref {
	var frame object.Ref
	e.Scope(func() {
		locals := e.Keep(e.Heap.Allocate(uint64(len(slots))*object.WordSize, layout.ValueArray))
		for i := range slots {
			e.Heap.Store(*locals, i, slots[i])
		}
		frame = e.Heap.Allocate(2*object.WordSize, layout.Frame)
		e.Heap.Store(frame, 0, *parent)
		e.Heap.Store(frame, 1, *locals)
	})
	for i := range slots {
		slots[i] = object.Nil
	}
	return frame
}

// Resume copies the locals of a suspended frame back into slots and returns
// its parent.
func (e *Env) Resume(frame object.Ref, slots []object.Ref) object.Ref {
	locals := e.Heap.Load(frame, 1)
	for i := range slots {
		slots[i] = e.Heap.Load(locals, i)
	}
	return e.Heap.Load(frame, 0)
}
