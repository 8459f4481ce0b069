package roots

import (
	"fmt"

	"github.com/yoglang/yoggc/object"
)

// Frame is an activation record of a green thread. Its slots are roots; the
// collector reads and rewrites them in place. Frames of one thread form a
// chain through Parent, the innermost frame first.
type Frame struct {
	Parent *Frame
	Name   string
	Slots  []object.Ref
}

// Thread is a green thread: a named stack of frames and a link used by Queue
// and Stack.
type Thread struct {
	ID   int
	Name string

	// Next is the next thread in a Queue or Stack.
	Next *Thread

	top   *Frame
	depth int
}

// PushFrame pushes a frame with n nil slots and returns it.
func (t *Thread) PushFrame(name string, n int) *Frame {
	f := &Frame{Parent: t.top, Name: name, Slots: make([]object.Ref, n)}
	t.top = f
	t.depth++
	return f
}

// PopFrame removes the innermost frame, which must be f.
func (t *Thread) PopFrame(f *Frame) {
	if t.top != f {
		panic(fmt.Sprintf("roots: popping frame %q of thread %q out of order", f.Name, t.Name))
	}
	t.top = f.Parent
	f.Parent = nil
	t.depth--
}

// Top returns the innermost frame, or nil.
func (t *Thread) Top() *Frame { return t.top }

// Depth returns the number of frames on the stack.
func (t *Thread) Depth() int { return t.depth }

// ForEachRoot visits every slot of every frame, innermost frame first.
func (t *Thread) ForEachRoot(fn func(slot *object.Ref)) {
	for f := t.top; f != nil; f = f.Parent {
		for i := range f.Slots {
			fn(&f.Slots[i])
		}
	}
}
