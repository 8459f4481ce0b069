package workload

import (
	"fmt"

	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// Code is the body of a closure. It receives the closure and its argument
// in slots and returns the result.
type Code func(e *Env, closure, arg *object.Ref) object.Ref

// NewClosure allocates a Closure running code, with the captured cells in
// the ValueArray *cells. The closure refers to itself through its self
// slot.
func (e *Env) NewClosure(code int, cells *object.Ref) object.Ref {
	c := e.Heap.Allocate(3*object.WordSize, layout.Closure)
	e.Heap.StoreWord(c, 0, uint64(code))
	e.Heap.Store(c, 1, *cells)
	e.Heap.Store(c, 2, c)
	return c
}

// Captured returns captured cell i of a closure.
func (e *Env) Captured(closure object.Ref, i int) object.Ref {
	return e.Heap.Load(e.Heap.Load(closure, 1), i)
}

// Call runs the closure in *closure with the argument in *arg, using the
// code table codes.
func (e *Env) Call(codes []Code, closure, arg *object.Ref) object.Ref {
	if e.Heap.Load(*closure, 2) != *closure {
		panic(fmt.Sprintf("workload: closure %v lost its self reference", *closure))
	}
	code := e.Heap.LoadWord(*closure, 0)
	return codes[code](e, closure, arg)
}
