// Package workload contains small deterministic programs that drive a heap
// the way the interpreter and the builtin classes do. They are the
// correctness oracle of the collectors: their output must not depend on the
// collector or on stress mode.
package workload

import (
	"io"

	lru "github.com/hashicorp/golang-lru"

	"github.com/yoglang/yoggc/gc"
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// internSize is the number of strings kept pinned by the intern table.
const internSize = 16

// Env is the execution context of a program: the heap, its root set and
// the thread the program runs on.
//
// References to heap objects are only valid until the next allocation.
// Everything that must survive one is kept in a frame slot or in a handle
// registered with Keep, and the constructors take their reference
// arguments as such slots.
type Env struct {
	Heap   *gc.Heap
	Roots  *roots.Set
	Thread *roots.Thread
	Out    io.Writer

	natives  *nativeTable
	interned *lru.Cache
}

// NewEnv creates an environment with a main thread on h.
func NewEnv(h *gc.Heap, out io.Writer) *Env {
	e := &Env{
		Heap:    h,
		Roots:   h.Roots(),
		Out:     out,
		natives: &nativeTable{},
	}
	e.Thread = e.Roots.NewThread("main")
	interned, err := lru.NewWithEvict(internSize, func(_, value interface{}) {
		h.Unpin(value.(roots.Handle))
	})
	if err != nil {
		panic(err)
	}
	e.interned = interned
	return e
}

// Close releases the interned strings and the native memory still held by
// live FFIStructs, and ends the main thread.
func (e *Env) Close() {
	e.interned.Purge()
	e.natives.releaseAll()
	e.Roots.Exit(e.Thread)
}

// Frame runs fn with a new frame of n slots on the main thread.
func (e *Env) Frame(name string, n int, fn func(f *roots.Frame) error) error {
	f := e.Thread.PushFrame(name, n)
	defer e.Thread.PopFrame(f)
	return fn(f)
}

// Scope runs fn in a new handle scope. Handles created with Keep inside fn
// are dropped when it returns.
func (e *Env) Scope(fn func()) {
	sc := e.Roots.Scopes.Open()
	defer e.Roots.Scopes.Close(sc)
	fn()
}

// Keep registers ref in the innermost handle scope and returns the slot
// that follows it when it moves.
func (e *Env) Keep(ref object.Ref) *object.Ref {
	return e.Roots.Scopes.Register(ref)
}

// Collect runs a full collection.
func (e *Env) Collect() {
	e.Heap.Collect()
}
