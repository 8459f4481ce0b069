// Package roots is the root set of a heap: everything outside the heap that
// holds object references. That is the frames of every green thread, the
// global namespace, the pin table and the open handle scopes.
//
// Collectors do not get root values but pointers to the root slots, so that
// moving collectors can store the new address of a relocated object.
package roots

import (
	"fmt"
	"sort"

	"github.com/yoglang/yoggc/object"
)

// Provider is anything that can enumerate root slots.
type Provider interface {
	ForEachRoot(fn func(slot *object.Ref))
}

// Set is the complete root set of one heap.
type Set struct {
	Globals *Globals
	Pins    PinTable
	Scopes  Scopes

	threads  map[int]*Thread
	nextID   int
	extra    []Provider
	runQueue Queue
}

// NewSet returns an empty root set.
func NewSet() *Set {
	return &Set{
		Globals: NewGlobals(),
		threads: make(map[int]*Thread),
	}
}

// NewThread creates a green thread. Its frames are roots until Exit.
func (s *Set) NewThread(name string) *Thread {
	s.nextID++
	t := &Thread{ID: s.nextID, Name: name}
	s.threads[t.ID] = t
	return t
}

// Exit removes a finished thread from the root set.
func (s *Set) Exit(t *Thread) {
	if _, ok := s.threads[t.ID]; !ok {
		panic(fmt.Sprintf("roots: exit of unknown thread %q", t.Name))
	}
	delete(s.threads, t.ID)
}

// Threads returns the live threads ordered by id.
func (s *Set) Threads() []*Thread {
	threads := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads
}

// RunQueue returns the queue of runnable threads.
func (s *Set) RunQueue() *Queue { return &s.runQueue }

// Register adds an extra root provider, for example a native module that
// caches objects.
func (s *Set) Register(p Provider) {
	s.extra = append(s.extra, p)
}

// ForEachRoot visits every root slot: thread frames in thread order,
// globals, pins, handle scopes and then the extra providers.
func (s *Set) ForEachRoot(fn func(slot *object.Ref)) {
	for _, t := range s.Threads() {
		t.ForEachRoot(fn)
	}
	s.Globals.ForEachRoot(fn)
	s.Pins.ForEachRoot(fn)
	s.Scopes.ForEachRoot(fn)
	for _, p := range s.extra {
		p.ForEachRoot(fn)
	}
}
