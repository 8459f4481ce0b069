package roots

import (
	"github.com/yoglang/yoggc/object"
)

// handlesPerChunk is the number of handle slots allocated at once. Chunks are
// never reallocated, so the slot pointers returned by Register stay valid.
const handlesPerChunk = 256

// Scopes is a stack of handle scopes. Builtins open a scope, register the
// temporaries they need to survive allocations, and close the scope when
// they return, which drops all handles registered in it at once.
type Scopes struct {
	chunks [][]object.Ref
	used   int   // number of slots in use over all chunks
	marks  []int // value of used when each open scope was opened
}

// Scope identifies an open scope.
type Scope struct {
	depth int
}

// Open opens a new innermost scope.
func (s *Scopes) Open() Scope {
	s.marks = append(s.marks, s.used)
	return Scope{depth: len(s.marks)}
}

// Close closes the innermost scope, which must be sc.
func (s *Scopes) Close(sc Scope) {
	if sc.depth != len(s.marks) || sc.depth == 0 {
		panic("roots: handle scope closed out of order")
	}
	begin := s.marks[len(s.marks)-1]
	s.marks = s.marks[:len(s.marks)-1]
	for i := begin; i < s.used; i++ {
		*s.at(i) = object.Nil
	}
	s.used = begin
}

func (s *Scopes) at(i int) *object.Ref {
	return &s.chunks[i/handlesPerChunk][i%handlesPerChunk]
}

// Register stores ref in a slot of the innermost scope and returns the
// slot. The slot is a root until the scope is closed; read it again after
// every allocation.
func (s *Scopes) Register(ref object.Ref) *object.Ref {
	if len(s.marks) == 0 {
		panic("roots: register without an open handle scope")
	}
	if s.used == len(s.chunks)*handlesPerChunk {
		s.chunks = append(s.chunks, make([]object.Ref, handlesPerChunk))
	}
	slot := s.at(s.used)
	*slot = ref
	s.used++
	return slot
}

// Depth returns the number of open scopes.
func (s *Scopes) Depth() int { return len(s.marks) }

// ForEachRoot visits every slot of every open scope.
func (s *Scopes) ForEachRoot(fn func(slot *object.Ref)) {
	for i := 0; i < s.used; i++ {
		fn(s.at(i))
	}
}
