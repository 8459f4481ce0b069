package workload

import (
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// Intern returns the String for s from the intern table, allocating it on a
// miss. Interned strings are pinned while they are in the table; the least
// recently used one is unpinned when the table is full.
func (e *Env) Intern(s string) object.Ref {
	if v, ok := e.interned.Get(s); ok {
		return e.Heap.Pinned(v.(roots.Handle))
	}
	ref := e.NewString(s)
	e.interned.Add(s, e.Heap.Pin(ref))
	return ref
}

// InternedCount returns the number of strings in the intern table.
func (e *Env) InternedCount() int {
	return e.interned.Len()
}
