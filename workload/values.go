package workload

import (
	"github.com/holiman/uint256"

	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// Pair is {car, cdr}.
var Pair = layout.WithSlots("Pair", object.TagInstance, 2, 0, 1)

// NewString allocates a String holding s.
func (e *Env) NewString(s string) object.Ref {
	ref := e.Heap.Allocate(uint64(object.WordSize+len(s)), layout.String)
	e.Heap.StoreWord(ref, 0, uint64(len(s)))
	e.Heap.WriteBytes(ref, 1, []byte(s))
	return ref
}

// StringValue returns the contents of a String.
func (e *Env) StringValue(ref object.Ref) string {
	n := e.Heap.LoadWord(ref, 0)
	return string(e.Heap.ReadBytes(ref, 1, int(n)))
}

// Concat allocates the concatenation of the strings in *a and *b.
func (e *Env) Concat(a, b *object.Ref) object.Ref {
	s := e.StringValue(*a) + e.StringValue(*b)
	return e.NewString(s)
}

// NewArray allocates an empty Array with room for capacity elements.
func (e *Env) NewArray(capacity int) (arr object.Ref) {
	e.Scope(func() {
		a := e.Keep(e.Heap.Allocate(2*object.WordSize, layout.Array))
		items := e.Heap.Allocate(uint64(capacity)*object.WordSize, layout.ValueArray)
		e.Heap.Store(*a, 1, items)
		arr = *a
	})
	return arr
}

// ArrayLen returns the number of elements of an Array.
func (e *Env) ArrayLen(arr object.Ref) int {
	return int(e.Heap.LoadWord(arr, 0))
}

// ArrayGet returns element i of an Array.
func (e *Env) ArrayGet(arr object.Ref, i int) object.Ref {
	if i < 0 || i >= e.ArrayLen(arr) {
		panic("workload: array index out of range")
	}
	return e.Heap.Load(e.Heap.Load(arr, 1), i)
}

// ArraySet replaces element i of an Array.
func (e *Env) ArraySet(arr object.Ref, i int, v object.Ref) {
	if i < 0 || i >= e.ArrayLen(arr) {
		panic("workload: array index out of range")
	}
	e.Heap.Store(e.Heap.Load(arr, 1), i, v)
}

// ArrayAppend appends *v to the Array in *arr, doubling the element storage
// when it is full.
func (e *Env) ArrayAppend(arr, v *object.Ref) {
	n := e.ArrayLen(*arr)
	e.reserve(arr, n+1)
	e.Heap.Store(e.Heap.Load(*arr, 1), n, *v)
	e.Heap.StoreWord(*arr, 0, uint64(n+1))
}

// reserve makes room for n elements in the storage of the container in
// *c, whose storage is in slot 1 and whose length is in word 0.
func (e *Env) reserve(c *object.Ref, n int) {
	capacity := e.Heap.PayloadWords(e.Heap.Load(*c, 1))
	if n <= capacity {
		return
	}
	next := capacity * 2
	if next < 4 {
		next = 4
	}
	for next < n {
		next *= 2
	}
	e.Scope(func() {
		grown := e.Keep(e.Heap.Allocate(uint64(next)*object.WordSize, layout.ValueArray))
		old := e.Heap.Load(*c, 1)
		for i := 0; i < capacity; i++ {
			e.Heap.Store(*grown, i, e.Heap.Load(old, i))
		}
		e.Heap.Store(*c, 1, *grown)
	})
}

// NewDict allocates an empty Dict.
func (e *Env) NewDict() (dict object.Ref) {
	e.Scope(func() {
		d := e.Keep(e.Heap.Allocate(2*object.WordSize, layout.Dict))
		entries := e.Heap.Allocate(0, layout.ValueArray)
		e.Heap.Store(*d, 1, entries)
		dict = *d
	})
	return dict
}

// DictLen returns the number of entries of a Dict.
func (e *Env) DictLen(dict object.Ref) int {
	return int(e.Heap.LoadWord(dict, 0))
}

func (e *Env) dictFind(dict object.Ref, key string) int {
	entries := e.Heap.Load(dict, 1)
	for i := 0; i < e.DictLen(dict); i++ {
		if e.StringValue(e.Heap.Load(entries, 2*i)) == key {
			return i
		}
	}
	return -1
}

// DictSet binds the String *key to *value in the Dict *dict.
func (e *Env) DictSet(dict, key, value *object.Ref) {
	if i := e.dictFind(*dict, e.StringValue(*key)); i >= 0 {
		e.Heap.Store(e.Heap.Load(*dict, 1), 2*i+1, *value)
		return
	}
	n := e.DictLen(*dict)
	e.reserve(dict, 2*n+2)
	entries := e.Heap.Load(*dict, 1)
	e.Heap.Store(entries, 2*n, *key)
	e.Heap.Store(entries, 2*n+1, *value)
	e.Heap.StoreWord(*dict, 0, uint64(n+1))
}

// DictGet looks key up in a Dict.
func (e *Env) DictGet(dict object.Ref, key string) (object.Ref, bool) {
	i := e.dictFind(dict, key)
	if i < 0 {
		return object.Nil, false
	}
	return e.Heap.Load(e.Heap.Load(dict, 1), 2*i+1), true
}

// NewBignum allocates a Bignum holding v. Only the significant limbs are
// stored, at least one.
func (e *Env) NewBignum(v *uint256.Int) object.Ref {
	limbs := 4
	for limbs > 1 && v[limbs-1] == 0 {
		limbs--
	}
	ref := e.Heap.Allocate(uint64(1+limbs)*object.WordSize, layout.Bignum)
	for i := 0; i < limbs; i++ {
		e.Heap.StoreWord(ref, 1+i, v[i])
	}
	return ref
}

// NewInt allocates a Bignum holding n.
func (e *Env) NewInt(n uint64) object.Ref {
	return e.NewBignum(uint256.NewInt(n))
}

// BignumValue returns the value of a Bignum.
func (e *Env) BignumValue(ref object.Ref) *uint256.Int {
	var v uint256.Int
	for i := 0; i < e.Heap.PayloadWords(ref)-1; i++ {
		v[i] = e.Heap.LoadWord(ref, 1+i)
	}
	return &v
}

// IntValue returns the value of a Bignum that fits a word.
func (e *Env) IntValue(ref object.Ref) uint64 {
	return e.BignumValue(ref).Uint64()
}

// NewCell allocates a Cell holding *v.
func (e *Env) NewCell(v *object.Ref) object.Ref {
	cell := e.Heap.Allocate(object.WordSize, layout.Cell)
	e.Heap.Store(cell, 0, *v)
	return cell
}

// CellGet returns the value of a Cell.
func (e *Env) CellGet(cell object.Ref) object.Ref {
	return e.Heap.Load(cell, 0)
}

// CellSet replaces the value of a Cell.
func (e *Env) CellSet(cell, v object.Ref) {
	e.Heap.Store(cell, 0, v)
}

// NewPair allocates a Pair of *car and *cdr.
func (e *Env) NewPair(car, cdr *object.Ref) object.Ref {
	p := e.Heap.Allocate(2*object.WordSize, Pair)
	e.Heap.Store(p, 0, *car)
	e.Heap.Store(p, 1, *cdr)
	return p
}
