package workload

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// natives stands in for memory allocated by a native library. It is shared
// by all environments, so the FFIStruct finalizer can find a block from its
// handle alone. Handles are never reused.
var natives = struct {
	sync.Mutex
	next   uint64
	blocks map[uint64]*nativeBlock
}{next: 1, blocks: make(map[uint64]*nativeBlock)}

type nativeBlock struct {
	owner *nativeTable
	mem   []byte
}

// nativeTable is the share of native memory owned by one environment.
type nativeTable struct {
	live, freed int
}

func init() {
	layout.FFIStruct.Finalizer = releaseNative
}

// releaseNative frees the native block of a reclaimed FFIStruct.
func releaseNative(dead layout.Dead) {
	natives.Lock()
	defer natives.Unlock()
	id := dead.Word(0)
	b, ok := natives.blocks[id]
	if !ok {
		return
	}
	delete(natives.blocks, id)
	b.owner.live--
	b.owner.freed++
}

func (t *nativeTable) alloc(size int) uint64 {
	natives.Lock()
	defer natives.Unlock()
	id := natives.next
	natives.next++
	natives.blocks[id] = &nativeBlock{owner: t, mem: make([]byte, size)}
	t.live++
	return id
}

func (t *nativeTable) lookup(id uint64) ([]byte, bool) {
	natives.Lock()
	defer natives.Unlock()
	b, ok := natives.blocks[id]
	if !ok || b.owner != t {
		return nil, false
	}
	return b.mem, true
}

func (t *nativeTable) count() int {
	natives.Lock()
	defer natives.Unlock()
	return t.live
}

// releaseAll frees the blocks of structs still alive when the environment
// goes away.
func (t *nativeTable) releaseAll() {
	natives.Lock()
	defer natives.Unlock()
	for id, b := range natives.blocks {
		if b.owner == t {
			delete(natives.blocks, id)
			t.live--
		}
	}
}

// NewFFIStruct allocates an FFIStruct {handle, size} backed by size bytes of
// native memory.
func (e *Env) NewFFIStruct(size int) object.Ref {
	ref := e.Heap.Allocate(2*object.WordSize, layout.FFIStruct)
	e.Heap.StoreWord(ref, 0, e.natives.alloc(size))
	e.Heap.StoreWord(ref, 1, uint64(size))
	return ref
}

// NativeBlocks returns the number of native blocks not released yet.
func (e *Env) NativeBlocks() int {
	return e.natives.count()
}

// NativeCall calls fn with the native memory of the FFIStruct ref. The
// struct is pinned for the duration of the call, and fn may allocate.
func (e *Env) NativeCall(ref object.Ref, fn func(mem []byte) error) error {
	return e.Heap.WithPinned(ref, func(hd roots.Handle) error {
		id := e.Heap.LoadWord(e.Heap.Pinned(hd), 0)
		mem, ok := e.natives.lookup(id)
		if !ok {
			return errors.Newf("native block %d of %v was released", id, ref)
		}
		return fn(mem)
	})
}
