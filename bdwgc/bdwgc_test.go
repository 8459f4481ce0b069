package bdwgc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/object"
)

type testRoots struct {
	words []uint64
}

func (r *testRoots) scan(yield func(uint64)) {
	for _, w := range r.words {
		yield(w)
	}
}

func newCollector(t *testing.T, cfg Config) (*Collector, *testRoots, *[]string) {
	t.Helper()
	var warnings []string
	cfg.WarnProc = func(msg string, arg uint64) {
		warnings = append(warnings, fmt.Sprintf(msg, arg))
	}
	var a arena.Allocator
	c, err := New(&a, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Region().Release() })
	roots := &testRoots{}
	c.AddRoots(roots.scan)
	return c, roots, &warnings
}

func TestRootsKeepObjectsAlive(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 4096, AllInteriorPointers: true})
	kept := c.Malloc(64)
	lost := c.Malloc(64)
	require.NotEqual(t, object.Nil, kept)
	require.NotEqual(t, object.Nil, lost)

	// An interior pointer is enough.
	roots.words = []uint64{uint64(kept) + 40}
	c.Gcollect()
	assert.Equal(t, uint64(1), c.GCNo())
	assert.True(t, c.heap.IsObject(kept))
	assert.False(t, c.heap.IsObject(lost))
	assert.Equal(t, 1, c.HeapUsage().Objects)
}

func TestInteriorPointersDisabled(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 4096, AllInteriorPointers: false})
	obj := c.Malloc(64)
	roots.words = []uint64{uint64(obj) + 8}
	c.Gcollect()
	assert.False(t, c.heap.IsObject(obj))
}

func TestObjectWordsAreScanned(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 4096})
	parent := c.Malloc(32)
	child := c.Malloc(32)
	c.Region().SetWord(parent+16, uint64(child))
	roots.words = []uint64{uint64(parent)}
	c.Gcollect()
	assert.True(t, c.heap.IsObject(child))
}

func TestAtomicObjectsAreNotScanned(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 4096})
	parent := c.MallocAtomic(32)
	child := c.Malloc(32)
	c.Region().SetWord(parent, uint64(child))
	roots.words = []uint64{uint64(parent)}
	c.Gcollect()
	assert.True(t, c.heap.IsObject(parent))
	assert.False(t, c.heap.IsObject(child))
}

func TestExpandAndOutOfMemory(t *testing.T) {
	c, roots, warnings := newCollector(t, Config{InitialHeapSize: 1024, MaxHeapSize: 4096})
	for i := 0; i < 4096/64; i++ {
		obj := c.Malloc(64)
		require.NotEqual(t, object.Nil, obj, "allocation %d", i)
		roots.words = append(roots.words, uint64(obj))
	}
	assert.Equal(t, uint64(4096), c.HeapUsage().HeapSize)
	assert.Equal(t, object.Nil, c.Malloc(64))
	require.NotEmpty(t, *warnings)
	last := (*warnings)[len(*warnings)-1]
	assert.True(t, strings.HasPrefix(last, "GC Warning: Out of Memory! Heap size: 0 MiB."), last)
}

func TestDontExpand(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 1024, DontExpand: true})
	for i := 0; i < 1024/32; i++ {
		obj := c.Malloc(32)
		require.NotEqual(t, object.Nil, obj)
		roots.words = append(roots.words, uint64(obj))
	}
	assert.Equal(t, object.Nil, c.Malloc(32))
	assert.Equal(t, uint64(1024), c.HeapUsage().HeapSize)
}

func TestRepeatedLargeAllocationWarning(t *testing.T) {
	c, _, warnings := newCollector(t, Config{InitialHeapSize: 1 << 20, LargeAllocWarnInterval: 2})
	for i := 0; i < 4; i++ {
		require.NotEqual(t, object.Nil, c.Malloc(600<<10))
	}
	var large int
	for _, w := range *warnings {
		if strings.HasPrefix(w, "GC Warning: Repeated allocation of very large block") {
			large++
		}
	}
	assert.Equal(t, 2, large)
}

func TestFinalizers(t *testing.T) {
	c, roots, _ := newCollector(t, Config{InitialHeapSize: 4096})
	obj := c.Malloc(32)
	child := c.Malloc(32)
	c.Region().SetWord(obj, uint64(child))
	c.Region().SetWord(child, 77)

	var seen []uint64
	c.RegisterFinalizer(obj, func(ref object.Ref) {
		// The object and its children are still intact.
		inner := object.Ref(c.Region().Word(ref))
		seen = append(seen, c.Region().Word(inner))
	})

	roots.words = []uint64{uint64(obj)}
	c.Gcollect()
	assert.Empty(t, seen)

	roots.words = nil
	c.Gcollect()
	assert.Equal(t, []uint64{77}, seen)
	assert.True(t, c.heap.IsObject(obj), "kept alive for the finalizer")

	c.Gcollect()
	assert.Equal(t, []uint64{77}, seen, "finalizers run once")
	assert.False(t, c.heap.IsObject(obj))
	assert.False(t, c.heap.IsObject(child))
}

func TestUnregisterFinalizer(t *testing.T) {
	c, _, _ := newCollector(t, Config{InitialHeapSize: 4096})
	obj := c.Malloc(32)
	ran := false
	c.RegisterFinalizer(obj, func(object.Ref) { ran = true })
	c.RegisterFinalizer(obj, nil)
	c.Gcollect()
	assert.False(t, ran)
	assert.Panics(t, func() { c.RegisterFinalizer(obj+8, func(object.Ref) {}) })
}

func TestRecursiveCollectionPanics(t *testing.T) {
	c, _, _ := newCollector(t, Config{InitialHeapSize: 4096})
	c.AddRoots(func(func(uint64)) { c.Gcollect() })
	assert.Panics(t, func() { c.Gcollect() })
}
