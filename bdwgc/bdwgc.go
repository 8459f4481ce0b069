// Package bdwgc is a whole-heap conservative garbage collector with the
// programming model of the Boehm-Demers-Weiser collector: the client asks it
// for memory and registers its roots, and the library decides on its own when
// to collect and when to expand the heap.
//
// Nothing is known about the objects it hands out. Every word of every
// reachable object and every root word is treated as a potential pointer, so
// an integer that happens to look like an address keeps memory alive.
// Objects allocated with MallocAtomic are never scanned.
package bdwgc

import (
	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/blocks"
	"github.com/yoglang/yoggc/object"
)

// RootScanner reports root words to the collector. It is called at the
// start of every collection.
type RootScanner func(yield func(word uint64))

// Collector is a conservative collector instance.
type Collector struct {
	cfg  Config
	heap *blocks.Heap

	roots      []RootScanner
	atomic     mapset.Set[object.Ref]
	finalizers map[object.Ref]Finalizer
	toFinalize []pendingFinalizer

	markStack []object.Ref

	gcNo         uint64
	bytesSinceGC uint64
	totalBytes   uint64
	largeAllocs  int
	collecting   bool
}

// Usage mirrors GC_get_heap_usage_safe.
type Usage struct {
	HeapSize     uint64
	FreeBytes    uint64
	BytesSinceGC uint64
	TotalBytes   uint64
	Objects      int
}

// New creates a collector whose heap is a fresh region of a.
func New(a *arena.Allocator, cfg Config) (*Collector, error) {
	cfg.setDefaults()
	if cfg.MaxHeapSize == 0 || cfg.MaxHeapSize > arena.Spacing {
		cfg.MaxHeapSize = arena.Spacing
	}
	size := roundBlocks(cfg.InitialHeapSize)
	if size > cfg.MaxHeapSize {
		return nil, errors.Newf("bdwgc: initial heap size %d exceeds maximum %d", size, cfg.MaxHeapSize)
	}
	region, err := a.New(size)
	if err != nil {
		return nil, err
	}
	return &Collector{
		cfg:        cfg,
		heap:       blocks.New(region),
		atomic:     mapset.NewThreadUnsafeSet[object.Ref](),
		finalizers: make(map[object.Ref]Finalizer),
	}, nil
}

func roundBlocks(n uint64) uint64 {
	return (n + blocks.BytesPerBlock - 1) &^ (blocks.BytesPerBlock - 1)
}

// Region returns the memory the collector allocates from. Object contents
// are read and written through it.
func (c *Collector) Region() *arena.Region { return c.heap.Region() }

// Contains reports whether addr is inside the collected heap.
func (c *Collector) Contains(addr object.Ref) bool { return c.heap.Contains(addr) }

// IsObject reports whether ref is the start of an allocated object.
func (c *Collector) IsObject(ref object.Ref) bool { return c.heap.IsObject(ref) }

// AddRoots registers a root scanner (GC_add_roots).
func (c *Collector) AddRoots(scan RootScanner) {
	c.roots = append(c.roots, scan)
}

// Malloc returns zeroed memory of at least size bytes that is scanned for
// pointers (GC_malloc). It returns object.Nil when the heap is exhausted and
// cannot be expanded.
func (c *Collector) Malloc(size uint64) object.Ref {
	return c.malloc(size, false)
}

// MallocAtomic returns zeroed memory that is never scanned for pointers
// (GC_malloc_atomic).
func (c *Collector) MallocAtomic(size uint64) object.Ref {
	return c.malloc(size, true)
}

func (c *Collector) malloc(size uint64, atomic bool) object.Ref {
	if c.collecting {
		panic("bdwgc: allocation from within a collection")
	}
	if size == 0 {
		size = 1
	}
	rounded := roundBlocks(size)
	if rounded < size {
		c.outOfMemory()
		return object.Nil
	}
	if rounded >= c.heap.Size()/2 {
		c.largeAllocs++
		if c.largeAllocs%c.cfg.LargeAllocWarnInterval == 0 {
			c.warn("Repeated allocation of very large block (appr. size %d):\n\tMay lead to memory leak and poor performance\n", rounded)
		}
	}
	if c.bytesSinceGC >= c.heap.Size()/c.cfg.FreeSpaceDivisor {
		c.Gcollect()
	}

	collected := false
	for {
		if ref, ok := c.heap.Alloc(rounded); ok {
			c.bytesSinceGC += rounded
			c.totalBytes += rounded
			if atomic {
				c.atomic.Add(ref)
			}
			return ref
		}
		if !collected {
			c.Gcollect()
			collected = true
			continue
		}
		if !c.expand(rounded) {
			c.outOfMemory()
			return object.Nil
		}
	}
}

func (c *Collector) outOfMemory() {
	c.warn("Out of Memory! Heap size: %d MiB. Returning NULL!\n", c.heap.Size()>>20)
}

func (c *Collector) warn(msg string, arg uint64) {
	c.cfg.WarnProc("GC Warning: "+msg, arg)
}

// expand grows the heap so that at least n more bytes fit, doubling it when
// possible.
func (c *Collector) expand(n uint64) bool {
	if c.cfg.DontExpand {
		return false
	}
	cur := c.heap.Size()
	target := cur * 2
	if min := cur + n; target < min {
		target = min
	}
	if target > c.cfg.MaxHeapSize {
		target = c.cfg.MaxHeapSize - c.cfg.MaxHeapSize%blocks.BytesPerBlock
	}
	if target < cur+n || target <= cur {
		return false
	}
	return c.heap.Grow(target) == nil
}

// Gcollect performs a full collection (GC_gcollect).
func (c *Collector) Gcollect() {
	if c.collecting {
		panic("bdwgc: recursive collection")
	}
	c.collecting = true
	for _, scan := range c.roots {
		scan(c.markWord)
	}
	c.drain()
	if !c.cfg.NoFinalization {
		c.queueFinalizers()
	}
	c.heap.Sweep(func(ref object.Ref) {
		c.atomic.Remove(ref)
	})
	free := c.heap.BuildFreeRanges()
	c.gcNo++
	c.bytesSinceGC = 0
	c.collecting = false

	if free < c.heap.Size()/c.cfg.FreeSpaceDivisor {
		c.expand(c.heap.Size() / c.cfg.FreeSpaceDivisor)
	}
	c.invokeFinalizers()
}

// markWord marks the object word points into, if any.
func (c *Collector) markWord(word uint64) {
	addr := object.Ref(word)
	if !c.heap.Contains(addr) {
		return
	}
	var head object.Ref
	if c.cfg.AllInteriorPointers {
		h, ok := c.heap.FindHead(addr)
		if !ok {
			return
		}
		head = h
	} else {
		if !c.heap.IsObject(addr) {
			return
		}
		head = addr
	}
	if c.heap.Mark(head) {
		c.markStack = append(c.markStack, head)
	}
}

// drain scans the marked objects until the mark stack is empty.
func (c *Collector) drain() {
	region := c.heap.Region()
	for len(c.markStack) > 0 {
		ref := c.markStack[len(c.markStack)-1]
		c.markStack = c.markStack[:len(c.markStack)-1]
		if c.atomic.Contains(ref) {
			continue
		}
		end := ref + object.Ref(c.heap.Extent(ref))
		for addr := ref; addr < end; addr += object.WordSize {
			c.markWord(region.Word(addr))
		}
	}
}

// GCNo returns the number of completed collections (GC_get_gc_no).
func (c *Collector) GCNo() uint64 { return c.gcNo }

// HeapUsage reports heap statistics.
func (c *Collector) HeapUsage() Usage {
	objects, used := c.heap.Usage()
	return Usage{
		HeapSize:     c.heap.Size(),
		FreeBytes:    c.heap.Size() - used,
		BytesSinceGC: c.bytesSinceGC,
		TotalBytes:   c.totalBytes,
		Objects:      objects,
	}
}

// Size returns the number of bytes reserved for the object at ref.
func (c *Collector) Size(ref object.Ref) uint64 { return c.heap.Extent(ref) }
