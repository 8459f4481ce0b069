// Package gc is the object memory manager of the Yog runtime. A Heap
// allocates objects and reclaims them with one of five collection
// strategies, chosen when the heap is created:
//
//   - copying: two semispaces, Cheney scan
//   - mark-sweep: a non-moving block heap, precise marking
//   - mark-sweep-compact: bump allocation, sliding compaction
//   - bdw: a conservative whole-heap collector that owns collection timing
//   - generational: a copying nursery over a mark-sweep old generation
//
// All references held outside the heap live in the root set of the heap.
// References inside objects are written with Store, which is the write
// barrier of the generational collector.
package gc

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/diagnostics"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/log"
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// State is the phase of the collector.
type State int

const (
	Idle State = iota
	Tracing
	Relocating
	Sweeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracing:
		return "tracing"
	case Relocating:
		return "relocating"
	case Sweeping:
		return "sweeping"
	default:
		return "!err"
	}
}

// collector is implemented by every collection strategy.
type collector interface {
	// alloc returns a zeroed object of size bytes, header included, with
	// the header initialized. It collects or grows as the strategy
	// requires and returns object.Nil when the request cannot be served.
	alloc(size uint64, d *layout.Descriptor) object.Ref

	// collect runs a full collection.
	collect()

	// stress runs the collections that precede every allocation in stress
	// mode.
	stress()

	// regionOf returns the region holding the object at ref, or nil.
	regionOf(ref object.Ref) *arena.Region

	// usage reports the bytes reserved for the heap and the bytes occupied
	// by objects.
	usage() (sys, inUse uint64)

	release()
}

// Heap is a garbage collected object heap with its root set.
type Heap struct {
	mu    sync.Mutex
	opts  Options
	state State

	roots   *roots.Set
	policy  Policy
	arenas  arena.Allocator
	c       collector
	log     log.Logger
	metrics *metrics

	// finalizers queued during a collection, run when it is over
	pending []pendingFinalizer

	stats heapStats
}

type pendingFinalizer struct {
	fn   func(layout.Dead)
	dead layout.Dead
}

// New creates a heap with an empty root set.
func New(opts Options) (*Heap, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	h := &Heap{
		opts:   opts,
		roots:  roots.NewSet(),
		policy: Policy{Threshold: opts.Threshold, Stress: opts.Stress},
		log:    opts.Logger.New("gc", opts.Kind.String()),
	}
	h.metrics = newMetrics(h, opts.Registerer)

	var err error
	switch opts.Kind {
	case Copying:
		h.c, err = newCopying(h)
	case MarkSweep:
		h.c, err = newMarkSweep(h)
	case MarkSweepCompact:
		h.c, err = newCompact(h)
	case Conservative:
		h.c, err = newConservative(h)
	case Generational:
		h.c, err = newGenerational(h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create %s heap", opts.Kind)
	}
	sys, _ := h.c.usage()
	h.log.Debug("Heap created", "size", FormatSize(sys), "threshold", FormatSize(opts.Threshold), "max", FormatSize(opts.MaxHeapSize))
	return h, nil
}

// Close releases the memory of the heap. The heap must not be used anymore.
func (h *Heap) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.c.release()
}

// Kind returns the collection strategy of the heap.
func (h *Heap) Kind() Kind { return h.opts.Kind }

// Roots returns the root set. Frames, globals, pins and handle scopes in it
// keep objects alive.
func (h *Heap) Roots() *roots.Set { return h.roots }

// State returns the current collector phase.
func (h *Heap) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// EnableStress makes the heap collect before every allocation.
func (h *Heap) EnableStress() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policy.Stress = true
}

// Allocate returns a new zeroed object with size payload bytes, described
// by d. Running out of memory is fatal.
func (h *Heap) Allocate(size uint64, d *layout.Descriptor) object.Ref {
	ref := h.allocate(size, d)
	h.runFinalizers()
	return ref
}

func (h *Heap) allocate(size uint64, d *layout.Descriptor) object.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Idle {
		panic("gc: allocation during " + h.state.String())
	}
	if d == nil || d.ID() == 0 {
		panic("gc: allocation without a registered descriptor")
	}

	total, ok := object.ObjectSize(size)
	if !ok || total > arena.Spacing || total > h.opts.MaxHeapSize {
		h.outOfMemory(size)
	}
	if h.policy.CollectFirst() {
		h.c.stress()
	}
	ref := h.c.alloc(total, d)
	if ref == object.Nil {
		h.outOfMemory(size)
	}
	h.policy.NoteAlloc(total)
	h.stats.mallocs++
	h.stats.totalAlloc += total
	h.metrics.allocated.Add(float64(total))
	return ref
}

func (h *Heap) outOfMemory(size uint64) {
	sys, _ := h.c.usage()
	oom := &OutOfMemoryError{Requested: size, HeapSize: sys, Kind: h.opts.Kind}
	h.log.Error("Out of memory", "requested", size, "heap", FormatSize(sys))
	fatal := h.opts.Fatal
	if fatal == nil {
		fatal = diagnostics.Fatal
	}
	// The lock is held by Allocate; a fatal hook that returns leaves the
	// heap usable, so unwind normally through the panic.
	fatal(errors.WithHint(oom, "raise --max-heap-size or reduce the live data"))
	panic(oom)
}

// initObject writes the header of a freshly allocated object.
func initObject(r *arena.Region, ref object.Ref, size uint64, d *layout.Descriptor) {
	r.SetHeader(ref, object.Header{Desc: d.ID(), Size: size})
}

// Collect runs a full collection now. For the conservative collector this
// is a no-op: the library decides when to collect.
func (h *Heap) Collect() {
	h.collect()
	h.runFinalizers()
}

func (h *Heap) collect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Idle {
		panic("gc: collection started during " + h.state.String())
	}
	h.c.collect()
}

// region returns the region of ref and panics when ref is not a heap object.
func (h *Heap) region(ref object.Ref) *arena.Region {
	r := h.c.regionOf(ref)
	if r == nil {
		panic(fmt.Sprintf("gc: %v is not a heap object", ref))
	}
	return r
}

// Header returns the decoded header of the object at ref.
func (h *Heap) Header(ref object.Ref) object.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.region(ref).Header(ref)
}

// Descriptor returns the type descriptor of the object at ref.
func (h *Heap) Descriptor(ref object.Ref) *layout.Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.descriptorOf(h.region(ref), ref)
}

func (h *Heap) descriptorOf(r *arena.Region, ref object.Ref) *layout.Descriptor {
	id, _, _ := object.DecodeMeta(r.Word(ref))
	d := layout.Lookup(id)
	if d == nil {
		panic(fmt.Sprintf("gc: object %v has unknown descriptor %d", ref, id))
	}
	return d
}

// forEachSlot calls fn with the address of every reference slot of the
// object at ref.
func (h *Heap) forEachSlot(r *arena.Region, ref object.Ref, fn func(slot object.Ref)) {
	d := h.descriptorOf(r, ref)
	if d.PointerFree() {
		return
	}
	words := int((r.Word(ref+object.WordSize) - object.HeaderSize) / object.WordSize)
	d.ForEachSlot(words, func(i int) {
		fn(ref.Field(i))
	})
}

// reclaim is called by the collectors for every object found dead, before
// its memory is reused. Finalizers are queued with a snapshot of the
// payload and run after the heap lock is released, so they may use the heap.
func (h *Heap) reclaim(r *arena.Region, ref object.Ref) {
	h.stats.frees++
	d := h.descriptorOf(r, ref)
	if d.Finalizer == nil {
		return
	}
	size := r.Word(ref + object.WordSize)
	words := make([]uint64, (size-object.HeaderSize)/object.WordSize)
	for i := range words {
		words[i] = r.Word(ref.Field(i))
	}
	h.pending = append(h.pending, pendingFinalizer{fn: d.Finalizer, dead: layout.Dead{Ref: ref, Words: words}})
}

// runFinalizers runs the queued finalizers in the order the objects died.
// The caller must not hold h.mu. Collections started by a finalizer run
// their own finalizers before returning.
func (h *Heap) runFinalizers() {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, p := range pending {
		p.fn(p.dead)
	}
}

// cycle is the bookkeeping around one collection: state changes,
// verification, statistics and metrics.
type cycle struct {
	minor  bool
	start  time.Time
	digest uint16
}

func (h *Heap) beginCycle(minor bool) cycle {
	if h.state != Idle {
		panic("gc: collection started during " + h.state.String())
	}
	c := cycle{minor: minor, start: time.Now()}
	if h.opts.Verify {
		c.digest = h.digest()
	}
	h.state = Tracing
	return c
}

func (h *Heap) endCycle(c cycle) {
	h.state = Idle
	pause := time.Since(c.start)
	_, inUse := h.c.usage()
	h.policy.Reset(inUse)
	h.stats.record(c.minor, c.start, pause)
	h.metrics.observe(c.minor, pause)
	h.log.Debug("Collected", "minor", c.minor, "live", FormatSize(inUse), "pause", pause)
	if h.opts.Verify {
		if after := h.digest(); after != c.digest {
			h.log.Error("Heap verification failed", "before", c.digest, "after", after, "minor", c.minor)
			panic("gc: heap verification failed")
		}
	}
}

// runCycle runs fn as one collection.
func (h *Heap) runCycle(minor bool, fn func()) {
	c := h.beginCycle(minor)
	fn()
	h.endCycle(c)
}

// setState moves the collector to the next phase.
func (h *Heap) setState(s State) {
	h.state = s
}

// nextSize returns the size a heap of cur bytes grows to so that at least
// need more bytes fit, doubling when possible. It returns false when the
// maximum heap size does not allow it.
func nextSize(cur, need, max uint64) (uint64, bool) {
	target := cur * 2
	if min := cur + need; target < min {
		target = min
	}
	if target > max {
		target = max
	}
	target -= target % roundTo
	if target < cur+need || target <= cur {
		return cur, false
	}
	return target, true
}

// roundTo is the granularity of region sizes.
const roundTo = 32

func roundRegion(n uint64) uint64 {
	n = (n + roundTo - 1) &^ (roundTo - 1)
	if n < 2*roundTo {
		n = 2 * roundTo
	}
	return n
}
