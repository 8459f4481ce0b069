package gc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/bdwgc"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// testNode is {value, next}.
var testNode = layout.WithSlots("TestNode", object.TagInstance, 2, 1)

func newHeap(t *testing.T, kind Kind, mutate func(*Options)) *Heap {
	t.Helper()
	cfg := bdwgc.DefaultConfig()
	cfg.WarnProc = bdwgc.IgnoreWarnProc
	opts := Options{
		Kind:         kind,
		InitHeapSize: 16 << 10,
		Threshold:    8 << 10,
		MaxHeapSize:  4 << 20,
		Verify:       true,
		BDW:          &cfg,
		Fatal: func(err error) {
			t.Logf("fatal: %v", err)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

// forceCollect runs a full collection, also for the conservative collector
// whose Collect leaves timing to the library.
func forceCollect(h *Heap) {
	if h.Kind() == Conservative {
		h.mu.Lock()
		h.c.stress()
		h.mu.Unlock()
		h.runFinalizers()
		return
	}
	h.Collect()
}

// buildList returns a list of n nodes holding n-1 down to 0, allocating
// garbage in between. The head is kept in f.Slots[0].
func buildList(h *Heap, slots []object.Ref, n int) {
	for i := 0; i < n; i++ {
		slots[1] = h.Allocate(16, testNode)
		h.StoreWord(slots[1], 0, uint64(i))
		h.Store(slots[1], 1, slots[0])
		slots[0] = slots[1]
		h.Allocate(200, layout.String)
	}
	slots[1] = object.Nil
}

func checkList(t *testing.T, h *Heap, head object.Ref, n int) {
	t.Helper()
	for i := n - 1; i >= 0; i-- {
		require.NotEqual(t, object.Nil, head, "list ends early at %d", i)
		assert.Equal(t, uint64(i), h.LoadWord(head, 0))
		assert.Same(t, testNode, h.Descriptor(head))
		head = h.Load(head, 1)
	}
	assert.Equal(t, object.Nil, head)
}

func TestReachabilityPreserved(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHeap(t, kind, nil)
			th := h.Roots().NewThread("main")
			f := th.PushFrame("build", 2)
			buildList(h, f.Slots, 300)
			forceCollect(h)
			checkList(t, h, f.Slots[0], 300)

			var ms MemStats
			h.ReadMemStats(&ms)
			assert.NotZero(t, ms.NumGC)
			assert.Equal(t, uint64(600), ms.Mallocs)
			assert.LessOrEqual(t, ms.HeapAlloc, ms.HeapSys)
			assert.Equal(t, ms.LiveAfterGC+8<<10, ms.NextGC)
			assert.Equal(t, Idle, h.State())
		})
	}
}

func TestGlobalsAreRoots(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHeap(t, kind, nil)
			s := h.Allocate(5, layout.String)
			h.WriteBytes(s, 0, []byte("hello"))
			h.SetGlobal("greeting", s)
			for i := 0; i < 500; i++ {
				h.Allocate(100, layout.String)
			}
			forceCollect(h)
			s, ok := h.Global("greeting")
			require.True(t, ok)
			assert.Equal(t, "hello", string(h.ReadBytes(s, 0, 5)))
		})
	}
}

func TestUnreachableReclaimed(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			var seen []uint64
			d := layout.NoPointers("Finalizable/"+kind.String(), object.TagRaw)
			d.Finalizer = func(dead layout.Dead) {
				seen = append(seen, dead.Word(0))
			}
			h := newHeap(t, kind, nil)
			th := h.Roots().NewThread("main")
			f := th.PushFrame("keep", 1)

			for i := 0; i < 10; i++ {
				ref := h.Allocate(8, d)
				h.StoreWord(ref, 0, uint64(i))
				if i == 3 {
					f.Slots[0] = ref
				}
			}
			forceCollect(h)
			assert.ElementsMatch(t, []uint64{0, 1, 2, 4, 5, 6, 7, 8, 9}, seen)
			assert.Equal(t, uint64(3), h.LoadWord(f.Slots[0], 0))

			var ms MemStats
			h.ReadMemStats(&ms)
			assert.GreaterOrEqual(t, ms.Frees, uint64(9))

			seen = nil
			th.PopFrame(f)
			forceCollect(h)
			assert.Equal(t, []uint64{3}, seen)
		})
	}
}

func TestFinalizerCanUseHeap(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHeap(t, kind, nil)
			d := layout.NoPointers("Resurrecting/"+kind.String(), object.TagRaw)
			d.Finalizer = func(dead layout.Dead) {
				s := h.Allocate(8, layout.String)
				h.StoreWord(s, 0, dead.Word(0))
				h.SetGlobal("last", s)
				assert.Equal(t, Idle, h.State())
			}

			ref := h.Allocate(8, d)
			h.StoreWord(ref, 0, 42)
			forceCollect(h)

			s, ok := h.Global("last")
			require.True(t, ok)
			assert.Equal(t, uint64(42), h.LoadWord(s, 0))
		})
	}
}

func TestCollectIsNoOpForConservative(t *testing.T) {
	h := newHeap(t, Conservative, nil)
	h.Collect()
	var ms MemStats
	h.ReadMemStats(&ms)
	assert.Zero(t, ms.NumGC)
}

func TestStressCollectsBeforeEveryAllocation(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHeap(t, kind, func(o *Options) { o.Stress = true })
			th := h.Roots().NewThread("main")
			f := th.PushFrame("build", 2)
			buildList(h, f.Slots, 20)
			checkList(t, h, f.Slots[0], 20)

			var ms MemStats
			h.ReadMemStats(&ms)
			assert.GreaterOrEqual(t, ms.NumGC, uint64(40))
		})
	}
}

func TestEnableStress(t *testing.T) {
	h := newHeap(t, MarkSweep, nil)
	h.EnableStress()
	h.Allocate(8, layout.String)
	h.Allocate(8, layout.String)
	var ms MemStats
	h.ReadMemStats(&ms)
	assert.Equal(t, uint64(2), ms.NumGC)
}

// allocateUntilOOM keeps n-byte nodes alive until the heap gives up.
func allocateUntilOOM(h *Heap, slots []object.Ref, n uint64) (oom *OutOfMemoryError) {
	defer func() {
		if r := recover(); r != nil {
			oom = r.(*OutOfMemoryError)
		}
	}()
	for i := 0; i < 100000; i++ {
		slots[1] = h.Allocate(n, testNode)
		h.Store(slots[1], 1, slots[0])
		slots[0] = slots[1]
	}
	return nil
}

func TestOutOfMemory(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			var fatal error
			h := newHeap(t, kind, func(o *Options) {
				o.MaxHeapSize = 256 << 10
				o.Fatal = func(err error) { fatal = err }
			})
			th := h.Roots().NewThread("main")
			f := th.PushFrame("hog", 2)

			oom := allocateUntilOOM(h, f.Slots, 1024)
			require.NotNil(t, oom)
			assert.Contains(t, oom.Error(), "out of memory")
			assert.Equal(t, uint64(1024), oom.Requested)
			assert.Equal(t, kind, oom.Kind)

			require.Error(t, fatal)
			var target *OutOfMemoryError
			require.True(t, errors.As(fatal, &target))
			assert.Contains(t, errors.GetAllHints(fatal), "raise --max-heap-size or reduce the live data")

			// The heap is still consistent.
			assert.Equal(t, Idle, h.State())
			assert.NotEqual(t, object.Nil, h.Load(f.Slots[0], 1))
		})
	}
}

func TestOversizedAllocation(t *testing.T) {
	h := newHeap(t, Copying, nil)
	assert.Panics(t, func() { h.Allocate(8<<20, layout.String) })
	assert.Panics(t, func() { h.Allocate(^uint64(0), layout.String) })
}

func TestContractViolations(t *testing.T) {
	h := newHeap(t, MarkSweep, nil)
	th := h.Roots().NewThread("main")
	f := th.PushFrame("f", 2)
	f.Slots[0] = h.Allocate(16, testNode)
	f.Slots[1] = h.Allocate(8, layout.String)

	assert.Panics(t, func() { h.Allocate(8, nil) }, "no descriptor")
	assert.Panics(t, func() { h.Allocate(8, &layout.Descriptor{}) }, "unregistered descriptor")
	assert.Panics(t, func() { h.Store(f.Slots[0], 0, f.Slots[1]) }, "reference into a data word")
	assert.Panics(t, func() { h.StoreWord(f.Slots[0], 1, 5) }, "data into a reference slot")
	assert.Panics(t, func() { h.Store(f.Slots[0], 2, f.Slots[1]) }, "field out of range")
	assert.Panics(t, func() { h.Store(f.Slots[0], 1, 0xdead) }, "not a heap object")
	assert.Panics(t, func() { h.WriteBytes(f.Slots[0], 0, []byte("x")) }, "bytes into an object with references")
	assert.Panics(t, func() { h.ReadBytes(f.Slots[1], 0, 9) }, "bytes out of range")
	assert.Panics(t, func() { h.SetGlobal("bad", 0xdead) })
	assert.Panics(t, func() { h.Header(0xdead) })

	h.state = Tracing
	assert.Panics(t, func() { h.Allocate(8, layout.String) }, "allocation during a collection")
	assert.Panics(t, func() { h.Collect() }, "re-entrant collection")
	h.state = Idle
}

func TestHeaderAges(t *testing.T) {
	h := newHeap(t, Generational, func(o *Options) { o.TenureAge = 3 })
	th := h.Roots().NewThread("main")
	f := th.PushFrame("f", 1)
	f.Slots[0] = h.Allocate(8, layout.String)
	assert.Equal(t, uint8(0), h.Header(f.Slots[0]).Age)
	minor(h)
	assert.Equal(t, uint8(1), h.Header(f.Slots[0]).Age)
	minor(h)
	assert.Equal(t, uint8(2), h.Header(f.Slots[0]).Age)
	assert.Equal(t, uint64(32), h.Header(f.Slots[0]).Size)
}

func TestReadGCStats(t *testing.T) {
	h := newHeap(t, Copying, nil)
	var stats GCStats
	h.ReadGCStats(&stats)
	assert.Zero(t, stats.NumGC)
	assert.Empty(t, stats.Pause)

	for i := 0; i < pauseHistory+5; i++ {
		h.Collect()
	}
	h.ReadGCStats(&stats)
	assert.Equal(t, int64(pauseHistory+5), stats.NumGC)
	assert.Len(t, stats.Pause, pauseHistory)
	assert.False(t, stats.LastGC.IsZero())
	var sum int64
	for _, p := range stats.Pause {
		sum += int64(p)
	}
	assert.LessOrEqual(t, sum, int64(stats.PauseTotal))
}

func TestDigestIgnoresAddresses(t *testing.T) {
	h := newHeap(t, Copying, func(o *Options) { o.Verify = false })
	th := h.Roots().NewThread("main")
	f := th.PushFrame("f", 2)
	buildList(h, f.Slots, 10)

	before := h.digest()
	head := f.Slots[0]
	h.Collect()
	assert.NotEqual(t, head, f.Slots[0], "copying moved the list")
	assert.Equal(t, before, h.digest())

	h.StoreWord(f.Slots[0], 0, 42)
	assert.NotEqual(t, before, h.digest())
}
