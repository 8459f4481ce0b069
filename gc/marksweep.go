package gc

import (
	"bytes"
	"context"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/blocks"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/log"
	"github.com/yoglang/yoggc/object"
)

// markSweep is a non-moving collector over a block heap. It collects when
// the threshold of allocated bytes is reached or when no free range is long
// enough, and grows the heap when less than a third is free after a sweep.
type markSweep struct {
	h     *Heap
	heap  *blocks.Heap
	stack []object.Ref
}

func newMarkSweep(h *Heap) (*markSweep, error) {
	region, err := h.arenas.New(roundRegion(h.opts.InitHeapSize))
	if err != nil {
		return nil, err
	}
	return &markSweep{h: h, heap: blocks.New(region)}, nil
}

func (m *markSweep) alloc(size uint64, d *layout.Descriptor) object.Ref {
	if m.h.policy.Due() {
		m.collect()
	}
	ranGC := false
	for {
		if ref, ok := m.heap.Alloc(size); ok {
			initObject(m.heap.Region(), ref, size, d)
			return ref
		}
		if !ranGC {
			m.collect()
			ranGC = true
			continue
		}
		if !growBlocks(m.h, m.heap, size) {
			return object.Nil
		}
	}
}

func (m *markSweep) stress() { m.collect() }

func (m *markSweep) collect() {
	var free uint64
	m.h.runCycle(false, func() {
		m.h.roots.ForEachRoot(func(slot *object.Ref) { m.mark(*slot) })
		m.drain()
		m.h.setState(Sweeping)
		m.heap.Sweep(func(ref object.Ref) { m.h.reclaim(m.heap.Region(), ref) })
		free = m.heap.BuildFreeRanges()
	})
	if free < m.heap.Size()/3 {
		// Ensure there is at least 33% headroom.
		growBlocks(m.h, m.heap, m.heap.Size()/3-free)
	}
}

func (m *markSweep) mark(ref object.Ref) {
	if ref == object.Nil {
		return
	}
	if m.heap.Mark(ref) {
		m.stack = append(m.stack, ref)
	}
}

// drain scans marked objects until the mark stack is empty.
func (m *markSweep) drain() {
	r := m.heap.Region()
	for len(m.stack) > 0 {
		ref := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		m.h.forEachSlot(r, ref, func(slot object.Ref) {
			m.mark(object.Ref(r.Word(slot)))
		})
	}
}

// growBlocks grows a block heap so that need more bytes fit. It reports
// whether the heap grew.
func growBlocks(h *Heap, heap *blocks.Heap, need uint64) bool {
	size, ok := nextSize(heap.Size(), need, h.opts.MaxHeapSize)
	if !ok {
		return false
	}
	from := heap.Size()
	if err := heap.Grow(size); err != nil {
		h.log.Error("Cannot grow heap", "size", size, "err", err)
		return false
	}
	h.log.Info("Grew heap", "from", FormatSize(from), "to", FormatSize(size))
	if h.log.Enabled(context.Background(), log.LevelTrace) {
		var counts bytes.Buffer
		heap.FreeRangeCounts(&counts)
		h.log.Trace("Free ranges after grow", "ranges", counts.String())
	}
	return true
}

func (m *markSweep) regionOf(ref object.Ref) *arena.Region {
	if m.heap.IsObject(ref) {
		return m.heap.Region()
	}
	return nil
}

func (m *markSweep) usage() (sys, inUse uint64) {
	_, used := m.heap.Usage()
	return m.heap.Size(), used
}

func (m *markSweep) release() {
	m.heap.Region().Release()
}
