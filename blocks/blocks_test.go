package blocks

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/object"
)

func newHeap(t *testing.T, size uint64) *Heap {
	t.Helper()
	var a arena.Allocator
	r, err := a.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { r.Release() })
	return New(r)
}

func TestAllocRoundsToBlocks(t *testing.T) {
	h := newHeap(t, 64*BytesPerBlock)
	assert.Equal(t, uint64(64*BytesPerBlock), h.Size())

	a, ok := h.Alloc(24)
	require.True(t, ok)
	b, ok := h.Alloc(40)
	require.True(t, ok)
	assert.Equal(t, uint64(BytesPerBlock), h.Extent(a))
	assert.Equal(t, uint64(2*BytesPerBlock), h.Extent(b))
	assert.True(t, h.IsObject(a))
	assert.True(t, h.IsObject(b))
	assert.False(t, h.IsObject(b+BytesPerBlock))

	objects, used := h.Usage()
	assert.Equal(t, 2, objects)
	assert.Equal(t, uint64(3*BytesPerBlock), used)
}

func TestAllocZeroes(t *testing.T) {
	h := newHeap(t, 8*BytesPerBlock)
	ref, ok := h.Alloc(BytesPerBlock)
	require.True(t, ok)
	h.region.SetWord(ref+8, 99)
	assert.Equal(t, 1, h.Sweep(nil))
	h.BuildFreeRanges()

	again, ok := h.Alloc(8 * BytesPerBlock)
	require.True(t, ok)
	assert.Equal(t, ref, again)
	assert.Equal(t, uint64(0), h.region.Word(again+8))
}

func TestExhaustion(t *testing.T) {
	h := newHeap(t, 4*BytesPerBlock)
	_, ok := h.Alloc(3 * BytesPerBlock)
	require.True(t, ok)
	_, ok = h.Alloc(2 * BytesPerBlock)
	assert.False(t, ok)
	_, ok = h.Alloc(BytesPerBlock)
	assert.True(t, ok)
	_, ok = h.Alloc(1)
	assert.False(t, ok)
}

func TestFindHead(t *testing.T) {
	h := newHeap(t, 64*BytesPerBlock)
	_, _ = h.Alloc(BytesPerBlock)
	big, ok := h.Alloc(20 * BytesPerBlock)
	require.True(t, ok)

	head, ok := h.FindHead(big + 17*BytesPerBlock + 5)
	require.True(t, ok)
	assert.Equal(t, big, head)

	_, ok = h.FindHead(big + 30*BytesPerBlock)
	assert.False(t, ok, "free block")
	_, ok = h.FindHead(h.region.Base() - 8)
	assert.False(t, ok, "outside the heap")
}

func TestSweepFreesUnmarked(t *testing.T) {
	h := newHeap(t, 64*BytesPerBlock)
	var refs []object.Ref
	for i := 0; i < 10; i++ {
		ref, ok := h.Alloc(uint64(i+1) * 16)
		require.True(t, ok)
		refs = append(refs, ref)
	}
	for i, ref := range refs {
		if i%2 == 0 {
			assert.True(t, h.Mark(ref))
			assert.False(t, h.Mark(ref))
			assert.True(t, h.IsMarked(ref))
		}
	}

	var dead []object.Ref
	freed := h.Sweep(func(ref object.Ref) { dead = append(dead, ref) })
	assert.Equal(t, 5, freed)
	assert.Len(t, dead, 5)
	for i, ref := range refs {
		if i%2 == 0 {
			assert.True(t, h.IsObject(ref))
			assert.False(t, h.IsMarked(ref))
		} else {
			assert.False(t, h.IsObject(ref))
			assert.Contains(t, dead, ref)
		}
	}

	var live []object.Ref
	h.ForEachObject(func(ref object.Ref) { live = append(live, ref) })
	assert.Equal(t, []object.Ref{refs[0], refs[2], refs[4], refs[6], refs[8]}, live)

	free := h.BuildFreeRanges()
	_, used := h.Usage()
	assert.Equal(t, h.Size(), free+used)
}

func TestMarkNonObjectPanics(t *testing.T) {
	h := newHeap(t, 8*BytesPerBlock)
	assert.Panics(t, func() { h.Mark(h.region.Base()) })
}

func TestGrowKeepsObjects(t *testing.T) {
	h := newHeap(t, 4*BytesPerBlock)
	ref, ok := h.Alloc(4 * BytesPerBlock)
	require.True(t, ok)
	h.region.SetWord(ref, 1234)
	_, ok = h.Alloc(1)
	require.False(t, ok)

	require.NoError(t, h.Grow(16*BytesPerBlock))
	assert.Equal(t, uint64(1234), h.region.Word(ref))
	assert.True(t, h.IsObject(ref))
	next, ok := h.Alloc(12 * BytesPerBlock)
	require.True(t, ok)
	assert.Equal(t, ref+4*BytesPerBlock, next)
	assert.Error(t, h.Grow(8*BytesPerBlock))
}

func TestFreeRangesReuseSameLength(t *testing.T) {
	h := newHeap(t, 16*BytesPerBlock)
	var refs []object.Ref
	for i := 0; i < 8; i++ {
		ref, ok := h.Alloc(2 * BytesPerBlock)
		require.True(t, ok)
		refs = append(refs, ref)
	}
	// Keep every other object so that four 2-block holes remain.
	for i := 0; i < 8; i += 2 {
		h.Mark(refs[i+1])
	}
	h.Sweep(nil)
	assert.Equal(t, uint64(8*BytesPerBlock), h.BuildFreeRanges())

	var counts bytes.Buffer
	h.FreeRangeCounts(&counts)
	assert.Equal(t, "- 2 x 4\n", counts.String())

	for i := 0; i < 4; i++ {
		_, ok := h.Alloc(2 * BytesPerBlock)
		require.True(t, ok)
	}
	_, ok := h.Alloc(1)
	assert.False(t, ok)
}

func TestDump(t *testing.T) {
	h := newHeap(t, 4*BytesPerBlock)
	ref, _ := h.Alloc(2 * BytesPerBlock)
	h.Mark(ref)
	var buf bytes.Buffer
	h.Dump(&buf)
	assert.Equal(t, "#-..\n", buf.String())
}
