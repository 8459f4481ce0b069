package blocks

import (
	"fmt"
	"io"

	"github.com/yoglang/yoggc/object"
)

// The free ranges are structured as two nested singly-linked lists, stored in
// the free blocks themselves:
//   - The outer level (freeRange) has one entry for each unique range length.
//   - The inner level (freeRangeMore) has one entry for each additional range
//     of the same length.
//
// This keeps insertion and removal times proportional to the requested
// length.
//
// freeRange node: {len, nextLen, nextWithLen}
// freeRangeMore node: {next}
const (
	rangeLen         = 0
	rangeNextLen     = object.WordSize
	rangeNextWithLen = 2 * object.WordSize
)

// listHead is the link that refers to Heap.freeRanges instead of a word in
// the region.
const listHead = object.Nil

func (h *Heap) loadLink(link object.Ref) object.Ref {
	if link == listHead {
		return h.freeRanges
	}
	return object.Ref(h.region.Word(link))
}

func (h *Heap) storeLink(link, v object.Ref) {
	if link == listHead {
		h.freeRanges = v
		return
	}
	h.region.SetWord(link, uint64(v))
}

// insertFreeRange inserts a range of n blocks starting at ptr into the free list.
func (h *Heap) insertFreeRange(ptr object.Ref, n uint64) {
	if n == 0 {
		panic("blocks: insert 0-length free range")
	}

	// Skip until the next range is at least the target length.
	insDst := listHead
	for next := h.loadLink(insDst); next != object.Nil && h.region.Word(next+rangeLen) < n; next = h.loadLink(insDst) {
		insDst = next + rangeNextLen
	}

	next := h.loadLink(insDst)
	if next != object.Nil && h.region.Word(next+rangeLen) == n {
		// Insert into the list with this length.
		h.region.SetWord(ptr, h.region.Word(next+rangeNextWithLen))
		h.region.SetWord(next+rangeNextWithLen, uint64(ptr))
	} else {
		// Insert into the list of lengths.
		h.region.SetWord(ptr+rangeLen, n)
		h.region.SetWord(ptr+rangeNextLen, uint64(next))
		h.region.SetWord(ptr+rangeNextWithLen, 0)
		h.storeLink(insDst, ptr)
	}
}

// popFreeRange removes a range of n blocks from the free list.
// It returns object.Nil if there are no sufficiently long ranges.
func (h *Heap) popFreeRange(n uint64) object.Ref {
	if n == 0 {
		panic("blocks: pop 0-length free range")
	}

	remDst := listHead
	for next := h.loadLink(remDst); next != object.Nil && h.region.Word(next+rangeLen) < n; next = h.loadLink(remDst) {
		remDst = next + rangeNextLen
	}

	rangeWithLength := h.loadLink(remDst)
	if rangeWithLength == object.Nil {
		return object.Nil
	}
	removedLen := h.region.Word(rangeWithLength + rangeLen)

	var ptr object.Ref
	if nextWithLen := object.Ref(h.region.Word(rangeWithLength + rangeNextWithLen)); nextWithLen != object.Nil {
		// Remove from the list with this length.
		h.region.SetWord(rangeWithLength+rangeNextWithLen, h.region.Word(nextWithLen))
		ptr = nextWithLen
	} else {
		// Remove from the list of lengths.
		h.storeLink(remDst, object.Ref(h.region.Word(rangeWithLength+rangeNextLen)))
		ptr = rangeWithLength
	}

	if removedLen > n {
		// Insert the leftover range.
		h.insertFreeRange(ptr+object.Ref(n*BytesPerBlock), removedLen-n)
	}
	return ptr
}

// BuildFreeRanges rebuilds the free range list. It must be called after a
// sweep or a grow, and returns how many bytes are free in the heap.
func (h *Heap) BuildFreeRanges() uint64 {
	h.freeRanges = object.Nil
	b := h.endBlock
	var totalBlocks uint64
	for {
		// Skip backwards over occupied blocks.
		for b > 0 && h.state(b-1) != blockStateFree {
			b--
		}
		if b == 0 {
			break
		}

		// Find the start of the free range.
		end := b
		for b > 0 && h.state(b-1) == blockStateFree {
			b--
		}

		n := uint64(end - b)
		totalBlocks += n
		h.insertFreeRange(h.address(b), n)
	}
	return totalBlocks * BytesPerBlock
}

// FreeRangeCounts writes one line per distinct free range length, with the
// number of ranges of that length.
func (h *Heap) FreeRangeCounts(w io.Writer) {
	for r := h.freeRanges; r != object.Nil; r = object.Ref(h.region.Word(r + rangeNextLen)) {
		total := 1
		for more := object.Ref(h.region.Word(r + rangeNextWithLen)); more != object.Nil; more = object.Ref(h.region.Word(more)) {
			total++
		}
		fmt.Fprintf(w, "- %d x %d\n", h.region.Word(r+rangeLen), total)
	}
}
