// Package blocks implements a non-moving heap of fixed size blocks.
//
// This heap is a textbook mark/sweep design, heavily inspired by the
// MicroPython garbage collector.
//
// The heap internally uses blocks of 4 words (see BytesPerBlock). Every
// allocation rounds up to this size. Allocation first tries to find a chain of
// free blocks that is big enough. If it finds one, it marks the first block as
// the "head" and the following ones (if any) as the "tail". If there is no
// such chain, the owner of the heap must collect or grow it.
//
// Every block has some metadata: the four states are "free", "head", "tail"
// and "mark". Outside a collection there are no marked blocks. Every object
// starts with a head and is followed by tail blocks, so the start and the end
// of every object can be found easily, also from an interior address.
//
// Unlike the memory layout this design comes from, the block states are kept
// in a Go slice rather than at the end of the region, so that the region can
// grow in place.
package blocks

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/object"
)

const (
	WordsPerBlock      = 4 // number of words in a block
	BytesPerBlock      = WordsPerBlock * object.WordSize
	stateBits          = 2 // how many bits a block state takes (see blockState type)
	blocksPerStateByte = 8 / stateBits
)

// blockState stores the four states in which a block can be.
// It holds 1 bit in each nibble.
// When stored into a state byte, each bit in a nibble corresponds to a different block.
// For blocks A-D, a state byte would be laid out as 0bDCBA_DCBA.
type blockState uint8

const (
	blockStateLow  blockState = 1
	blockStateHigh blockState = 1 << blocksPerStateByte

	blockStateFree blockState = 0
	blockStateHead blockState = blockStateLow
	blockStateTail blockState = blockStateHigh
	blockStateMark blockState = blockStateLow | blockStateHigh
	blockStateMask blockState = blockStateLow | blockStateHigh
)

// blockStateEach is a mask that can be used to extract a nibble from the block state.
const blockStateEach = 1<<blocksPerStateByte - 1

// The byte value of a block where every block is a 'tail' block.
const blockStateByteAllTails = byte(blockStateTail) * blockStateEach

func (s blockState) String() string {
	switch s {
	case blockStateFree:
		return "free"
	case blockStateHead:
		return "head"
	case blockStateTail:
		return "tail"
	case blockStateMark:
		return "mark"
	default:
		// must never happen
		return "!err"
	}
}

// block is the block number in the heap.
type block uint64

// Heap is a block heap over one arena region.
type Heap struct {
	region     *arena.Region
	states     []byte
	endBlock   block      // the block just past the end of the available space
	freeRanges object.Ref // head of the free range list, stored in the free blocks
}

// New creates a heap covering the whole region. Every block starts free.
func New(region *arena.Region) *Heap {
	h := &Heap{region: region}
	h.calculateBlocks()
	h.BuildFreeRanges()
	return h
}

func (h *Heap) calculateBlocks() {
	h.endBlock = block(h.region.Size() / BytesPerBlock)
	need := int((h.endBlock + blocksPerStateByte - 1) / blocksPerStateByte)
	if need > len(h.states) {
		// New states are zero, which is the free state.
		h.states = append(h.states, make([]byte, need-len(h.states))...)
	}
}

// Region returns the region backing the heap.
func (h *Heap) Region() *arena.Region { return h.region }

// Size returns the usable size of the heap in bytes.
func (h *Heap) Size() uint64 { return uint64(h.endBlock) * BytesPerBlock }

// Contains reports whether addr lies inside the block area of the heap.
func (h *Heap) Contains(addr object.Ref) bool {
	return addr >= h.region.Base() && addr < h.region.Base()+object.Ref(h.Size())
}

// blockFromAddr returns a block given an address somewhere in the heap (which
// might not be block-aligned).
func (h *Heap) blockFromAddr(addr object.Ref) block {
	if !h.Contains(addr) {
		panic(fmt.Sprintf("blocks: trying to get block from invalid address %v", addr))
	}
	return block(uint64(addr-h.region.Base()) / BytesPerBlock)
}

// address returns the address of the start of the block.
func (h *Heap) address(b block) object.Ref {
	return h.region.Base() + object.Ref(uint64(b)*BytesPerBlock)
}

func (h *Heap) stateByte(b block) byte {
	return h.states[b/blocksPerStateByte]
}

// stateFromByte returns the block state given a state byte. The state byte
// must have been obtained using stateByte, otherwise the result is incorrect.
func (b block) stateFromByte(stateByte byte) blockState {
	return blockState(stateByte>>(b%blocksPerStateByte)) & blockStateMask
}

func (h *Heap) state(b block) blockState {
	return b.stateFromByte(h.stateByte(b))
}

// setState sets the block to the given state, which must contain more bits
// than the current state. Allowed transitions: from free to any state and
// from head to mark.
func (h *Heap) setState(b block, newState blockState) {
	h.states[b/blocksPerStateByte] |= uint8(newState << (b % blocksPerStateByte))
}

// findHead returns the head (first block) of an object, assuming the block
// points to an allocated object. It returns the same block if this block
// already points to the head.
func (h *Heap) findHead(b block) block {
	for {
		// Skip back over state bytes that hold nothing but tails, which
		// speeds up pointers into large objects.
		stateByte := h.stateByte(b)
		if stateByte == blockStateByteAllTails {
			b -= (b % blocksPerStateByte) + 1
			continue
		}
		if b.stateFromByte(stateByte) != blockStateTail {
			break
		}
		b--
	}
	if s := h.state(b); s != blockStateHead && s != blockStateMark {
		panic("blocks: found tail without head")
	}
	return b
}

// findNext returns the first block just past the end of the tail. This may or
// may not be the head of an object.
func (h *Heap) findNext(b block) block {
	if s := h.state(b); s == blockStateHead || s == blockStateMark {
		b++
	}
	for b < h.endBlock && h.state(b) == blockStateTail {
		b++
	}
	return b
}

// Alloc claims a zeroed range of blocks of at least size bytes. It returns
// false when no free range is long enough; the owner then collects or grows
// the heap.
func (h *Heap) Alloc(size uint64) (object.Ref, bool) {
	if size == 0 {
		size = 1
	}
	needed := (size + BytesPerBlock - 1) / BytesPerBlock
	if needed == 0 || needed > uint64(h.endBlock) {
		return object.Nil, false
	}
	ptr := h.popFreeRange(needed)
	if ptr == object.Nil {
		return object.Nil, false
	}
	b := h.blockFromAddr(ptr)
	h.setState(b, blockStateHead)
	for i := b + 1; i != b+block(needed); i++ {
		h.setState(i, blockStateTail)
	}
	h.region.Zero(ptr, needed*BytesPerBlock)
	return ptr, true
}

// Grow enlarges the heap to newSize bytes. It must not be called while
// objects are marked.
func (h *Heap) Grow(newSize uint64) error {
	newSize -= newSize % BytesPerBlock
	if newSize <= h.Size() {
		return errors.Newf("blocks: grow to %d does not enlarge heap of %d bytes", newSize, h.Size())
	}
	if err := h.region.Grow(newSize); err != nil {
		return err
	}
	h.calculateBlocks()
	h.BuildFreeRanges()
	return nil
}

// FindHead returns the object containing addr. The second result is false
// when addr is outside the heap or points into a free block, which for a
// conservative scan is most likely a false positive.
func (h *Heap) FindHead(addr object.Ref) (object.Ref, bool) {
	if !h.Contains(addr) {
		return object.Nil, false
	}
	b := h.blockFromAddr(addr)
	if h.state(b) == blockStateFree {
		return object.Nil, false
	}
	return h.address(h.findHead(b)), true
}

// IsObject reports whether ref is the start of an allocated object.
func (h *Heap) IsObject(ref object.Ref) bool {
	if !h.Contains(ref) || (uint64(ref-h.region.Base()))%BytesPerBlock != 0 {
		return false
	}
	s := h.state(h.blockFromAddr(ref))
	return s == blockStateHead || s == blockStateMark
}

// Extent returns the number of bytes occupied by the object at ref, which
// is its size rounded up to whole blocks.
func (h *Heap) Extent(ref object.Ref) uint64 {
	b := h.blockFromAddr(ref)
	return uint64(h.findNext(b)-b) * BytesPerBlock
}

// Mark marks the object starting at ref. It reports whether the object was
// unmarked before.
func (h *Heap) Mark(ref object.Ref) bool {
	b := h.blockFromAddr(ref)
	switch h.state(b) {
	case blockStateHead:
		h.setState(b, blockStateMark)
		return true
	case blockStateMark:
		return false
	default:
		panic(fmt.Sprintf("blocks: mark of %v which is not an object", ref))
	}
}

// IsMarked reports whether the object starting at ref is marked.
func (h *Heap) IsMarked(ref object.Ref) bool {
	return h.state(h.blockFromAddr(ref)) == blockStateMark
}

// ForEachObject calls fn with every allocated object, in address order.
func (h *Heap) ForEachObject(fn func(ref object.Ref)) {
	for b := block(0); b < h.endBlock; b++ {
		if s := h.state(b); s == blockStateHead || s == blockStateMark {
			fn(h.address(b))
		}
	}
}

// Sweep frees all unmarked objects and unmarks marked objects for the next
// collection cycle. dead, if not nil, is called with every object that is
// about to be freed. It returns the number of freed objects. The free range
// list must be rebuilt afterwards.
func (h *Heap) Sweep(dead func(ref object.Ref)) (freed int) {
	for i, stateByte := range h.states {
		unmarkedHeads := stateByte & blockStateEach &^ (stateByte >> blocksPerStateByte)
		for unmarkedHeads != 0 {
			n := bits.TrailingZeros8(unmarkedHeads)
			unmarkedHeads &^= 1 << n
			freed++
			if dead != nil {
				dead(h.address(block(i*blocksPerStateByte + n)))
			}
		}
	}

	var carry byte
	for i, stateByte := range h.states {
		// Split the nibbles. Each nibble is a mask of blocks.
		high := stateByte >> blocksPerStateByte
		low := stateByte & blockStateEach
		// Marked heads are in both nibbles.
		markedHeads := low & high
		// Unmarked heads are in the low nibble but not the high nibble.
		unmarkedHeads := low &^ high
		// Tails are in the high nibble but not the low nibble.
		tails := high &^ low

		// Clear all tail runs after unmarked (freed) heads.
		//
		// Adding 1 to the start of a bit run clears the run and sets the
		// next bit: (2^k - 1) + 1 = 2^k. The bitwise-and with the original
		// mask clears the newly set bit again, and a gap in the run stops
		// the carry:
		//   (0b0011 + 1) & 0b0011 = 0b0000
		//   (0b1011 + 1) & 0b1011 = 0b1000
		// One addition clears several runs:
		//   (0b1101 + 0b0101) & 0b1101 = 0b0000
		// A head is never a tail, so adding unmarkedHeads<<1 without masking
		// it against the tails is fine: the missing tail bit stops the carry.
		// The whole heap is a single pair of integer masks, the overflow of
		// one state byte is carried into the next.
		tailClear := tails + (unmarkedHeads << 1) + carry
		carry = tailClear >> blocksPerStateByte
		tails &= tailClear

		h.states[i] = markedHeads | (tails << blocksPerStateByte)
	}
	return freed
}

// Usage counts the live objects and the bytes they occupy. Outside a
// collection nothing is marked, so a bit in the low nibble implies a head
// and a bit in the high nibble implies a tail.
func (h *Heap) Usage() (objects int, used uint64) {
	var heads, tails int
	for _, stateByte := range h.states {
		low := stateByte & blockStateEach
		high := stateByte >> blocksPerStateByte
		heads += bits.OnesCount8(low)
		tails += bits.OnesCount8(high &^ low)
	}
	return heads, uint64(heads+tails) * BytesPerBlock
}

// Dump writes the state of each heap block to w, 64 blocks per line.
func (h *Heap) Dump(w io.Writer) {
	line := make([]byte, 0, 65)
	for b := block(0); b < h.endBlock; b++ {
		switch h.state(b) {
		case blockStateHead:
			line = append(line, '*')
		case blockStateTail:
			line = append(line, '-')
		case blockStateMark:
			line = append(line, '#')
		default: // free
			line = append(line, '.')
		}
		if b%64 == 63 || b+1 == h.endBlock {
			line = append(line, '\n')
			w.Write(line)
			line = line[:0]
		}
	}
}
