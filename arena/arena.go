// Package arena provides the backing storage of the heap regions.
//
// A Region is a contiguous range of virtual heap addresses backed by real
// memory. Addresses are object.Ref values; the region translates them to
// offsets in its backing memory. Growing a region keeps its base address, so
// non-moving heaps can grow without relocating objects.
package arena

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/yoglang/yoggc/object"
)

// Spacing is the distance between the bases of two regions handed out by
// the same Allocator. It is also the maximum size of a region.
const Spacing = 1 << 32

// PoisonByte is written over reclaimed memory so that stale references read
// recognizably bad data.
const PoisonByte = 0xfd

// Allocator hands out disjoint base addresses.
// The zero value is ready to use.
type Allocator struct {
	next uint64
}

// New creates a region of the given size at a fresh base address.
func (a *Allocator) New(size uint64) (*Region, error) {
	if size == 0 || size > Spacing || size%object.WordSize != 0 {
		return nil, errors.Newf("arena: invalid region size %d", size)
	}
	a.next++
	base := object.Ref(a.next * Spacing)
	mem, release, err := mapMemory(size)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: cannot map %d bytes", size)
	}
	return &Region{base: base, mem: mem, release: release}, nil
}

// Region is a range of heap addresses [Base, End).
type Region struct {
	base    object.Ref
	mem     []byte
	release func() error
}

func (r *Region) Base() object.Ref { return r.base }
func (r *Region) End() object.Ref  { return r.base + object.Ref(len(r.mem)) }
func (r *Region) Size() uint64     { return uint64(len(r.mem)) }

// Contains reports whether addr points inside the region.
func (r *Region) Contains(addr object.Ref) bool {
	return addr >= r.base && addr < r.End()
}

func (r *Region) offset(addr object.Ref, n uint64) uint64 {
	off := uint64(addr - r.base)
	if addr < r.base || off+n > uint64(len(r.mem)) || off+n < off {
		panic(fmt.Sprintf("arena: access to %v+%d outside region %v-%v", addr, n, r.base, r.End()))
	}
	return off
}

// Word reads the word at addr.
func (r *Region) Word(addr object.Ref) uint64 {
	off := r.offset(addr, object.WordSize)
	return binary.LittleEndian.Uint64(r.mem[off:])
}

// SetWord writes the word at addr.
func (r *Region) SetWord(addr object.Ref, v uint64) {
	off := r.offset(addr, object.WordSize)
	binary.LittleEndian.PutUint64(r.mem[off:], v)
}

// Bytes returns a view of n bytes at addr. The view is only valid until the
// region is grown or released.
func (r *Region) Bytes(addr object.Ref, n uint64) []byte {
	off := r.offset(addr, n)
	return r.mem[off : off+n : off+n]
}

// Zero clears n bytes at addr.
func (r *Region) Zero(addr object.Ref, n uint64) {
	clear(r.Bytes(addr, n))
}

// Poison fills n bytes at addr with PoisonByte.
func (r *Region) Poison(addr object.Ref, n uint64) {
	b := r.Bytes(addr, n)
	for i := range b {
		b[i] = PoisonByte
	}
}

// Move copies n bytes from src to dst inside this region. The ranges may
// overlap.
func (r *Region) Move(dst, src object.Ref, n uint64) {
	copy(r.Bytes(dst, n), r.Bytes(src, n))
}

// CopyFrom copies n bytes at src in another region to dst in this region.
func (r *Region) CopyFrom(dst object.Ref, from *Region, src object.Ref, n uint64) {
	copy(r.Bytes(dst, n), from.Bytes(src, n))
}

// Header decodes the object header at ref.
func (r *Region) Header(ref object.Ref) object.Header {
	desc, flags, age := object.DecodeMeta(r.Word(ref))
	return object.Header{
		Desc:    desc,
		Flags:   flags,
		Age:     age,
		Size:    r.Word(ref + object.WordSize),
		Forward: object.Ref(r.Word(ref + 2*object.WordSize)),
	}
}

// SetHeader encodes h at ref.
func (r *Region) SetHeader(ref object.Ref, h object.Header) {
	r.SetWord(ref, h.Meta())
	r.SetWord(ref+object.WordSize, h.Size)
	r.SetWord(ref+2*object.WordSize, uint64(h.Forward))
}

// SetFlags replaces the flag bits of the header at ref.
func (r *Region) SetFlags(ref object.Ref, flags object.Flags) {
	desc, _, age := object.DecodeMeta(r.Word(ref))
	r.SetWord(ref, object.Header{Desc: desc, Flags: flags, Age: age}.Meta())
}

// Grow enlarges the region to newSize bytes, keeping its base address and
// contents. The new memory is zeroed.
func (r *Region) Grow(newSize uint64) error {
	if newSize <= r.Size() {
		return errors.Newf("arena: grow to %d does not enlarge region of %d bytes", newSize, r.Size())
	}
	if newSize > Spacing || newSize%object.WordSize != 0 {
		return errors.Newf("arena: invalid region size %d", newSize)
	}
	mem, release, err := mapMemory(newSize)
	if err != nil {
		return errors.Wrapf(err, "arena: cannot map %d bytes", newSize)
	}
	copy(mem, r.mem)
	if err := r.release(); err != nil {
		return err
	}
	r.mem, r.release = mem, release
	return nil
}

// Release returns the backing memory. The region must not be used anymore.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}
	err := r.release()
	r.mem, r.release = nil, nil
	return err
}

// Set is a small collection of regions used to find the region owning an
// address.
type Set []*Region

// Lookup returns the region containing addr, or nil.
func (s Set) Lookup(addr object.Ref) *Region {
	for _, r := range s {
		if r != nil && r.Contains(addr) {
			return r
		}
	}
	return nil
}
