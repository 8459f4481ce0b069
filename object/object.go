// Package object defines the representation shared by every collector: heap
// addresses, the object header and the runtime type tags.
//
// Every heap object starts with a header of three words:
//
//	word 0: meta      descriptor id (bits 0-31), flags (32-39), age (40-47)
//	word 1: size      total size in bytes, header included, multiple of 8
//	word 2: forward   forwarding address, valid when FlagForwarded is set
//
// The payload follows the header. Field i of an object lives at
// ref + HeaderSize + WordSize*i.
package object

import "fmt"

const (
	WordSize   = 8
	HeaderSize = 3 * WordSize
)

// Ref is the address of a heap object. Regions own disjoint address ranges,
// so an object that is relocated gets a different Ref.
type Ref uint64

// Nil is the null reference.
const Nil Ref = 0

func (r Ref) String() string {
	if r == Nil {
		return "nil"
	}
	return fmt.Sprintf("%#x", uint64(r))
}

// Field returns the address of payload word i.
func (r Ref) Field(i int) Ref {
	return r + HeaderSize + Ref(i)*WordSize
}

// Payload returns the address of the first payload word.
func (r Ref) Payload() Ref {
	return r + HeaderSize
}

// Flags are the collector bits stored in the header.
type Flags uint8

const (
	FlagMarked Flags = 1 << iota
	FlagForwarded
	FlagRemembered
)

func (f Flags) String() string {
	s := ""
	if f&FlagMarked != 0 {
		s += "M"
	}
	if f&FlagForwarded != 0 {
		s += "F"
	}
	if f&FlagRemembered != 0 {
		s += "R"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Header is the decoded form of an object header.
type Header struct {
	Desc    uint32
	Flags   Flags
	Age     uint8
	Size    uint64
	Forward Ref
}

// Meta encodes the first header word.
func (h Header) Meta() uint64 {
	return uint64(h.Desc) | uint64(h.Flags)<<32 | uint64(h.Age)<<40
}

// DecodeMeta splits the first header word into its fields.
func DecodeMeta(meta uint64) (desc uint32, flags Flags, age uint8) {
	return uint32(meta), Flags(meta >> 32), uint8(meta >> 40)
}

// PayloadSize returns the number of payload bytes of the object.
func (h Header) PayloadSize() uint64 {
	return h.Size - HeaderSize
}

// PayloadWords returns the number of payload words of the object.
func (h Header) PayloadWords() int {
	return int(h.PayloadSize() / WordSize)
}

// AlignWord rounds size up to a multiple of WordSize. The second result is
// false when the rounding overflowed.
func AlignWord(size uint64) (uint64, bool) {
	rounded := (size + WordSize - 1) &^ (WordSize - 1)
	return rounded, rounded >= size
}

// ObjectSize returns the total size of an object with the given payload,
// header included.
func ObjectSize(payload uint64) (uint64, bool) {
	rounded, ok := AlignWord(payload)
	if !ok || rounded+HeaderSize < rounded {
		return 0, false
	}
	return rounded + HeaderSize, true
}
