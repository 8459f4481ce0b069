// Package layout describes where the references are inside heap objects.
//
// Every allocation carries a Descriptor. The pointer information is a bitstring
// of a particular length in words. This length does not indicate the size of
// the object: instead the object is scanned as a repetition of the bitstring,
// so arrays of references need only one bit. The bit is set when the word
// holds a reference and cleared when it certainly doesn't.
//
// | object     | words | bitstring | note
// |------------|-------|-----------|------
// | String     | 0     |           | no references
// | ValueArray | 1     |         1 | every word is a reference
// | Array      | 2     |        10 | {len, items}
// | Closure    | 3     |       110 | {code, env, self}, bits are little endian
//
// Descriptors are program-global: they are registered when they are created
// and the object header stores the registry id.
package layout

import (
	"fmt"
	"sync"

	"github.com/yoglang/yoggc/object"
)

// Dead is a read-only snapshot of an object that is being reclaimed.
type Dead struct {
	Ref   object.Ref
	Words []uint64
}

// Word returns payload word i of the dead object.
func (d Dead) Word(i int) uint64 {
	return d.Words[i]
}

// Descriptor is the type descriptor of a heap object.
type Descriptor struct {
	Name string
	Tag  object.Tag

	// Words is the length of the pointer bitstring. Zero means the object
	// is pointer free.
	Words int

	// Bits holds the bitstring, least significant bit first.
	Bits []byte

	// Finalizer, if set, is called when an object of this type is found
	// unreachable. It runs after the collection, outside the heap lock.
	Finalizer func(Dead)

	id uint32
}

var registry struct {
	sync.Mutex
	descs []*Descriptor
}

func register(d *Descriptor) *Descriptor {
	registry.Lock()
	defer registry.Unlock()
	// id 0 is never handed out so that a zeroed header is recognizably bad.
	if len(registry.descs) == 0 {
		registry.descs = append(registry.descs, nil)
	}
	d.id = uint32(len(registry.descs))
	registry.descs = append(registry.descs, d)
	return d
}

// Lookup returns the descriptor with the given registry id, or nil.
func Lookup(id uint32) *Descriptor {
	registry.Lock()
	defer registry.Unlock()
	if id == 0 || int(id) >= len(registry.descs) {
		return nil
	}
	return registry.descs[id]
}

// ID returns the registry id stored in object headers.
func (d *Descriptor) ID() uint32 {
	return d.id
}

// NoPointers creates a descriptor for objects without references.
func NoPointers(name string, tag object.Tag) *Descriptor {
	return register(&Descriptor{Name: name, Tag: tag})
}

// AllPointers creates a descriptor for objects where every word is a
// reference.
func AllPointers(name string, tag object.Tag) *Descriptor {
	return register(&Descriptor{Name: name, Tag: tag, Words: 1, Bits: []byte{1}})
}

// WithSlots creates a descriptor with a bitstring of the given length where
// the listed words are references.
func WithSlots(name string, tag object.Tag, words int, slots ...int) *Descriptor {
	if words <= 0 {
		panic("layout: bitstring length must be positive")
	}
	bits := make([]byte, (words+7)/8)
	for _, s := range slots {
		if s < 0 || s >= words {
			panic(fmt.Sprintf("layout: slot %d out of range for %s", s, name))
		}
		bits[s/8] |= 1 << (s % 8)
	}
	return register(&Descriptor{Name: name, Tag: tag, Words: words, Bits: bits})
}

// PointerFree reports whether objects of this type never hold references.
func (d *Descriptor) PointerFree() bool {
	if d.Words == 0 {
		return true
	}
	for _, b := range d.Bits {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsSlot reports whether payload word i holds a reference.
func (d *Descriptor) IsSlot(i int) bool {
	if d.Words == 0 || i < 0 {
		return false
	}
	bit := i % d.Words
	return d.Bits[bit/8]&(1<<(bit%8)) != 0
}

// ScannedWords returns how many of payloadWords are covered by whole
// repetitions of the bitstring. Words past that are never scanned.
func (d *Descriptor) ScannedWords(payloadWords int) int {
	if d.Words == 0 {
		return 0
	}
	return payloadWords - payloadWords%d.Words
}

// ForEachSlot calls fn with the index of every reference word of an object
// with the given number of payload words. The length is rounded down to a
// multiple of the bitstring length, as partial elements are never scanned.
func (d *Descriptor) ForEachSlot(payloadWords int, fn func(i int)) {
	if d.PointerFree() {
		return
	}
	for start := 0; start+d.Words <= payloadWords; start += d.Words {
		for i, mask := range d.Bits {
			scanWithMask(start+8*i, uint(mask), fn)
		}
	}
}

// scanWithMask reports every set bit of mask, starting at word index base.
func scanWithMask(base int, mask uint, fn func(i int)) {
	for mask != 0 {
		if mask&1 != 0 {
			fn(base)
		}
		mask >>= 1
		base++
	}
}

func (d *Descriptor) String() string {
	return d.Name
}
