package gc

import (
	"encoding/binary"

	"github.com/sigurn/crc16"

	"github.com/yoglang/yoggc/object"
)

var verifyTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// digest checksums the graph reachable from the roots. Objects are visited
// depth first in root order and references are hashed as visit numbers, so
// the digest does not change when a collector moves objects. Flags and
// ages are left out for the same reason.
func (h *Heap) digest() uint16 {
	crc := crc16.Init(verifyTable)
	var buf [8]byte
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		crc = crc16.Update(crc, buf[:], verifyTable)
	}

	visited := make(map[object.Ref]uint64)
	var stack []object.Ref
	// ref returns the hashed form of a reference and queues objects seen
	// for the first time.
	ref := func(r object.Ref) uint64 {
		if r == object.Nil {
			return 0
		}
		if n, ok := visited[r]; ok {
			return n
		}
		n := uint64(len(visited)) + 1
		visited[r] = n
		stack = append(stack, r)
		return n
	}

	h.roots.ForEachRoot(func(slot *object.Ref) {
		word(ref(*slot))
	})
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		region := h.region(r)
		hdr := region.Header(r)
		d := h.descriptorOf(region, r)
		word(uint64(d.Tag))
		word(hdr.Size)
		words := hdr.PayloadWords()
		scanned := d.ScannedWords(words)
		for i := 0; i < words; i++ {
			v := region.Word(r.Field(i))
			if !d.PointerFree() && i < scanned && d.IsSlot(i) {
				v = ref(object.Ref(v))
			}
			word(v)
		}
	}
	return crc16.Complete(crc, verifyTable)
}
