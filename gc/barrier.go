package gc

import (
	"fmt"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/object"
)

// barrier is implemented by collectors that need to see reference stores.
type barrier interface {
	recordStore(r *arena.Region, container, value object.Ref)
}

func (h *Heap) field(container object.Ref, field int) (*arena.Region, object.Ref, bool) {
	r := h.region(container)
	hdr := r.Header(container)
	if field < 0 || field >= hdr.PayloadWords() {
		panic(fmt.Sprintf("gc: field %d out of range for %v with %d words", field, container, hdr.PayloadWords()))
	}
	d := h.descriptorOf(r, container)
	isSlot := d.IsSlot(field) && field < d.ScannedWords(hdr.PayloadWords())
	return r, container.Field(field), isSlot
}

// Store writes a reference into a reference slot of container. This is the
// only way to store a reference into an object.
func (h *Heap) Store(container object.Ref, field int, value object.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr, isSlot := h.field(container, field)
	if !isSlot {
		panic(fmt.Sprintf("gc: store of a reference into data word %d of %v", field, container))
	}
	if value != object.Nil && h.c.regionOf(value) == nil {
		panic(fmt.Sprintf("gc: store of %v which is not a heap object", value))
	}
	r.SetWord(addr, uint64(value))
	if b, ok := h.c.(barrier); ok && value != object.Nil {
		b.recordStore(r, container, value)
	}
}

// Load reads the reference in a slot of container.
func (h *Heap) Load(container object.Ref, field int) object.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr, isSlot := h.field(container, field)
	if !isSlot {
		panic(fmt.Sprintf("gc: load of a reference from data word %d of %v", field, container))
	}
	return object.Ref(r.Word(addr))
}

// StoreWord writes a data word. Reference slots are rejected.
func (h *Heap) StoreWord(container object.Ref, field int, v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr, isSlot := h.field(container, field)
	if isSlot {
		panic(fmt.Sprintf("gc: store of a data word into reference slot %d of %v", field, container))
	}
	r.SetWord(addr, v)
}

// LoadWord reads a data word.
func (h *Heap) LoadWord(container object.Ref, field int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr, isSlot := h.field(container, field)
	if isSlot {
		panic(fmt.Sprintf("gc: load of a data word from reference slot %d of %v", field, container))
	}
	return r.Word(addr)
}

// WriteBytes copies b into the payload of a pointer free object, starting
// at payload word field.
func (h *Heap) WriteBytes(container object.Ref, field int, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr := h.byteRange(container, field, len(b))
	copy(r.Bytes(addr, uint64(len(b))), b)
}

// ReadBytes returns a copy of n payload bytes of a pointer free object,
// starting at payload word field.
func (h *Heap) ReadBytes(container object.Ref, field int, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, addr := h.byteRange(container, field, n)
	return append([]byte(nil), r.Bytes(addr, uint64(n))...)
}

func (h *Heap) byteRange(container object.Ref, field int, n int) (*arena.Region, object.Ref) {
	r := h.region(container)
	if !h.descriptorOf(r, container).PointerFree() {
		panic(fmt.Sprintf("gc: byte access to %v which holds references", container))
	}
	hdr := r.Header(container)
	if field < 0 || n < 0 || uint64(field)*object.WordSize+uint64(n) > hdr.PayloadSize() {
		panic(fmt.Sprintf("gc: byte range %d+%d out of range for %v", field, n, container))
	}
	return r, container.Field(field)
}

// PayloadWords returns the number of payload words of the object at ref.
func (h *Heap) PayloadWords(ref object.Ref) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.region(ref).Header(ref).PayloadWords()
}

// SetGlobal binds a global name to value.
func (h *Heap) SetGlobal(name string, value object.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if value != object.Nil && h.c.regionOf(value) == nil {
		panic(fmt.Sprintf("gc: global %s set to %v which is not a heap object", name, value))
	}
	h.roots.Globals.Set(name, value)
}

// Global returns the value bound to a global name.
func (h *Heap) Global(name string) (object.Ref, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roots.Globals.Get(name)
}
