package gc

import (
	"github.com/yoglang/yoggc/object"
	"github.com/yoglang/yoggc/roots"
)

// Pin registers ref in the pin table. The object stays alive until Unpin.
// Collectors may still move it: native code keeps the handle and calls
// Pinned to get the current address.
func (h *Heap) Pin(ref object.Ref) roots.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref != object.Nil && h.c.regionOf(ref) == nil {
		panic("gc: pin of " + ref.String() + " which is not a heap object")
	}
	hd := h.roots.Pins.Pin(ref)
	h.metrics.pinned.Set(float64(h.roots.Pins.Count()))
	return hd
}

// Unpin releases a pin. Unpinning a handle twice panics.
func (h *Heap) Unpin(hd roots.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots.Pins.Unpin(hd)
	h.metrics.pinned.Set(float64(h.roots.Pins.Count()))
}

// Pinned returns the current address of a pinned object.
func (h *Heap) Pinned(hd roots.Handle) object.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roots.Pins.Get(hd)
}

// PinCount returns the number of live pins.
func (h *Heap) PinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roots.Pins.Count()
}

// WithPinned pins ref for the duration of fn. The pin is released on every
// exit path, also when fn panics.
func (h *Heap) WithPinned(ref object.Ref, fn func(roots.Handle) error) error {
	hd := h.Pin(ref)
	defer h.Unpin(hd)
	return fn(hd)
}
