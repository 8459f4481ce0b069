package gc

import (
	"cmp"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/yoglang/yoggc/arena"
	"github.com/yoglang/yoggc/blocks"
	"github.com/yoglang/yoggc/layout"
	"github.com/yoglang/yoggc/object"
)

// generational combines a copying nursery with a mark-sweep old generation.
//
// New objects are bump allocated in the nursery. A minor collection copies
// the reachable young objects into the other nursery semispace, or promotes
// them into the old generation once they survived TenureAge collections.
// Its roots are the root set plus the remembered set: the old objects that
// may hold references to young ones, maintained by the write barrier.
//
// A major collection traces the whole heap: it marks the old objects,
// evacuates the young ones and sweeps the old generation.
type generational struct {
	h *Heap

	nursery *arena.Region // active semispace, objects live in [Base, top)
	spare   *arena.Region
	top     object.Ref
	semi    uint64

	old       *blocks.Heap
	oldPolicy Policy

	remembered mapset.Set[object.Ref]

	// state of the collection in progress
	to              *arena.Region // semispace the survivors are copied to
	free            object.Ref    // bump pointer in to
	stack           []object.Ref  // old objects that still have to be scanned
	marking         bool          // major collection: promoted objects are marked
	promotionFailed bool
	promoted        uint64
}

func newGenerational(h *Heap) (*generational, error) {
	semi := roundRegion(h.opts.NurserySize / 2)
	nursery, err := h.arenas.New(semi)
	if err != nil {
		return nil, err
	}
	spare, err := h.arenas.New(semi)
	if err != nil {
		return nil, err
	}
	oldRegion, err := h.arenas.New(roundRegion(h.opts.InitHeapSize))
	if err != nil {
		return nil, err
	}
	return &generational{
		h:          h,
		nursery:    nursery,
		spare:      spare,
		top:        nursery.Base(),
		semi:       semi,
		old:        blocks.New(oldRegion),
		oldPolicy:  Policy{Threshold: h.opts.Threshold},
		remembered: mapset.NewThreadUnsafeSet[object.Ref](),
	}, nil
}

func (g *generational) young(ref object.Ref) bool {
	return ref >= g.nursery.Base() && ref < g.top
}

func (g *generational) fits(size uint64) bool {
	return uint64(g.nursery.End()-g.top) >= size
}

func (g *generational) alloc(size uint64, d *layout.Descriptor) object.Ref {
	if size > g.semi/4 {
		return g.allocOld(size, d)
	}
	if !g.fits(size) {
		g.minor()
		if !g.fits(size) {
			return g.allocOld(size, d)
		}
	}
	ref := g.top
	g.top += object.Ref(size)
	g.nursery.Zero(ref, size)
	initObject(g.nursery, ref, size, d)
	return ref
}

func (g *generational) allocOld(size uint64, d *layout.Descriptor) object.Ref {
	if g.oldPolicy.Due() {
		g.major()
	}
	ranGC := false
	for {
		if ref, ok := g.old.Alloc(size); ok {
			initObject(g.old.Region(), ref, size, d)
			g.oldPolicy.NoteAlloc(size)
			return ref
		}
		if !ranGC {
			g.major()
			ranGC = true
			continue
		}
		if !growBlocks(g.h, g.old, size) {
			return object.Nil
		}
	}
}

func (g *generational) collect() { g.major() }

func (g *generational) stress() {
	g.minor()
	g.major()
}

// recordStore is the write barrier: an old object that gets a reference to
// a young one is added to the remembered set.
func (g *generational) recordStore(r *arena.Region, container, value object.Ref) {
	if r == g.nursery || !g.young(value) {
		return
	}
	g.remember(container)
}

func (g *generational) remember(ref object.Ref) {
	r := g.old.Region()
	flags := r.Header(ref).Flags
	if flags&object.FlagRemembered != 0 {
		return
	}
	r.SetFlags(ref, flags|object.FlagRemembered)
	g.remembered.Add(ref)
}

// forward evacuates the young object *slot refers to, either into the
// other semispace or into the old generation, and updates the slot.
func (g *generational) forward(slot *object.Ref) {
	ref := *slot
	from := g.nursery
	hdr := from.Header(ref)
	if hdr.Flags&object.FlagForwarded != 0 {
		*slot = hdr.Forward
		return
	}
	age := hdr.Age
	if age < 255 {
		age++
	}
	copied := object.Header{Desc: hdr.Desc, Age: age, Size: hdr.Size}
	dst := object.Nil
	if int(age) >= g.h.opts.TenureAge {
		if p, ok := g.old.Alloc(hdr.Size); ok {
			dst = p
			g.old.Region().CopyFrom(dst, from, ref, hdr.Size)
			g.old.Region().SetHeader(dst, copied)
			g.promoted += hdr.Size
			if g.marking {
				g.old.Mark(dst)
			}
			g.stack = append(g.stack, dst)
		} else {
			g.promotionFailed = true
		}
	}
	if dst == object.Nil {
		dst = g.free
		g.to.CopyFrom(dst, from, ref, hdr.Size)
		g.to.SetHeader(dst, copied)
		g.free += object.Ref(hdr.Size)
	}
	hdr.Flags |= object.FlagForwarded
	hdr.Forward = dst
	from.SetHeader(ref, hdr)
	*slot = dst
}

// scanSlots applies trace to every reference slot of the object at ref.
// It reports whether the object refers to a young object afterwards.
func (g *generational) scanSlots(r *arena.Region, ref object.Ref, trace func(*object.Ref)) (young bool) {
	g.h.forEachSlot(r, ref, func(addr object.Ref) {
		v := object.Ref(r.Word(addr))
		if v == object.Nil {
			return
		}
		trace(&v)
		r.SetWord(addr, uint64(v))
		if g.to.Contains(v) {
			young = true
		}
	})
	return young
}

// evacuate copies the reachable young objects. trace is applied to the
// roots and to every slot of the copied objects and the scanned old
// objects. Old objects whose scan finds young references are remembered.
func (g *generational) evacuate(trace func(*object.Ref), extraRoots func()) {
	g.to, g.free = g.spare, g.spare.Base()
	g.promotionFailed = false
	g.promoted = 0
	from, end := g.nursery, g.top

	g.h.roots.ForEachRoot(trace)
	if extraRoots != nil {
		extraRoots()
	}
	g.h.setState(Relocating)

	for scan := g.to.Base(); ; {
		if scan < g.free {
			g.scanSlots(g.to, scan, trace)
			scan += object.Ref(g.to.Word(scan + object.WordSize))
			continue
		}
		n := len(g.stack)
		if n == 0 {
			break
		}
		ref := g.stack[n-1]
		g.stack = g.stack[:n-1]
		if g.scanSlots(g.old.Region(), ref, trace) && !g.marking {
			g.remember(ref)
		}
	}

	for ref := from.Base(); ref < end; ref += object.Ref(from.Word(ref + object.WordSize)) {
		if from.Header(ref).Flags&object.FlagForwarded == 0 {
			g.h.reclaim(from, ref)
		}
	}
	from.Poison(from.Base(), from.Size())
	g.nursery, g.spare, g.top = g.to, from, g.free
	g.to = nil
	g.oldPolicy.NoteAlloc(g.promoted)
}

// minor collects the nursery only.
func (g *generational) minor() {
	g.h.runCycle(true, func() {
		trace := func(slot *object.Ref) {
			if g.young(*slot) {
				g.forward(slot)
			}
		}
		g.evacuate(trace, func() {
			// Scanning re-remembers the objects that keep young
			// references.
			remembered := g.remembered.ToSlice()
			slices.SortFunc(remembered, cmp.Compare[object.Ref])
			g.remembered.Clear()
			r := g.old.Region()
			for _, ref := range remembered {
				r.SetFlags(ref, r.Header(ref).Flags&^object.FlagRemembered)
				g.stack = append(g.stack, ref)
			}
		})
	})
	if g.promotionFailed || g.oldPolicy.Due() {
		g.major()
	}
}

// major collects the whole heap.
func (g *generational) major() {
	var free uint64
	g.h.runCycle(false, func() {
		g.marking = true
		defer func() { g.marking = false }()
		trace := func(slot *object.Ref) {
			ref := *slot
			switch {
			case g.young(ref):
				g.forward(slot)
			case g.old.IsObject(ref):
				if g.old.Mark(ref) {
					g.stack = append(g.stack, ref)
				}
			}
		}
		g.evacuate(trace, nil)

		g.h.setState(Sweeping)
		g.old.Sweep(func(ref object.Ref) { g.h.reclaim(g.old.Region(), ref) })
		free = g.old.BuildFreeRanges()

		// Rebuild the remembered set from the survivors.
		g.remembered.Clear()
		r := g.old.Region()
		g.old.ForEachObject(func(ref object.Ref) {
			r.SetFlags(ref, r.Header(ref).Flags&^object.FlagRemembered)
			young := false
			g.h.forEachSlot(r, ref, func(addr object.Ref) {
				if g.young(object.Ref(r.Word(addr))) {
					young = true
				}
			})
			if young {
				g.remember(ref)
			}
		})
	})
	_, used := g.old.Usage()
	g.oldPolicy.Reset(used)
	if free < g.old.Size()/3 {
		growBlocks(g.h, g.old, g.old.Size()/3-free)
	}
}

func (g *generational) regionOf(ref object.Ref) *arena.Region {
	if g.young(ref) {
		return g.nursery
	}
	if g.old.IsObject(ref) {
		return g.old.Region()
	}
	return nil
}

func (g *generational) usage() (sys, inUse uint64) {
	_, used := g.old.Usage()
	return 2*g.semi + g.old.Size(), uint64(g.top-g.nursery.Base()) + used
}

func (g *generational) release() {
	g.nursery.Release()
	g.spare.Release()
	g.old.Region().Release()
}
