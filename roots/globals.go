package roots

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/yoglang/yoggc/object"
)

// Globals is the global namespace: an ordered map from name to a root slot.
// Keeping the names sorted makes root enumeration, and with it the order in
// which a copying collector lays out objects, deterministic.
type Globals struct {
	m *treemap.Map
}

// NewGlobals returns an empty namespace.
func NewGlobals() *Globals {
	return &Globals{m: treemap.NewWith(utils.StringComparator)}
}

// Set binds name to ref.
func (g *Globals) Set(name string, ref object.Ref) {
	if slot, ok := g.m.Get(name); ok {
		*slot.(*object.Ref) = ref
		return
	}
	slot := new(object.Ref)
	*slot = ref
	g.m.Put(name, slot)
}

// Get returns the value bound to name.
func (g *Globals) Get(name string) (object.Ref, bool) {
	slot, ok := g.m.Get(name)
	if !ok {
		return object.Nil, false
	}
	return *slot.(*object.Ref), true
}

// Delete unbinds name.
func (g *Globals) Delete(name string) {
	g.m.Remove(name)
}

// Len returns the number of bound names.
func (g *Globals) Len() int { return g.m.Size() }

// Names returns the bound names in order.
func (g *Globals) Names() []string {
	names := make([]string, 0, g.m.Size())
	for _, k := range g.m.Keys() {
		names = append(names, k.(string))
	}
	return names
}

// ForEachRoot visits every global slot in name order.
func (g *Globals) ForEachRoot(fn func(slot *object.Ref)) {
	it := g.m.Iterator()
	for it.Next() {
		fn(it.Value().(*object.Ref))
	}
}
