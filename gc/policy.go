package gc

// Policy decides when a threshold-driven collector runs. It counts the bytes
// allocated since the last collection and remembers the live bytes found by
// it.
type Policy struct {
	Threshold uint64
	Stress    bool

	allocated uint64
	live      uint64
}

// NoteAlloc records an allocation of n bytes.
func (p *Policy) NoteAlloc(n uint64) {
	p.allocated += n
}

// CollectFirst reports whether every allocation starts with a collection.
func (p *Policy) CollectFirst() bool { return p.Stress }

// Due reports whether the threshold was reached.
func (p *Policy) Due() bool {
	return p.Threshold > 0 && p.allocated >= p.Threshold
}

// Reset starts a new period after a collection that left live bytes.
func (p *Policy) Reset(live uint64) {
	p.allocated = 0
	p.live = live
}

// Allocated returns the bytes allocated since the last collection.
func (p *Policy) Allocated() uint64 { return p.allocated }

// Live returns the live bytes after the last collection.
func (p *Policy) Live() uint64 { return p.live }

// Next returns the heap use at which the threshold is reached again.
func (p *Policy) Next() uint64 { return p.live + p.Threshold }
