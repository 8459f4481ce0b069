package gc

import (
	"time"
)

// pauseHistory is the number of recent pauses kept for ReadGCStats.
const pauseHistory = 256

type heapStats struct {
	mallocs    uint64
	frees      uint64
	totalAlloc uint64

	numGC      uint64
	numMinorGC uint64
	lastGC     time.Time
	pauseTotal time.Duration
	pauses     []time.Duration // ring, most recent at pauses[(next-1)%len]
	next       int
}

func (s *heapStats) record(minor bool, start time.Time, pause time.Duration) {
	s.numGC++
	if minor {
		s.numMinorGC++
	}
	s.lastGC = start.Add(pause)
	s.pauseTotal += pause
	if len(s.pauses) < pauseHistory {
		s.pauses = append(s.pauses, pause)
	} else {
		s.pauses[s.next%pauseHistory] = pause
	}
	s.next++
}

// MemStats records statistics about the heap.
type MemStats struct {
	// HeapSys is the number of bytes reserved for the heap, semispaces and
	// free blocks included.
	HeapSys uint64

	// HeapAlloc is the number of bytes occupied by objects, reachable or
	// not yet collected.
	HeapAlloc uint64

	// TotalAlloc is the cumulative number of bytes allocated.
	TotalAlloc uint64

	// Mallocs is the cumulative count of objects allocated.
	Mallocs uint64

	// Frees is the cumulative count of objects reclaimed. The conservative
	// collector only reports objects with a finalizer.
	Frees uint64

	// NumGC is the number of completed collections, minor ones included.
	NumGC uint64

	// NumMinorGC is the number of nursery-only collections.
	NumMinorGC uint64

	// BytesSinceGC is the number of bytes allocated since the last
	// collection.
	BytesSinceGC uint64

	// LiveAfterGC is HeapAlloc as left by the last collection, and NextGC
	// the HeapAlloc at which the threshold asks for the next one.
	LiveAfterGC uint64
	NextGC      uint64

	// PinnedHandles is the number of live pins.
	PinnedHandles int
}

// ReadMemStats populates m with statistics about the heap.
func (h *Heap) ReadMemStats(m *MemStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sys, inUse := h.c.usage()
	*m = MemStats{
		HeapSys:       sys,
		HeapAlloc:     inUse,
		TotalAlloc:    h.stats.totalAlloc,
		Mallocs:       h.stats.mallocs,
		Frees:         h.stats.frees,
		NumGC:         h.stats.numGC,
		NumMinorGC:    h.stats.numMinorGC,
		BytesSinceGC:  h.policy.Allocated(),
		LiveAfterGC:   h.policy.Live(),
		NextGC:        h.policy.Next(),
		PinnedHandles: h.roots.Pins.Count(),
	}
}

// GCStats collect information about recent garbage collections.
type GCStats struct {
	LastGC     time.Time       // time of last collection
	NumGC      int64           // number of garbage collections
	PauseTotal time.Duration   // total pause for all collections
	Pause      []time.Duration // pause history, most recent first
}

// ReadGCStats reads statistics about garbage collection into stats.
// The Pause slice is reused when it has enough capacity.
func (h *Heap) ReadGCStats(stats *GCStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &h.stats
	stats.LastGC = s.lastGC
	stats.NumGC = int64(s.numGC)
	stats.PauseTotal = s.pauseTotal
	stats.Pause = stats.Pause[:0]
	for i := 1; i <= len(s.pauses); i++ {
		stats.Pause = append(stats.Pause, s.pauses[(s.next-i)%len(s.pauses)])
	}
}
