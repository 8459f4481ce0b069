package bdwgc

import (
	"fmt"
	"os"
)

// Config holds the tunables of the collector. The names follow the build
// flags and environment knobs of the well-known conservative
// Boehm-Demers-Weiser GC this package mimics.
type Config struct {
	// InitialHeapSize is the size of the heap at startup (GC_INITIAL_HEAP_SIZE).
	InitialHeapSize uint64

	// MaxHeapSize caps heap expansion (GC_MAXIMUM_HEAP_SIZE). Zero means
	// the size of one arena region.
	MaxHeapSize uint64

	// FreeSpaceDivisor controls the collection frequency: a collection is
	// started when more than heapsize/FreeSpaceDivisor bytes were allocated
	// since the last one (GC_FREE_SPACE_DIVISOR). Defaults to 3.
	FreeSpaceDivisor uint64

	// AllInteriorPointers makes pointers to the middle of an object keep
	// the object alive (-DALL_INTERIOR_POINTERS). Otherwise only pointers to
	// the start of an object are recognized.
	AllInteriorPointers bool

	// NoFinalization disables finalizers (-DGC_NO_FINALIZATION).
	NoFinalization bool

	// DontExpand never grows the heap beyond InitialHeapSize (GC_dont_expand).
	DontExpand bool

	// LargeAllocWarnInterval is how many very large allocations happen
	// between two warnings about them (GC_large_alloc_warn_interval).
	// Defaults to 5.
	LargeAllocWarnInterval int

	// WarnProc receives warnings, with msg a format string taking one
	// integer argument. Defaults to printing to stderr.
	WarnProc WarnProc
}

// WarnProc is the type of the warning hook (GC_warn_proc).
type WarnProc func(msg string, arg uint64)

// DefaultWarnProc prints warnings to stderr.
func DefaultWarnProc(msg string, arg uint64) {
	fmt.Fprintf(os.Stderr, msg, arg)
}

// IgnoreWarnProc drops all warnings (GC_ignore_warn_proc).
func IgnoreWarnProc(string, uint64) {}

// DefaultConfig returns the configuration the runtime builds the collector
// with.
func DefaultConfig() Config {
	return Config{
		InitialHeapSize:        256 << 10,
		FreeSpaceDivisor:       3,
		AllInteriorPointers:    true,
		LargeAllocWarnInterval: 5,
		WarnProc:               DefaultWarnProc,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.InitialHeapSize == 0 {
		c.InitialHeapSize = def.InitialHeapSize
	}
	if c.FreeSpaceDivisor == 0 {
		c.FreeSpaceDivisor = def.FreeSpaceDivisor
	}
	if c.LargeAllocWarnInterval == 0 {
		c.LargeAllocWarnInterval = def.LargeAllocWarnInterval
	}
	if c.WarnProc == nil {
		c.WarnProc = def.WarnProc
	}
}
