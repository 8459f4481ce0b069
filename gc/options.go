package gc

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoglang/yoggc/bdwgc"
	"github.com/yoglang/yoggc/log"
)

// Kind selects the collection strategy of a heap.
type Kind int

const (
	Copying Kind = iota
	MarkSweep
	MarkSweepCompact
	Conservative
	Generational
)

var kindNames = [...]string{
	Copying:          "copying",
	MarkSweep:        "mark-sweep",
	MarkSweepCompact: "mark-sweep-compact",
	Conservative:     "bdw",
	Generational:     "generational",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "!err"
	}
	return kindNames[k]
}

// Kinds lists every collection strategy.
func Kinds() []Kind {
	return []Kind{Copying, MarkSweep, MarkSweepCompact, Conservative, Generational}
}

// ParseKind returns the strategy named by a --gc value.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, &ConfigError{Option: "gc", Value: name, Err: errors.New("unknown collector")}
}

const (
	DefaultInitHeapSize = 1 << 20
	DefaultThreshold    = 1 << 20
	DefaultMaxHeapSize  = 256 << 20
	DefaultTenureAge    = 1
)

// Options configures a heap. Zero fields take their defaults.
type Options struct {
	Kind Kind

	// InitHeapSize is the initial size of the heap. The copying collector
	// splits it into two semispaces.
	InitHeapSize uint64

	// Threshold is the number of bytes allocated between two collections of
	// the mark-sweep collector and of the old generation.
	Threshold uint64

	// MaxHeapSize caps heap growth.
	MaxHeapSize uint64

	// NurserySize is the size of both nursery semispaces together, for the
	// generational collector. Defaults to InitHeapSize.
	NurserySize uint64

	// TenureAge is the number of minor collections an object survives
	// before it is promoted to the old generation.
	TenureAge int

	// Stress collects before every allocation.
	Stress bool

	// Verify checksums the reachable graph before and after every
	// collection and panics when they differ.
	Verify bool

	// Logger receives cycle and growth messages. Defaults to log.Root().
	Logger log.Logger

	// Registerer receives the heap metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	// Fatal is called when the heap runs out of memory. The default prints
	// a diagnostic and exits the process. If Fatal returns, Allocate panics
	// with the *OutOfMemoryError.
	Fatal func(error)

	// BDW configures the conservative collector, nil means
	// bdwgc.DefaultConfig. Its heap sizes are taken from the fields above.
	BDW *bdwgc.Config
}

func (o *Options) setDefaults() error {
	if o.Kind < 0 || int(o.Kind) >= len(kindNames) {
		return &ConfigError{Option: "gc", Value: o.Kind.String(), Err: errors.New("unknown collector")}
	}
	if o.InitHeapSize == 0 {
		o.InitHeapSize = DefaultInitHeapSize
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxHeapSize == 0 {
		o.MaxHeapSize = DefaultMaxHeapSize
	}
	if o.MaxHeapSize < o.InitHeapSize {
		o.MaxHeapSize = o.InitHeapSize
	}
	if o.NurserySize == 0 {
		o.NurserySize = o.InitHeapSize
	}
	if o.TenureAge <= 0 {
		o.TenureAge = DefaultTenureAge
	}
	if o.TenureAge > 255 {
		return &ConfigError{Option: "tenure", Value: strconv.Itoa(o.TenureAge), Err: errors.New("age does not fit the header")}
	}
	if o.Logger == nil {
		o.Logger = log.Root()
	}
	return nil
}
