package gc

import (
	"fmt"

	"github.com/inhies/go-bytesize"
)

// ConfigError reports a malformed heap option. It is fatal at startup.
type ConfigError struct {
	Option string
	Value  string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Option, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// OutOfMemoryError reports an allocation that could not be satisfied even
// after collecting and growing the heap.
type OutOfMemoryError struct {
	Requested uint64 // payload bytes asked for
	HeapSize  uint64 // bytes reserved for the heap when it gave up
	Kind      Kind
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: cannot allocate %d bytes (heap %s, gc %s)",
		e.Requested, bytesize.New(float64(e.HeapSize)), e.Kind)
}
