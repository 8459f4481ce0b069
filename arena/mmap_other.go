//go:build !unix

package arena

func mapMemory(size uint64) ([]byte, func() error, error) {
	mem := make([]byte, size)
	return mem, func() error { return nil }, nil
}
