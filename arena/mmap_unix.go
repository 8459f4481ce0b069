//go:build unix

package arena

import "golang.org/x/sys/unix"

// mapMemory maps anonymous zeroed memory, like the mark-sweep-compact arena of
// the interpreter this heap serves.
func mapMemory(size uint64) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error {
		return unix.Munmap(mem)
	}, nil
}
