//go:build linux

package mapping

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/host/v3/pmem"

	"pinctl/internal/gpioerr"
	"pinctl/internal/regs"
)

// OpenGPIOMem maps /dev/gpiomem.
func OpenGPIOMem() (*Region, error) {
	return OpenFile(GPIOMemPath)
}

// OpenFile maps the first WindowBytes of path read-write and shared. Any
// file will do, which is how the mapping is exercised off-target.
func OpenFile(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", gpioerr.ErrMappingUnavailable, path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", gpioerr.ErrMappingUnavailable, path, err)
	}
	// Device nodes report size 0; only regular files can be checked.
	if st.Mode&unix.S_IFMT == unix.S_IFREG && st.Size < int64(WindowBytes) {
		return nil, fmt.Errorf("%w: %s is %d bytes, need %d", gpioerr.ErrShortMapping, path, st.Size, WindowBytes)
	}

	b, err := unix.Mmap(fd, 0, WindowBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", gpioerr.ErrMappingUnavailable, path, err)
	}
	return &Region{
		words:  regs.Words(unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)),
		closer: func() error { return unix.Munmap(b) },
	}, nil
}

// OpenPhysical maps the window at a physical address through /dev/mem.
// It needs root.
func OpenPhysical(base uint64) (*Region, error) {
	v, err := pmem.Map(base, WindowBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: map %#x: %v", gpioerr.ErrMappingUnavailable, base, err)
	}
	return &Region{words: regs.Words(v.Uint32()), closer: v.Close}, nil
}
