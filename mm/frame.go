package mm

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PageSize is the granularity at which FrameAllocator hands out frames. It
// mirrors a typical architecture's base page size; unlike the original
// kernel this package never varies it per architecture.
const PageSize = 4096

// Frame is one page-granular anonymous allocation, backed by a real
// unix.Mmap region so that "every page first read in a private anonymous
// area reads as all zeros" (spec.md §8.5) is an OS guarantee rather than
// something this package has to simulate.
type Frame struct {
	bytes []byte
}

// Bytes exposes the frame's backing storage for reads and writes. Callers
// must not reslice or retain it beyond the frame's lifetime.
func (f *Frame) Bytes() []byte { return f.bytes }

// FrameAllocator hands out and reclaims zero-filled frames via
// golang.org/x/sys/unix.Mmap with MAP_ANON|MAP_PRIVATE — a dependency the
// teacher already carries (used there for flock_linux.go and PID-liveness
// checks in fuseops/common_op.go), retasked here from "flock a mount point"
// to "mmap a frame."
type FrameAllocator struct {
	mu        sync.Mutex
	allocated int
}

// Alloc returns a fresh, zero-filled frame. The kernel zeroes anonymous
// pages on first map; mmap(MAP_ANON) gives the same guarantee for free.
func (a *FrameAllocator) Alloc() (*Frame, error) {
	b, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mm: frame alloc: %w", err)
	}

	a.mu.Lock()
	a.allocated++
	a.mu.Unlock()

	return &Frame{bytes: b}, nil
}

// Free releases a frame back to the host kernel. Calling it more than once
// on the same Frame is a caller bug; ShareInfo's refcounting exists
// precisely so Free is only ever called once per Frame.
func (a *FrameAllocator) Free(f *Frame) error {
	if f.bytes == nil {
		return nil
	}

	err := unix.Munmap(f.bytes)
	f.bytes = nil

	a.mu.Lock()
	a.allocated--
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("mm: frame free: %w", err)
	}
	return nil
}

// Allocated reports the number of frames currently outstanding. Used by
// tests asserting E5/E6-style frame-charging behavior.
func (a *FrameAllocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}
