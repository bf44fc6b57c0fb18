package mm

import "fmt"

// AnonBackend is the anonymous, zero-fill, copy-on-share area backend.
// Grounded line-for-line on
// original_source/generic/src/mm/backend_anon.c's anon_page_fault /
// anon_frame_free / anon_share.
type AnonBackend struct {
	alloc *FrameAllocator
	pt    PageTable
}

// NewAnonBackend returns a Backend that allocates frames from alloc and
// installs mappings through pt.
func NewAnonBackend(alloc *FrameAllocator, pt PageTable) *AnonBackend {
	return &AnonBackend{alloc: alloc, pt: pt}
}

// PageFault mirrors anon_page_fault: shared areas consult the share-info
// pagemap keyed by (va - area.base) first, mapping and refcounting an
// existing frame on a hit or allocating, inserting, and mapping on a miss;
// private areas always allocate a fresh zeroed frame. Either way the page
// is marked used for resize/destroy bookkeeping.
func (b *AnonBackend) PageFault(area *Area, va uintptr, access AccessMode) (FaultOutcome, error) {
	va = pageFloor(va)
	if !area.Contains(va) {
		return FaultInvalid, fmt.Errorf("mm: fault address %#x outside area [%#x, %#x)", va, area.Base(), area.End())
	}

	offset := va - area.Base()

	area.lock.Lock()
	defer area.lock.Unlock()

	if !area.Flags().permits(access) {
		return FaultInvalid, fmt.Errorf("mm: access %d not permitted by area flags", access)
	}

	share := area.share

	if share != nil {
		share.lock.Lock()
		if f, ok := share.lookupLocked(offset); ok {
			share.addRefLocked(offset)
			share.lock.Unlock()

			b.pt.Insert(va, f, area.Flags())
			area.markUsedLocked(offset)
			return FaultOK, nil
		}

		f, err := b.alloc.Alloc()
		if err != nil {
			share.lock.Unlock()
			return FaultInvalid, err
		}
		share.insertLocked(offset, f)
		share.lock.Unlock()

		b.pt.Insert(va, f, area.Flags())
		area.markUsedLocked(offset)
		return FaultOK, nil
	}

	f, err := b.alloc.Alloc()
	if err != nil {
		return FaultInvalid, err
	}

	b.pt.Insert(va, f, area.Flags())
	area.markUsedLocked(offset)
	return FaultOK, nil
}

// FrameFree mirrors anon_frame_free: drop one reference to the frame
// mapped at va, freeing it to the allocator once the last reference goes.
// Private-area frames have an implicit single reference, so they are freed
// unconditionally; shared-area frames go through ShareInfo's refcount.
func (b *AnonBackend) FrameFree(area *Area, va uintptr, frame *Frame) {
	va = pageFloor(va)
	offset := va - area.Base()

	share := area.share
	if share == nil {
		b.pt.Unmap(va)
		b.pt.Shootdown(va)
		_ = b.alloc.Free(frame)
		return
	}

	share.lock.Lock()
	freed, shouldFree := share.dropRefLocked(offset)
	share.lock.Unlock()

	b.pt.Unmap(va)
	b.pt.Shootdown(va)

	if shouldFree {
		_ = b.alloc.Free(freed)
	}
}

// Share mirrors anon_share: walk every page the area has ever used and
// snapshot it into the ShareInfo pagemap (allocating one if this is the
// first share of the area), pinning each frame. After this call, faults in
// any sharer of the area take the shared branch of PageFault.
func (b *AnonBackend) Share(area *Area) error {
	area.lock.Lock()
	defer area.lock.Unlock()

	if area.share == nil {
		area.share = &ShareInfo{}
		area.share.Init()
	}
	share := area.share

	for _, offset := range area.usedOffsetsLocked() {
		va := area.Base() + offset

		share.lock.Lock()
		if _, ok := share.lookupLocked(offset); ok {
			share.addRefLocked(offset)
			share.lock.Unlock()
			continue
		}

		f, ok := b.pt.Lookup(va)
		if !ok {
			share.lock.Unlock()
			continue
		}
		share.insertLocked(offset, f)
		share.lock.Unlock()
	}

	return nil
}
