package mm

import (
	"fmt"

	"github.com/HelenOS/helenos-sub036/internal/synch"
)

// Area is a contiguous, page-aligned run of virtual addresses within one
// AddressSpace, with uniform flags and a single backend. Cf. spec.md §C.
//
// Guarded by its own lock at ClassArea, below the owning AddressSpace's
// ClassAS lock and above ClassShareInfo/ClassPageTable (spec.md §7).
type Area struct {
	lock synch.SpinLock

	base  uintptr
	pages int
	flags AreaFlags

	backend Backend

	// share is set at construction for areas with the Shared flag, and by
	// AnonBackend.Share (as_area_share) on any area it is called on.
	// GUARDED_BY(lock)
	share *ShareInfo

	// used records, per page offset from base, whether a frame has ever been
	// mapped there — bookkeeping for resize/destroy per spec.md §C, not a
	// present/absent cache (that lives in the PageTable).
	// GUARDED_BY(lock)
	used map[uintptr]bool
}

// NewArea constructs an area of the given page count at base, backed by
// backend. pages must be positive.
func NewArea(base uintptr, pages int, flags AreaFlags, backend Backend) (*Area, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("mm: area page count must be positive, got %d", pages)
	}

	a := &Area{
		base:    base,
		pages:   pages,
		flags:   flags,
		backend: backend,
		used:    make(map[uintptr]bool),
	}
	a.lock.Init("mm.Area", synch.ClassArea)

	if flags.Has(Shared) {
		a.share = &ShareInfo{}
		a.share.Init()
	}

	return a, nil
}

// Base returns the area's starting virtual address.
func (a *Area) Base() uintptr { return a.base }

// End returns the first virtual address past the area.
func (a *Area) End() uintptr { return a.base + uintptr(a.pages)*PageSize }

// Contains reports whether va falls within the area.
func (a *Area) Contains(va uintptr) bool { return va >= a.base && va < a.End() }

// Flags returns the area's protection/kind flags.
func (a *Area) Flags() AreaFlags { return a.flags }

// ShareInfo returns the area's share map, or nil if it is not shared.
func (a *Area) ShareInfo() *ShareInfo { return a.share }

// markUsedLocked records page offset (relative to base) as having been
// mapped at least once. Caller must hold a.lock.
func (a *Area) markUsedLocked(offset uintptr) {
	a.used[offset] = true
}

// usedOffsetsLocked returns every offset ever marked used, for Share to
// snapshot. Caller must hold a.lock.
func (a *Area) usedOffsetsLocked() []uintptr {
	offs := make([]uintptr, 0, len(a.used))
	for o := range a.used {
		offs = append(offs, o)
	}
	return offs
}

// pageFloor rounds va down to the start of its containing page.
func pageFloor(va uintptr) uintptr {
	return va &^ (PageSize - 1)
}
