package mm

import "github.com/HelenOS/helenos-sub036/internal/synch"

// shareEntry is one page of a shared area's pagemap: the frame backing it
// and how many sharers currently reference it.
type shareEntry struct {
	frame    *Frame
	refcount int
}

// ShareInfo is the per-shared-area frame map every sharing AddressSpace
// consults on a page fault, once as_area_share has run. Grounded on
// original_source/generic/src/mm/backend_anon.c's sh_info->pagemap (a
// btree keyed by page offset) and guarded by its own lock, strictly below
// ClassArea and never acquiring the owning AddressSpace's lock (spec.md
// §4.3/§7 ordering: "an area's backend may acquire its share-info lock but
// never the AS lock").
type ShareInfo struct {
	lock synch.SpinLock

	// GUARDED_BY(lock)
	pagemap map[uintptr]*shareEntry
}

// Init prepares an empty ShareInfo.
func (s *ShareInfo) Init() {
	s.lock.Init("mm.ShareInfo", synch.ClassShareInfo)
	s.pagemap = make(map[uintptr]*shareEntry)
}

// lookupLocked returns the frame recorded at offset, if any, without altering its
// refcount. Caller must hold s.lock.
func (s *ShareInfo) lookupLocked(offset uintptr) (*Frame, bool) {
	e, ok := s.pagemap[offset]
	if !ok {
		return nil, false
	}
	return e.frame, true
}

// addRefLocked increments the refcount of the frame at offset. Caller must
// hold s.lock and have already confirmed the entry exists.
func (s *ShareInfo) addRefLocked(offset uintptr) {
	s.pagemap[offset].refcount++
}

// insertLocked records a freshly allocated frame at offset with one
// reference (the inserter's). Caller must hold s.lock.
func (s *ShareInfo) insertLocked(offset uintptr, f *Frame) {
	s.pagemap[offset] = &shareEntry{frame: f, refcount: 1}
}

// dropRefLocked decrements the refcount at offset, returning the frame and
// true if this was the last reference (caller must then free it). Caller
// must hold s.lock.
func (s *ShareInfo) dropRefLocked(offset uintptr) (*Frame, bool) {
	e, ok := s.pagemap[offset]
	if !ok {
		return nil, false
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(s.pagemap, offset)
		return e.frame, true
	}
	return nil, false
}
