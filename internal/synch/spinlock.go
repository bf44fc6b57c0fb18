// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synch

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// SpinLock is a busy-wait mutual exclusion primitive usable from any
// context, including one that must not block on the scheduler (the
// kernel's interrupt handlers use IRQSpinLock, built on top of this).
//
// Modeled on kernel/generic/include/synch/spinlock.h: an atomic busy flag,
// an owning goroutine id, and a deadlock probe.
//
// Must be created with Init, or used at its zero value (Init sets the name
// for diagnostics and the lock class, and clears the flag and owner).
type SpinLock struct {
	name  string
	class LockClass
	busy  atomic.Bool

	// Recorded by every Lock/TryLock and checked by every Unlock, which
	// panics if the caller is not the owner.
	owner atomic.Int64 // goroutine id of the current holder, or 0

	// heldPrev is the calling goroutine's previous lock-class high-water mark,
	// saved by Lock and restored by Unlock. Safe to store inline because only
	// the current holder ever reads or writes it.
	heldPrev LockClass
}

// Init names the lock for diagnostics and assigns it a position in the
// kernel's global lock order. Passing ClassNone disables order checking for
// this particular lock (used for locks, like test helpers, that sit outside
// the kernel's own hierarchy).
func (l *SpinLock) Init(name string, class LockClass) {
	l.name = name
	l.class = class
	l.busy.Store(false)
	l.owner.Store(0)
}

// Locked reports whether the lock is currently held by anyone. Racy by
// nature; intended for assertions and debugging only.
func (l *SpinLock) Locked() bool {
	return l.busy.Load()
}

// TryLock acquires the lock without blocking, returning false if it is
// already held.
func (l *SpinLock) TryLock() bool {
	if !l.busy.CompareAndSwap(false, true) {
		return false
	}
	l.owner.Store(goroutineID())
	return true
}

// Lock spins until the lock is acquired. In debug builds (EnableOrderChecking)
// it first asserts that acquiring l.class does not violate the kernel's
// lock order; on contention it increments a per-call probe counter and logs
// a warning, without ever giving up, once the counter crosses
// DeadlockThreshold. This is diagnostic only — it is never a deadlock
// resolution mechanism.
func (l *SpinLock) Lock() {
	prev := pushClass(l.class)

	var probe uint64
	for !l.busy.CompareAndSwap(false, true) {
		runtime.Gosched()

		probe++
		if probe > DeadlockThreshold {
			probe = 0
			gLogger.Printf(
				"deadlock probe %q: exceeded threshold %d (goroutine %d)",
				l.name, DeadlockThreshold, goroutineID())
		}
	}

	l.owner.Store(goroutineID())
	l.heldPrev = prev
}

// Unlock releases the lock. Unlocking a lock this goroutine does not own is
// fatal, per the kernel's failure model: "an attempt to unlock a lock this
// CPU does not own is fatal."
func (l *SpinLock) Unlock() {
	got := goroutineID()
	owner := l.owner.Load()
	if owner != got {
		panic(fmt.Sprintf(
			"synch: Unlock of %q by goroutine %d, owned by %d", l.name, got, owner))
	}

	l.owner.Store(0)
	if !l.busy.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("synch: Unlock of %q which was not locked", l.name))
	}

	popClass(l.heldPrev)
}
