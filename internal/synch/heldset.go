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

import "sync"

// heldSet tracks, per goroutine, the highest LockClass currently held. It
// backs the debug-only lock-order assertion; production builds never
// consult it (EnableOrderChecking defaults to false).
//
// GUARDED_BY(heldMu)
var (
	heldMu  sync.Mutex
	heldMax = make(map[int64]LockClass)
)

// pushClass records that the calling goroutine is about to acquire a lock
// of class c, panicking if doing so would violate the global lock order.
// It returns the goroutine's previous maximum, to be restored by popClass.
func pushClass(c LockClass) (prev LockClass) {
	if !*EnableOrderChecking {
		return ClassNone
	}

	id := goroutineID()

	heldMu.Lock()
	defer heldMu.Unlock()

	prev = heldMax[id]
	if c == ClassNone {
		return prev
	}
	if c <= prev {
		panic(
			"synch: lock order violation: attempted to acquire " +
				c.String() + " while holding " + prev.String())
	}

	heldMax[id] = c
	return prev
}

func popClass(prev LockClass) {
	if !*EnableOrderChecking {
		return
	}

	id := goroutineID()

	heldMu.Lock()
	defer heldMu.Unlock()

	if prev == ClassNone {
		delete(heldMax, id)
	} else {
		heldMax[id] = prev
	}
}
