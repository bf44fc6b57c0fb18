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
	"context"
	"time"
)

// SleepResult is the discriminant returned by WaitQueue.Sleep.
type SleepResult int

const (
	// SleepOK means the sleeper was woken normally (including immediately, by
	// a previously missed wakeup).
	SleepOK SleepResult = iota
	// SleepWouldBlock is returned for a non-blocking Sleep with no wakeup
	// available.
	SleepWouldBlock
	// SleepTimedOut is returned when Timeout elapses first.
	SleepTimedOut
	// SleepInterrupted is returned when ctx is done before a wakeup arrives.
	SleepInterrupted
)

func (r SleepResult) String() string {
	switch r {
	case SleepOK:
		return "ok"
	case SleepWouldBlock:
		return "would-block"
	case SleepTimedOut:
		return "timed-out"
	case SleepInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SleepOptions configures a single call to WaitQueue.Sleep. Cf. spec.md
// §4.2: "flags recognized: non-blocking, interruptible, timed."
type SleepOptions struct {
	// NonBlocking makes Sleep return SleepWouldBlock immediately instead of
	// parking, if no wakeup is already available.
	NonBlocking bool

	// Timeout, if non-zero, bounds how long Sleep may park before returning
	// SleepTimedOut. Zero means wait forever (subject to ctx cancellation).
	Timeout time.Duration
}

// WakeupPolicy selects how many blocked sleepers WaitQueue.Wakeup releases.
type WakeupPolicy int

const (
	// WakeupFirst releases a single sleeper (or, if none is queued, arms the
	// missed-wakeup counter for the next one).
	WakeupFirst WakeupPolicy = iota
	// WakeupAll releases every currently queued sleeper and — per this
	// implementation's documented, consistent policy — every sleeper that was
	// already past the check-then-park race at the moment Wakeup(WakeupAll)
	// ran, without leaking a permanent open wakeup to sleepers arriving later.
	// See waitAllOpen below for the exact mechanism.
	WakeupAll
)

// sleeper is one thread's parked state, removed from WaitQueue.queue by
// Wakeup and signaled by closing ch.
type sleeper struct {
	ch chan struct{}
}

// WaitQueue is a FIFO of blocked goroutines plus a counter of pending
// wakeups, so that a Wakeup issued before any sleeper is not lost. Cf.
// spec.md §3 and the original's synch/waitq.h-driven ipc_wait_for_call.
//
// The zero value is not usable; call Init first.
type WaitQueue struct {
	lock SpinLock

	// GUARDED_BY(lock)
	queue []*sleeper
	// missed is the number of Wakeup(WakeupFirst) calls that found no queued
	// sleeper and so must be redeemed by the next Sleep instead.
	// GUARDED_BY(lock)
	missed int
	// allOpen, when true, means a WakeupAll released allOpenCount queued
	// sleepers and the same number of later Sleep calls may each pass through
	// once without parking; it is cleared once allOpenCount such passes have
	// been redeemed.
	// GUARDED_BY(lock)
	allOpen      bool
	allOpenCount int
}

// Init prepares the queue for use.
func (q *WaitQueue) Init(name string) {
	q.lock.Init(name, ClassNone)
	q.queue = nil
	q.missed = 0
	q.allOpen = false
	q.allOpenCount = 0
}

// Sleep blocks the calling goroutine until woken, interrupted, timed out, or
// (if opts.NonBlocking) immediately. See SleepOptions and SleepResult.
func (q *WaitQueue) Sleep(ctx context.Context, opts SleepOptions) SleepResult {
	q.lock.Lock()

	if q.redeemPendingLocked() {
		q.lock.Unlock()
		return SleepOK
	}

	if opts.NonBlocking {
		q.lock.Unlock()
		return SleepWouldBlock
	}

	s := &sleeper{ch: make(chan struct{})}
	q.queue = append(q.queue, s)
	q.lock.Unlock()

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-s.ch:
		return SleepOK
	case <-timeoutCh:
		if q.removeLocked(s) {
			return SleepTimedOut
		}
		// Lost the race with a concurrent Wakeup; honor the wakeup instead.
		<-s.ch
		return SleepOK
	case <-ctx.Done():
		if q.removeLocked(s) {
			return SleepInterrupted
		}
		<-s.ch
		return SleepOK
	}
}

// redeemPendingLocked consumes a missed wakeup or an open WakeupAll grant for
// the calling sleeper, if one is available. Caller must hold q.lock and
// remains responsible for unlocking it. Kept as a plain helper, not a
// method with its own locking, to avoid double-locking from Sleep.
func (q *WaitQueue) redeemPendingLocked() bool {
	if q.missed > 0 {
		q.missed--
		return true
	}

	if q.allOpen {
		q.allOpenCount--
		if q.allOpenCount <= 0 {
			q.allOpen = false
		}
		return true
	}

	return false
}

// removeLocked removes s from the queue if still present, locking q.lock
// itself. Returns true if s was found and removed (meaning no concurrent
// Wakeup has claimed it yet).
func (q *WaitQueue) removeLocked(s *sleeper) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	for i, cand := range q.queue {
		if cand == s {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Wakeup releases sleepers per policy. If no thread is queued and policy is
// WakeupFirst, the missed-wakeup counter is incremented so the next Sleep
// returns immediately, per spec.md §4.2.
func (q *WaitQueue) Wakeup(policy WakeupPolicy) {
	q.lock.Lock()
	defer q.lock.Unlock()

	switch policy {
	case WakeupFirst:
		if len(q.queue) > 0 {
			s := q.queue[0]
			q.queue = q.queue[1:]
			close(s.ch)
			return
		}
		q.missed++

	case WakeupAll:
		n := len(q.queue)
		for _, s := range q.queue {
			close(s.ch)
		}
		q.queue = nil

		// Every sleeper that wins the race between "parked before this Wakeup"
		// and "about to park but hasn't taken q.lock yet" must also pass
		// through once; we cannot distinguish the two without a sequence
		// number, so we grant exactly n further redemptions (n being the
		// number we just released) and then close the window. This is the
		// "drain the count per-sleeper" choice from spec.md §4.2's documented
		// Open Question, picked because it bounds how many future sleepers can
		// be affected by a single WakeupAll instead of leaving a sticky
		// always-on wakeup.
		if n > 0 {
			q.allOpen = true
			q.allOpenCount = n
		}
	}
}

// Len reports the number of currently queued sleepers. For tests and
// invariant checks only.
func (q *WaitQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.queue)
}
