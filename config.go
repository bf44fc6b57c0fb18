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

package kernel

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// KernelConfig bundles the tunables a real kernel would otherwise keep as
// global mutable state (phone table size, deadlock probe threshold,
// default call timeout). Grounded on the teacher's MountConfig: a plain
// struct of knobs passed explicitly into the constructor, rather than
// package-level vars every caller implicitly shares.
type KernelConfig struct {
	// PhoneTableSize is the number of phone slots each Task gets, matching
	// the original kernel's IPC_MAX_PHONES limit.
	PhoneTableSize int

	// AsyncQueueLimit bounds how many calls may sit undelivered or
	// dispatched in a single AnswerBox at once (spec.md §4.4.2: CallAsync
	// "returns temporary if callee's async limit reached"). Zero means
	// unbounded.
	AsyncQueueLimit int

	// DeadlockProbeThreshold is carried in the configuration but is not read
	// by NewKernel or by any lock; the threshold in effect is always the
	// package-level synch.DeadlockThreshold.
	DeadlockProbeThreshold uint64

	// DefaultCallTimeout bounds CallSync when the caller supplies no
	// deadline via ctx.
	DefaultCallTimeout time.Duration

	// Clock backs Kernel.Now, which times Future latency (asyncloop.go),
	// grounded on the teacher's samples/mount_hello and samples/dynamicfs,
	// both of which take a timeutil.Clock at construction instead of
	// calling time.Now() directly so tests can inject
	// timeutil.NewSimulatedClock(). Defaults to timeutil.RealClock().
	Clock timeutil.Clock
}

// DefaultConfig returns the tunables used by cmd/ipcdemo and by tests that
// don't care about the specifics.
func DefaultConfig() KernelConfig {
	return KernelConfig{
		PhoneTableSize:         16,
		AsyncQueueLimit:        4,
		DeadlockProbeThreshold: 0,
		DefaultCallTimeout:     5 * time.Second,
		Clock:                  timeutil.RealClock(),
	}
}
