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
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns a number identifying the calling goroutine, for use
// as a stand-in for "the current CPU" when checking lock ownership and lock
// ordering in debug builds. There is no supported way to get this from the
// runtime, so we fall back to parsing the header of runtime.Stack, the same
// trick used by goroutine-leak detectors. It is called by every SpinLock
// Lock/TryLock/Unlock for CONFIG_DEBUG_SPINLOCK-style owner tracking, and
// by the lock-order check when EnableOrderChecking is on.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}
	b = b[len(prefix):]

	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return -1
	}

	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return -1
	}

	return id
}
