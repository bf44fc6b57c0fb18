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
	"log"
	"os"
)

// DeadlockThreshold is the number of spin iterations a contended Lock call
// will take before logging a warning, mirroring DEADLOCK_THRESHOLD in
// kernel/generic/include/synch/spinlock.h. It is diagnostic only: crossing
// it never resolves anything, it just bounds how long we spin silently.
var DeadlockThreshold uint64 = 100000000

// gLogger is where deadlock-probe warnings go. Tests may swap it out.
var gLogger = log.New(os.Stderr, "synch: ", log.Ldate|log.Ltime|log.Lmicroseconds)
