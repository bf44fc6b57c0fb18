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

// Package kernel implements a microkernel's IPC core: tasks, threads,
// phones, answerboxes, and the call/answer/forward/hangup state machine
// that moves fixed-payload messages between them. Address-space and
// page-fault handling live in the sibling mm package; the low-level
// spinlock, IRQ-spinlock, and wait-queue primitives both depend on live in
// internal/synch.
package kernel
