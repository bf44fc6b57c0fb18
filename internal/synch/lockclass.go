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
	"flag"
	"fmt"
)

// LockClass assigns every spinlock in the kernel a position in the single
// global partial order from which it may never deviate:
//
//	TaskList < Task < Thread < AnswerBox < PhoneTable < Phone < AS < Area < ShareInfo < PageTable
//
// A lock may only be acquired while holding locks of a strictly lower class.
// This is the encode-and-check half of "the implementation must encode and
// check [lock ordering], at minimum via debug assertions."
//
// ClassPhoneTable sits strictly below ClassPhone, not alongside it: a
// PhoneTable's own lock is only ever held while scanning or indexing into
// its Phones, each of which then takes its own per-phone lock nested
// inside — two distinct classes, not one lock reused at two call depths.
type LockClass int

const (
	ClassNone LockClass = iota
	ClassTaskList
	ClassTask
	ClassThread
	ClassAnswerBox
	ClassPhoneTable
	ClassPhone
	ClassAS
	ClassArea
	ClassShareInfo
	ClassPageTable
)

func (c LockClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTaskList:
		return "task-list"
	case ClassTask:
		return "task"
	case ClassThread:
		return "thread"
	case ClassAnswerBox:
		return "answerbox"
	case ClassPhoneTable:
		return "phone-table"
	case ClassPhone:
		return "phone"
	case ClassAS:
		return "as"
	case ClassArea:
		return "area"
	case ClassShareInfo:
		return "share-info"
	case ClassPageTable:
		return "page-table"
	default:
		return fmt.Sprintf("LockClass(%d)", int(c))
	}
}

// EnableOrderChecking turns on the per-goroutine lock-ordering assertion.
// It is off by default because every acquisition then looks up the calling
// goroutine's id and its highest held lock class in a global, mutex-guarded
// map; enable it in tests and debug builds.
var EnableOrderChecking = flag.Bool(
	"synch.check_lock_order",
	false,
	"Panic immediately if a spinlock is acquired out of the kernel's lock order.")
