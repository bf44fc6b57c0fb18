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

// Package ipcerr defines the error taxonomy returned by IPC operations,
// mirroring the original kernel's small fixed set of errno-like values
// (EOK, EAGAIN, ETIMEOUT, ...) as a typed Go error instead of raw ints.
package ipcerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the taxonomy of failures an IPC operation can report.
type Kind int

const (
	// Ok is never actually wrapped in an Error; it exists so Kind has a
	// recognizable zero value distinct from an unset error.
	Ok Kind = iota
	WouldBlock
	TimedOut
	Interrupted
	NoEnt
	Hangup
	Limit
	Busy
	NoMem
	Overlap
	Inval
	NotSup
	Fatal
	Temporary
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case WouldBlock:
		return "would block"
	case TimedOut:
		return "timed out"
	case Interrupted:
		return "interrupted"
	case NoEnt:
		return "no such entry"
	case Hangup:
		return "hangup"
	case Limit:
		return "limit exceeded"
	case Busy:
		return "busy"
	case NoMem:
		return "out of memory"
	case Overlap:
		return "overlap"
	case Inval:
		return "invalid argument"
	case NotSup:
		return "not supported"
	case Fatal:
		return "fatal"
	case Temporary:
		return "temporary"
	default:
		return "unknown ipc error"
	}
}

// Error pairs a Kind with an optional human-readable note.
type Error struct {
	Kind Kind
	Note string
}

func (e *Error) Error() string {
	if e.Note == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Note)
}

// Is lets errors.Is(err, ipcerr.New(ipcerr.Hangup, "")) match any Error of
// the same Kind regardless of Note, the way callers actually want to test
// for a particular failure kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind with an optional note.
func New(kind Kind, note string) *Error {
	return &Error{Kind: kind, Note: note}
}

// Of returns the Kind of err if it is (or wraps) an *Error, and Fatal
// otherwise — every IPC-path error must be classifiable.
func Of(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}
