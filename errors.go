// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package kernel

import "github.com/HelenOS/helenos-sub036/ipcerr"

// Sentinel errors corresponding to ipcerr.Kind values, in the teacher's
// errors.go style of naming a handful of well-known failures up front
// rather than making every call site construct an *ipcerr.Error by hand.
var (
	errWouldBlock  = ipcerr.New(ipcerr.WouldBlock, "")
	errTimedOut    = ipcerr.New(ipcerr.TimedOut, "")
	errInterrupted = ipcerr.New(ipcerr.Interrupted, "")
	errNoEnt       = ipcerr.New(ipcerr.NoEnt, "no such phone or call")
	errHangup      = ipcerr.New(ipcerr.Hangup, "")
	errLimit       = ipcerr.New(ipcerr.Limit, "phone table full")
	errNotSup      = ipcerr.New(ipcerr.NotSup, "")
	errTemporary   = ipcerr.New(ipcerr.Temporary, "callee async queue full")
	errFatal       = ipcerr.New(ipcerr.Fatal, "phone not connected")
	errInval       = ipcerr.New(ipcerr.Inval, "")
	errOverlap     = ipcerr.New(ipcerr.Overlap, "")
)
