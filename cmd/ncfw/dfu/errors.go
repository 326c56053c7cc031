// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package dfu

import (
	"fmt"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
)

const (
	timeoutOverall = "DFU timeout"
	timeoutStall   = "DFU status timeout"
	timeoutOpen    = "open Notecard"
)

// TimeoutError indicates that a wait exceeded its limit.
type TimeoutError struct {
	What    string
	Limit   time.Duration
	Elapsed time.Duration
	// Err is the last error seen while waiting, if any.
	Err error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("DFU update timeout. %s after %v (limit %v)", e.What, e.Elapsed, e.Limit)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Stalled reports whether the timeout was caused by an unchanging DFU status.
func (e *TimeoutError) Stalled() bool {
	return e.What == timeoutStall
}

// DfuError indicates that the Notecard reported the DFU in error mode.
type DfuError struct {
	Status card.Status
}

func (e *DfuError) Error() string {
	return fmt.Sprintf("DFU update failed. %v", map[string]interface{}(e.Status))
}

// VersionMismatchError indicates that the firmware version after the update
// is not the one requested.
type VersionMismatchError struct {
	Expected string
	Actual   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("DFU update complete, version mismatch. Expected: %s, actual: %s", e.Expected, e.Actual)
}

// UpdateFailedError is returned when every update attempt failed.
type UpdateFailedError struct {
	Attempts int
	Err      error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("DFU update failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}
