// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package dfu

import (
	"context"
	"time"
)

// Clock is the source of time for timeouts and delays.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

// WallClock reads time.Now, whose monotonic reading keeps elapsed time
// correct across wall clock adjustments.
var WallClock Clock = wallClock{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timeout measures elapsed time from a fixed start. It is never reset; a new
// Timeout is started instead.
type Timeout struct {
	clock Clock
	start time.Time
	limit time.Duration
}

func StartTimeout(clock Clock, limit time.Duration) Timeout {
	return Timeout{
		clock: clock,
		start: clock.Now(),
		limit: limit,
	}
}

func (t Timeout) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.start)
}

func (t Timeout) Limit() time.Duration {
	return t.limit
}

// Expired is true once the elapsed time reaches the limit.
func (t Timeout) Expired() bool {
	return t.Elapsed() >= t.limit
}
