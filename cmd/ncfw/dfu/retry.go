// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package dfu

import (
	"context"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
)

// Connection is an open Notecard connection owned by a single attempt.
type Connection interface {
	Device
	Close() error
}

// Opener opens a fresh connection to the Notecard.
type Opener func(ctx context.Context) (Connection, error)

// Run updates the Notecard, retrying the whole update up to req.Retries
// times. The connection is expected to drop when the Notecard restarts into
// the new firmware, so every attempt opens a new connection, and the attempt
// after the restart verifies the version.
func (u *Updater) Run(ctx context.Context, open Opener, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= req.Retries; attempt++ {
		if attempt > 1 {
			// Give the Notecard time to restart.
			if err := u.clock.Sleep(ctx, req.RebootDelay); err != nil {
				return err
			}
		}

		log := u.log.WithField("attempt", attempt)
		log.Infof("Opening Notecard, %d attempts remaining...", req.Retries-attempt)
		conn, err := u.open(ctx, open, req)
		if err != nil {
			log.WithError(err).Warn("could not open Notecard")
			lastErr = err
			continue
		}

		log.Infof("Updating firmware: %s (version %s)", req.Filename, req.Version)
		err = u.Update(ctx, conn, req)
		if cerr := conn.Close(); cerr != nil {
			log.WithError(cerr).Debug("closing Notecard failed")
		}
		if err == nil {
			log.Info("Success.")
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if card.IsIOError(err) {
			log.WithError(err).Warn("lost connection, the Notecard may be restarting")
		} else {
			log.WithError(err).Warn("update attempt failed")
		}
		lastErr = err
	}
	u.log.Error(lastErr)
	return &UpdateFailedError{Attempts: req.Retries, Err: lastErr}
}

// open polls open until it succeeds or req.OpenTimeout expires.
func (u *Updater) open(ctx context.Context, open Opener, req Request) (Connection, error) {
	timeout := StartTimeout(u.clock, req.OpenTimeout)
	for {
		conn, err := open(ctx)
		if err == nil {
			return conn, nil
		}
		if timeout.Expired() {
			return nil, &TimeoutError{What: timeoutOpen, Limit: timeout.Limit(), Elapsed: timeout.Elapsed(), Err: err}
		}
		u.log.WithError(err).Debug("Notecard not available yet")
		if err := u.clock.Sleep(ctx, req.OpenRetryDelay); err != nil {
			return nil, err
		}
	}
}
