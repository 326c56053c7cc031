// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package dfu

import (
	"context"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
	"github.com/sirupsen/logrus"
)

// StatusSource reports the current DFU status of a Notecard.
type StatusSource interface {
	DFUStatus() (card.Status, error)
}

// Poller watches the DFU status of a Notecard. Two limits apply to every
// wait: the overall timeout, started by the caller, and the stall timeout,
// restarted whenever the reported status changes.
type Poller struct {
	source       StatusSource
	clock        Clock
	log          logrus.FieldLogger
	interval     time.Duration
	stallTimeout time.Duration
	overall      Timeout
}

func NewPoller(source StatusSource, clock Clock, log logrus.FieldLogger, interval time.Duration, stallTimeout time.Duration, overall Timeout) *Poller {
	return &Poller{
		source:       source,
		clock:        clock,
		log:          log,
		interval:     interval,
		stallTimeout: stallTimeout,
		overall:      overall,
	}
}

// AwaitDfuStart waits until the Notecard has left a completed or error state
// left over from an earlier update. The error state is not treated as a
// failure here.
func (p *Poller) AwaitDfuStart(ctx context.Context) (card.Status, error) {
	return p.waitForMode(ctx, func(mode string) bool {
		return mode != card.ModeCompleted && mode != card.ModeError
	}, false)
}

// AwaitDfuCompletion waits until the Notecard reports the update completed.
// An error state fails immediately with a *DfuError.
func (p *Poller) AwaitDfuCompletion(ctx context.Context) (card.Status, error) {
	return p.waitForMode(ctx, func(mode string) bool {
		return mode == card.ModeCompleted
	}, true)
}

func (p *Poller) waitForMode(ctx context.Context, done func(mode string) bool, failOnError bool) (card.Status, error) {
	status, err := p.source.DFUStatus()
	if err != nil {
		return nil, err
	}
	last := status
	stall := StartTimeout(p.clock, p.stallTimeout)
	p.log.Infof("dfu status: %v", map[string]interface{}(status))

	for !done(status.Mode()) {
		if p.overall.Expired() {
			return status, &TimeoutError{What: timeoutOverall, Limit: p.overall.Limit(), Elapsed: p.overall.Elapsed()}
		}
		if stall.Expired() {
			return status, &TimeoutError{What: timeoutStall, Limit: stall.Limit(), Elapsed: stall.Elapsed()}
		}
		if !status.Equal(last) {
			stall = StartTimeout(p.clock, p.stallTimeout)
			p.log.Infof("dfu status: %v", map[string]interface{}(status))
			last = status
		}
		if failOnError && status.Mode() == card.ModeError {
			return status, &DfuError{Status: status}
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return status, err
		}
		if status, err = p.source.DFUStatus(); err != nil {
			return nil, err
		}
	}
	return status, nil
}
