// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package dfu updates Notecard firmware through Notehub while monitoring the
// update over a local connection to the Notecard.
package dfu

import (
	"context"
	"strconv"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Device is the set of Notecard transactions an update needs.
// *card.Card satisfies it.
type Device interface {
	StatusSource
	Version() (card.VersionInfo, error)
	SetDFU(on bool) error
	Sync() error
	SetEnv(name string, text string) error
	ClearEnv(name string) error
}

// Request describes a firmware update.
type Request struct {
	// Filename is the name of the firmware in Notehub.
	Filename string
	// Version is the version card.version reports once the firmware runs.
	Version string

	Timeout      time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration

	Retries        int
	OpenTimeout    time.Duration
	OpenRetryDelay time.Duration
	RebootDelay    time.Duration
}

func DefaultRequest() Request {
	return Request{
		Timeout:        30 * time.Minute,
		PollInterval:   5 * time.Second,
		StallTimeout:   5 * time.Minute,
		Retries:        5,
		OpenTimeout:    60 * time.Second,
		OpenRetryDelay: 10 * time.Second,
		RebootDelay:    20 * time.Second,
	}
}

func (r Request) Validate() error {
	if r.Filename == "" {
		return errors.New("a firmware filename is required")
	}
	if r.Version == "" {
		return errors.New("a firmware version is required")
	}
	if r.Retries < 1 {
		return errors.Errorf("retries must be at least 1, got %d", r.Retries)
	}
	return nil
}

type State int

const (
	StateIdle State = iota
	StateDisabling
	StateSyncing
	StateConfiguringTarget
	StateStarting
	StateAwaitingStart
	StateAwaitingCompletion
	StateVerifying
	StateCleaningUp
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"idle",
	"disabling",
	"syncing",
	"configuring target",
	"starting",
	"awaiting start",
	"awaiting completion",
	"verifying",
	"cleaning up",
	"done",
	"failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Updater runs firmware updates.
type Updater struct {
	clock   Clock
	log     logrus.FieldLogger
	onState func(State)
}

type Option func(*Updater)

func WithClock(clock Clock) Option {
	return func(u *Updater) {
		u.clock = clock
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(u *Updater) {
		u.log = log
	}
}

// WithStateObserver registers a function called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(u *Updater) {
		u.onState = fn
	}
}

func NewUpdater(opts ...Option) *Updater {
	u := &Updater{
		clock: WallClock,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Updater) enter(s State) {
	u.log.Debugf("state: %s", s)
	if u.onState != nil {
		u.onState(s)
	}
}

// Update performs one update attempt on dev. It returns nil without touching
// the Notecard's update state if the Notecard already runs req.Version.
func (u *Updater) Update(ctx context.Context, dev Device, req Request) (err error) {
	u.enter(StateIdle)
	current, err := dev.Version()
	if err != nil {
		u.enter(StateFailed)
		return err
	}
	u.log.Infof("current version: %s", current.Version)
	if current.Version == req.Version {
		u.log.Infof("Skipping update. Notecard firmware at version requested: %s.", req.Version)
		u.enter(StateDone)
		return nil
	}

	defer func() {
		if err != nil {
			u.enter(StateFailed)
		} else {
			u.enter(StateDone)
		}
	}()

	u.enter(StateDisabling)
	if err := dev.SetDFU(false); err != nil {
		return err
	}

	u.enter(StateSyncing)
	if err := dev.Sync(); err != nil {
		return err
	}

	u.enter(StateConfiguringTarget)
	defer u.cleanup(dev, &err)
	if err := dev.SetEnv(card.EnvFirmware, req.Filename); err != nil {
		return err
	}
	retry := strconv.FormatInt(u.clock.Now().Unix(), 10)
	if err := dev.SetEnv(card.EnvFirmwareRetry, retry); err != nil {
		return err
	}

	u.enter(StateStarting)
	if err := dev.SetDFU(true); err != nil {
		return err
	}
	if err := dev.Sync(); err != nil {
		return err
	}

	overall := StartTimeout(u.clock, req.Timeout)
	poller := NewPoller(dev, u.clock, u.log, req.PollInterval, req.StallTimeout, overall)

	// A previous update can leave the status at completed or error for a few
	// seconds after the new one was requested.
	u.enter(StateAwaitingStart)
	if _, err := poller.AwaitDfuStart(ctx); err != nil {
		return err
	}

	u.enter(StateAwaitingCompletion)
	if _, err := poller.AwaitDfuCompletion(ctx); err != nil {
		return err
	}
	u.log.Info("DFU update complete.")

	u.enter(StateVerifying)
	actual, err := dev.Version()
	if err != nil {
		return err
	}
	u.log.Infof("current version: %s", actual.Version)
	if actual.Version != req.Version {
		return &VersionMismatchError{Expected: req.Version, Actual: actual.Version}
	}
	return nil
}

// cleanup clears the update markers and syncs so Notehub stops relaying the
// update. A cleanup failure is reported only when nothing failed before it.
func (u *Updater) cleanup(dev Device, err *error) {
	u.enter(StateCleaningUp)
	var first error
	note := func(e error) {
		if e != nil && first == nil {
			first = e
		}
	}
	note(dev.ClearEnv(card.EnvFirmware))
	note(dev.ClearEnv(card.EnvFirmwareRetry))
	note(dev.Sync())

	if first == nil {
		return
	}
	if *err != nil {
		u.log.WithError(first).Warn("cleanup after failed update also failed")
		return
	}
	*err = errors.Wrap(first, "cleanup failed")
}
