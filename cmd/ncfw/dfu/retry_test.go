package dfu

import (
	"bytes"
	"context"
	"testing"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
	"github.com/notecard-tools/ncfw/cmd/ncfw/logging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedOpener struct {
	// openErrs is returned, in order, before any connection is handed out.
	openErrs []error
	closeErr error
	cards    []*fakeNotecard
	opened   int
	closed   int
}

func (s *scriptedOpener) open(ctx context.Context) (Connection, error) {
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return nil, err
	}
	nc := s.cards[s.opened]
	s.opened++
	return &trackedConn{Card: card.New(nc), closeErr: s.closeErr, onClose: func() { s.closed++ }}, nil
}

type trackedConn struct {
	*card.Card
	closeErr error
	onClose  func()
}

func (c *trackedConn) Close() error {
	c.onClose()
	if c.closeErr != nil {
		return c.closeErr
	}
	return c.Card.Close()
}

func newRunUpdater(clock *fakeClock) *Updater {
	return NewUpdater(WithClock(clock), WithLogger(quietLogger()))
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	opener := &scriptedOpener{cards: []*fakeNotecard{{
		versions: []string{"notecard-5.1.1.16026", req.Version},
		statuses: modes("downloading", "completed"),
	}}}

	err := newRunUpdater(clock).Run(context.Background(), opener.open, req)

	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, 1, opener.closed)
	assert.Zero(t, clock.count(req.RebootDelay))
}

func TestRunRetriesOpen(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	opener := &scriptedOpener{
		openErrs: []error{errors.New("port busy"), errors.New("port busy")},
		cards:    []*fakeNotecard{{versions: []string{req.Version}}},
	}

	err := newRunUpdater(clock).Run(context.Background(), opener.open, req)

	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, 2, clock.count(req.OpenRetryDelay))
}

func TestRunVerifiesAfterRestart(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	req.Retries = 3
	opener := &scriptedOpener{cards: []*fakeNotecard{
		// Completes, but still reports the old version.
		{
			versions: []string{"notecard-5.1.1.16026", "notecard-5.1.1.16026"},
			statuses: modes("downloading", "completed"),
		},
		// Restarting into the new firmware.
		{failures: map[string]string{"card.version": "{io} serial port closed"}},
		{versions: []string{req.Version}},
	}}

	err := newRunUpdater(clock).Run(context.Background(), opener.open, req)

	require.NoError(t, err)
	assert.Equal(t, 3, opener.opened)
	assert.Equal(t, 3, opener.closed)
	assert.Equal(t, 2, clock.count(req.RebootDelay))
	assert.Equal(t, []string{"card.version"}, opener.cards[2].names())
}

func TestRunExhaustsRetries(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	req.Retries = 3
	var cards []*fakeNotecard
	for i := 0; i < req.Retries; i++ {
		cards = append(cards, &fakeNotecard{
			versions: []string{"notecard-5.1.1.16026"},
			failures: map[string]string{"hub.sync": "no network"},
		})
	}
	opener := &scriptedOpener{cards: cards}

	err := newRunUpdater(clock).Run(context.Background(), opener.open, req)

	var ferr *UpdateFailedError
	require.True(t, errors.As(err, &ferr), "got %v", err)
	assert.Equal(t, 3, ferr.Attempts)
	var terr *card.TransactionError
	assert.True(t, errors.As(err, &terr))
	assert.Equal(t, 3, opener.opened)
	assert.Equal(t, 2, clock.count(req.RebootDelay))
}

func TestRunOpenTimeout(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	req.Retries = 1
	var errs []error
	for i := 0; i < 20; i++ {
		errs = append(errs, errors.New("no such port"))
	}
	opener := &scriptedOpener{openErrs: errs}

	err := newRunUpdater(clock).Run(context.Background(), opener.open, req)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, req.OpenTimeout, terr.Limit)
	assert.EqualError(t, terr.Err, "no such port")
	assert.Zero(t, opener.opened)
}

func TestRunInvalidRequest(t *testing.T) {
	req := testRequest()
	req.Filename = ""
	opener := &scriptedOpener{}

	err := newRunUpdater(newFakeClock()).Run(context.Background(), opener.open, req)

	assert.Error(t, err)
	assert.Zero(t, opener.opened)
}

func TestRunLogsCloseError(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	opener := &scriptedOpener{
		closeErr: errors.New("port already closed"),
		cards:    []*fakeNotecard{{versions: []string{req.Version}}},
	}
	var out bytes.Buffer
	log := logging.New(&out, clock.Now(), true, logging.WithNow(clock.Now))

	err := NewUpdater(WithClock(clock), WithLogger(log)).Run(context.Background(), opener.open, req)

	require.NoError(t, err)
	assert.Equal(t, 1, opener.closed)
	assert.Contains(t, out.String(), "debug: closing Notecard failed attempt=1 error=port already closed")
}

func TestRunLogsInjectedClockTime(t *testing.T) {
	clock := newFakeClock()
	req := testRequest()
	req.Retries = 1
	var errs []error
	for i := 0; i < 20; i++ {
		errs = append(errs, errors.New("no such port"))
	}
	opener := &scriptedOpener{openErrs: errs}
	var out bytes.Buffer
	log := logging.New(&out, clock.Now(), false, logging.WithNow(clock.Now))

	err := NewUpdater(WithClock(clock), WithLogger(log)).Run(context.Background(), opener.open, req)

	require.Error(t, err)
	assert.Contains(t, out.String(), "[   0.0] Opening Notecard, 0 attempts remaining...")
	assert.Contains(t, out.String(), "[  60.0] warning: could not open Notecard attempt=1")
}
