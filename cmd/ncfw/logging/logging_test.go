package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsedPrefix(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	var out bytes.Buffer
	log := New(&out, start, false, WithNow(func() time.Time { return now }))

	log.Info("Opening Notecard")
	now = now.Add(12300 * time.Millisecond)
	log.WithField("attempt", 2).Warn("lost connection")
	log.Debug("hidden")

	assert.Equal(t, "[   0.0] Opening Notecard\n"+
		"[  12.3] warning: lost connection attempt=2\n", out.String())
}

func TestDebugLevel(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	log := New(&out, start, true, WithNow(func() time.Time { return start }))

	log.Debug("state: syncing")

	assert.Equal(t, "[   0.0] debug: state: syncing\n", out.String())
}
