package dfu

import (
	"context"
	"io"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
	"github.com/sirupsen/logrus"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) count(d time.Duration) int {
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// fakeNotecard answers Notecard requests from scripted responses. The last
// scripted version and status repeat once exhausted.
type fakeNotecard struct {
	versions []string
	statuses []card.Status
	// failures maps a request name to the err field of its response.
	failures map[string]string

	requests []map[string]interface{}
	polls    int
}

func (f *fakeNotecard) Transaction(req map[string]interface{}) (map[string]interface{}, error) {
	f.requests = append(f.requests, req)
	name, _ := req["req"].(string)
	if msg, ok := f.failures[name]; ok {
		return map[string]interface{}{"err": msg}, nil
	}
	switch name {
	case "card.version":
		v := f.versions[0]
		if len(f.versions) > 1 {
			f.versions = f.versions[1:]
		}
		return map[string]interface{}{"version": v}, nil
	case "dfu.status":
		if req["on"] != nil || req["off"] != nil {
			return map[string]interface{}{}, nil
		}
		f.polls++
		s := f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
		return map[string]interface{}(s), nil
	}
	return map[string]interface{}{}, nil
}

func (f *fakeNotecard) names() []string {
	var res []string
	for _, r := range f.requests {
		name := r["req"].(string)
		switch {
		case r["on"] != nil:
			name += " on"
		case r["off"] != nil:
			name += " off"
		case name == "env.set" && r["text"] != nil:
			name += " " + r["name"].(string) + "=" + r["text"].(string)
		case name == "env.set":
			name += " " + r["name"].(string)
		}
		res = append(res, name)
	}
	return res
}

func modes(ms ...string) []card.Status {
	var res []card.Status
	for _, m := range ms {
		res = append(res, card.Status{"mode": m})
	}
	return res
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testRequest() Request {
	req := DefaultRequest()
	req.Filename = "notecard-5.3.1.16292.bin"
	req.Version = "notecard-5.3.1.16292"
	return req
}
